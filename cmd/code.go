package cmd

import (
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yeah705-lgtm/ccs-sub003/internal/process"
)

const gatewayStartTimeout = 10 * time.Second

var codeCmd = &cobra.Command{
	Use:   "code [claude args...]",
	Short: "Run Claude Code through the gateway",
	Long:  `Start the gateway if it is not running, then run Claude Code with ANTHROPIC_BASE_URL pointing at it. Arguments after the flags are passed to claude.`,
	Args:  cobra.ArbitraryArgs,
	RunE:  runCode,
}

func init() {
	codeCmd.Flags().StringP("profile", "p", "", "router profile for an auto-started gateway")
	codeCmd.Flags().SetInterspersed(false)
}

func runCode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var startArgs []string
	if profile, _ := cmd.Flags().GetString("profile"); profile != "" {
		startArgs = append(startArgs, "--profile", profile)
	}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		startArgs = append(startArgs, "--config", path)
	}

	procMgr := process.NewManager(baseDir)

	startedByUs, err := procMgr.StartServiceIfNeeded(gatewayStartTimeout, startArgs...)
	if err != nil {
		return err
	}

	state, ok := procMgr.ReadState()
	if !ok {
		return errNoGatewayState
	}

	if startedByUs {
		logger.Debug("Started gateway", "profile", state.Profile, "addr", state.Addr)
	}

	env := os.Environ()
	env = filterEnv(env, "ANTHROPIC_AUTH_TOKEN")
	env = filterEnv(env, "ANTHROPIC_API_KEY")
	env = filterEnv(env, "ANTHROPIC_BASE_URL")

	if cfg.APIKey != "" {
		env = append(env, "ANTHROPIC_API_KEY="+cfg.APIKey)
	} else {
		env = append(env, "ANTHROPIC_AUTH_TOKEN=ccs")
	}

	env = append(env, "ANTHROPIC_BASE_URL=http://"+state.Addr)
	env = append(env, "API_TIMEOUT_MS=600000")

	procMgr.IncrementRef()
	defer func() {
		procMgr.DecrementRef()
		if startedByUs && procMgr.ReadRef() == 0 {
			color.Yellow("No more active sessions, stopping auto-started gateway...")
			if err := procMgr.Stop(); err != nil {
				logger.Warn("Failed to stop gateway", "error", err)
			}
		}
	}()

	claudeCmd := exec.Command("claude", args...)
	claudeCmd.Env = env
	claudeCmd.Stdin = os.Stdin
	claudeCmd.Stdout = os.Stdout
	claudeCmd.Stderr = os.Stderr

	return claudeCmd.Run()
}

func filterEnv(env []string, key string) []string {
	prefix := key + "="

	filtered := env[:0:0]
	for _, e := range env {
		if !strings.HasPrefix(e, prefix) {
			filtered = append(filtered, e)
		}
	}

	return filtered
}
