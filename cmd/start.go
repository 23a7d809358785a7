package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yeah705-lgtm/ccs-sub003/internal/process"
	"github.com/yeah705-lgtm/ccs-sub003/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long:  `Start the gateway in the foreground for one router profile. It runs until interrupted or until 'ccs stop' is called.`,
	RunE:  runStart,
}

func init() {
	startCmd.Flags().StringP("profile", "p", "", "router profile to serve (default: active_profile)")
	startCmd.Flags().Int("port", 0, "listen port (default: port from config)")
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	profile, _ := cmd.Flags().GetString("profile")
	port := cfg.Port
	if cmd.Flags().Changed("port") {
		port, _ = cmd.Flags().GetInt("port")
	}

	procMgr := process.NewManager(baseDir)
	if procMgr.IsRunning() {
		return errAlreadyRunning
	}

	svc := service.New(logger)
	status, err := svc.Start(cfg, profile, port)
	if err != nil {
		return err
	}

	if err := procMgr.WritePID(); err != nil {
		_ = svc.Stop()
		return err
	}
	defer procMgr.Cleanup()

	if err := procMgr.WriteState(process.State{
		PID:       os.Getpid(),
		Profile:   status.Profile,
		Port:      status.Port,
		Addr:      status.Addr,
		StartedAt: status.StartedAt,
	}); err != nil {
		_ = svc.Stop()
		return err
	}

	color.Green("%s v%s serving profile %q on http://%s", AppName, Version, status.Profile, status.Addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	received := <-sig
	logger.Info("Shutting down", "signal", received.String())

	return svc.Stop()
}
