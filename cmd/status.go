package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yeah705-lgtm/ccs-sub003/internal/process"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Long:  `Report whether a gateway is active and, if so, its profile, port and uptime.`,
	Run:   runStatus,
}

func runStatus(_ *cobra.Command, _ []string) {
	procMgr := process.NewManager(baseDir)

	color.Blue("Status for %s:", AppName)

	state, ok := procMgr.ReadState()
	if !procMgr.IsRunning() || !ok {
		fmt.Printf("  %-15s: %s\n", "Active", color.YellowString("no"))
		fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
		return
	}

	fmt.Printf("  %-15s: %s\n", "Active", color.GreenString("yes"))
	fmt.Printf("  %-15s: %d\n", "PID", state.PID)
	fmt.Printf("  %-15s: %s\n", "Profile", state.Profile)
	fmt.Printf("  %-15s: %d\n", "Port", state.Port)
	fmt.Printf("  %-15s: http://%s\n", "Endpoint", state.Addr)
	fmt.Printf("  %-15s: %s\n", "Uptime", time.Since(state.StartedAt).Truncate(time.Second))
	fmt.Printf("  %-15s: %d\n", "Sessions", procMgr.ReadRef())
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-15s: v%s\n", "Version", Version)
}
