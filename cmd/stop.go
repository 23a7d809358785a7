package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yeah705-lgtm/ccs-sub003/internal/process"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the gateway",
	Long:  `Stop the gateway started by 'ccs start' or 'ccs code'.`,
	RunE:  runStop,
}

func runStop(_ *cobra.Command, _ []string) error {
	procMgr := process.NewManager(baseDir)

	if !procMgr.IsRunning() {
		color.Yellow("Gateway is not running")
		return nil
	}

	color.Yellow("Stopping %s...", AppName)

	if err := procMgr.Stop(); err != nil {
		return err
	}

	procMgr.CleanupRef()

	color.Green("Gateway stopped")
	return nil
}
