package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yeah705-lgtm/ccs-sub003/internal/config"
	"github.com/yeah705-lgtm/ccs-sub003/internal/service"
	"github.com/yeah705-lgtm/ccs-sub003/internal/upstream"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Create, inspect and validate the gateway configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration interactively",
	Long:  `Create a configuration with one router profile by prompting for the provider and model of each tier.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Print the loaded configuration as YAML with secrets masked.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Check every router profile: providers must resolve, API keys must be present and fallback chains must not loop.`,
	RunE:  runConfigValidate,
}

func init() {
	configValidateCmd.Flags().StringP("profile", "p", "", "validate only this profile")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	if cfgMgr.Exists() {
		return fmt.Errorf("configuration already exists at %s", cfgMgr.GetPath())
	}

	color.Blue("%s configuration setup", AppName)
	color.Yellow("Managed providers: %s", strings.Join(upstream.ManagedProxyProviders, ", "))

	reader := bufio.NewReader(os.Stdin)
	prompt := func(label, fallback string) string {
		fmt.Printf("%s [%s]: ", label, fallback)
		line, _ := reader.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
		return fallback
	}

	profileName := prompt("Profile name", config.DefaultProfile)
	provider := prompt("Provider", "agy")
	if !upstream.IsManagedProxy(provider) {
		color.Yellow("%q is not a managed provider; add it under 'providers' before starting", provider)
	}

	tier := func(name, model string) config.TierConfig {
		return config.TierConfig{Provider: provider, Model: prompt(name+" model", model)}
	}

	profile := config.RouterProfile{
		Tiers: config.Tiers{
			Opus:   tier("Opus", "gemini-2.5-pro"),
			Sonnet: tier("Sonnet", "gemini-2.5-flash"),
			Haiku:  tier("Haiku", "gemini-2.5-flash-lite"),
		},
	}

	cfg := &config.Config{
		Host:          config.DefaultHost,
		Port:          config.DefaultPort,
		ActiveProfile: profileName,
		APIKey:        prompt("Gateway API key (optional)", ""),
		ManagedProxy:  config.ManagedProxy{BaseURL: config.DefaultManagedProxyURL},
		Profiles:      map[string]config.RouterProfile{profileName: profile},
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("save configuration: %w", err)
	}

	color.Green("Configuration saved to %s", cfgMgr.GetPath())
	color.Cyan("Start the gateway with: %s start", AppName)

	return nil
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	masked := *cfg
	masked.APIKey = maskString(cfg.APIKey)

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Errorf("marshal configuration: %w", err)
	}

	color.Blue("# %s", cfgMgr.GetPath())
	fmt.Print(string(data))

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	names := make([]string, 0, len(cfg.Profiles))
	if only, _ := cmd.Flags().GetString("profile"); only != "" {
		names = append(names, only)
	} else {
		for name := range cfg.Profiles {
			names = append(names, name)
		}
		slices.Sort(names)
	}

	var errs []error
	for _, name := range names {
		if _, err := service.Preflight(cfg, name); err != nil {
			errs = append(errs, err)
			color.Red("  ✗ %s", name)
			fmt.Printf("    %s\n", strings.ReplaceAll(err.Error(), "\n", "\n    "))
			continue
		}
		color.Green("  ✓ %s", name)
	}

	if len(errs) > 0 {
		return errors.New("configuration validation failed")
	}

	color.Green("Configuration is valid")
	return nil
}

func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
