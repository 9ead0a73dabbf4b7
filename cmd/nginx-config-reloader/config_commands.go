package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ByteInternet/nginx-config-reloader/internal/config"
	"github.com/ByteInternet/nginx-config-reloader/internal/daemonrun"
	"github.com/ByteInternet/nginx-config-reloader/internal/policy"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the reloader configuration",
	}
	configCmd.AddCommand(newConfigValidateCommand(ctx), newConfigInitCommand())
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := config.DefaultConfigPath()
			if trimmed := strings.TrimSpace(targetPath); trimmed != "" {
				expanded, err := config.ExpandPath(trimmed)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			if _, err := os.Stat(target); err == nil && !overwrite {
				return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
			} else if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("check config path: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set paths.watch_dir and reload.mode for this host, then run `nginx-config-reloader config validate`.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and show what the reloader will do with it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rules, err := policy.Rules(daemonrun.RuleOptions(cfg))
			if err != nil {
				return fmt.Errorf("compile screening rules: %w", err)
			}

			out := cmd.OutOrStdout()
			source := ctx.configPath
			if _, statErr := os.Stat(ctx.configPath); statErr != nil {
				source += " (not found, defaults used)"
			}
			fmt.Fprintf(out, "Config path: %s\n", source)
			fmt.Fprint(out, renderTable([]string{"Setting", "Value"}, configRows(cfg, rules), nil))
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func configRows(cfg *config.Config, rules []policy.Rule) [][]string {
	names := make([]string, 0, len(rules))
	for _, rule := range rules {
		names = append(names, rule.Name)
	}
	rows := [][]string{
		{"Watched dir", fmt.Sprintf("%s (recursive: %s)", cfg.Paths.WatchDir, yesNo(cfg.Watch.Recursive))},
		{"Error marker", cfg.ErrorFilePath()},
		{"Screening rules", strings.Join(names, ", ")},
		{"Reload", reloadDescription(cfg)},
	}
	if cfg.Features.CustomConfig {
		rows = append(rows,
			[]string{"Installed to", cfg.Paths.CustomConfigDir},
			[]string{"Backup", cfg.Paths.BackupConfigDir},
		)
	} else {
		rows = append(rows, []string{"Custom config", "disabled"})
	}
	if cfg.Features.MagentoConfig {
		rows = append(rows, []string{"Magento flag", cfg.Magento2FlagPath()})
	}
	rows = append(rows, []string{"Mount check", yesNo(cfg.Features.MountCheck)})
	if cfg.NATS.Server != "" {
		rows = append(rows, []string{"NATS", fmt.Sprintf("%s subject %s", cfg.NATS.Server, cfg.NATS.Subject)})
	}
	if cfg.History.Enabled {
		rows = append(rows, []string{"History", fmt.Sprintf("%s (keep %d)", cfg.History.Path, cfg.History.Keep)})
	}
	return rows
}

func reloadDescription(cfg *config.Config) string {
	if cfg.UseSystemd() {
		return fmt.Sprintf("%s reload %s", cfg.Reload.SystemctlBinary, cfg.Reload.Unit)
	}
	return "SIGHUP to the pid in " + cfg.Paths.PIDFile
}
