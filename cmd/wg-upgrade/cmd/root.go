package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/wg-upgrade/internal/config"
	"github.com/oshokin/wg-upgrade/internal/domain/upgrade"
	"github.com/oshokin/wg-upgrade/internal/logger"
	"github.com/oshokin/wg-upgrade/internal/repository/journal"
	service "github.com/oshokin/wg-upgrade/internal/service/upgrade"
	"github.com/oshokin/wg-upgrade/internal/version"
)

var errUnknownLogLevel = errors.New("unknown log level")

var (
	// configPath to the configuration YAML file.
	configPath string

	// logLevel overrides the level from the configuration file.
	logLevel string

	// settings are loaded once before any subcommand runs.
	settings *config.Config

	// rootCmd upgrades the WireGuard package, optionally to a pinned release.
	rootCmd = &cobra.Command{
		Use:   "wg-upgrade [version]",
		Short: "Upgrade the WireGuard package and carry its configuration across",
		Long: "Download the WireGuard package built for this board and firmware, install it and restore\n" +
			"the WireGuard configuration. Without a version the latest release is installed when newer.",
		Args:              cobra.MaximumNArgs(1),
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			result, err := service.Run(ctx, &service.Options{
				Version:  pin(args),
				Settings: settings,
			})
			if err != nil {
				return err
			}

			printResult(cmd.OutOrStdout(), result)

			return nil
		},
	}

	// checkCmd reports what would be installed.
	checkCmd = &cobra.Command{
		Use:   "check [version]",
		Short: "Show what an upgrade would install without changing anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := service.Check(cmd.Context(), &service.Options{
				Version:  pin(args),
				Settings: settings,
			})
			if err != nil {
				return err
			}

			printPlan(cmd.OutOrStdout(), plan)

			return nil
		},
	}

	// lastRunCmd prints the journal of the previous run.
	lastRunCmd = &cobra.Command{
		Use:   "last-run",
		Short: "Print the summary of the previous upgrade run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			record, err := service.LastRun(cmd.Context(), &service.Options{Settings: settings})
			if err != nil {
				if errors.Is(err, journal.ErrNotFound) {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no upgrade has run yet")

					return nil
				}

				return err
			}

			data, err := journal.Encode(record)
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(data)

			return err
		},
	}
)

// Execute runs the wg-upgrade CLI and exits with the status of the failure kind.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	err := rootCmd.ExecuteContext(context.Background())

	logger.Sync()

	if err == nil {
		return
	}

	if upgrade.IsHighSeverity(err) {
		_, _ = fmt.Fprintln(os.Stderr, "CRITICAL: the package is installed but the WireGuard configuration was NOT restored")
	}

	_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	os.Exit(upgrade.ExitCode(err))
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(checkCmd, lastRunCmd)
}

// setup loads settings and applies the log level.
func setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	settings = cfg

	level := logLevel
	if level == "" {
		level = cfg.LogLevel
	}

	if level == "" {
		return nil
	}

	parsed, ok := logger.ParseLogLevel(level)
	if !ok {
		return fmt.Errorf("%q: %w", level, errUnknownLogLevel)
	}

	logger.SetLevel(parsed)

	return nil
}

func pin(args []string) string {
	if len(args) == 0 {
		return ""
	}

	return args[0]
}

func printResult(w io.Writer, result upgrade.Result) {
	switch result.Status {
	case upgrade.StatusUpToDate:
		_, _ = fmt.Fprintf(w, "wireguard %s is up to date\n", result.InstalledVersion)
	default:
		_, _ = fmt.Fprintf(w, "installed %s (%s)", result.TargetVersion, result.Asset)
		if result.ConfigRestored {
			_, _ = fmt.Fprint(w, ", configuration restored")
		}

		_, _ = fmt.Fprintln(w)
	}

	for _, warning := range result.Warnings {
		_, _ = fmt.Fprintf(w, "warning: %v\n", warning)
	}
}

func printPlan(w io.Writer, plan service.Plan) {
	installed := plan.Decision.Installed
	if installed == "" {
		installed = "(none)"
	}

	action := "none"
	if plan.Decision.UpgradeNeeded {
		action = "install"
	}

	_, _ = fmt.Fprintf(w, "board:     %s (raw %s)\n", plan.Profile.Board, plan.Profile.RawBoard)
	_, _ = fmt.Fprintf(w, "firmware:  %s (%s)\n", plan.Profile.FirmwareVersion, plan.Profile.Generation)
	_, _ = fmt.Fprintf(w, "installed: %s\n", installed)
	_, _ = fmt.Fprintf(w, "release:   %s\n", plan.Decision.Release.Tag)

	if plan.Asset.Name != "" {
		_, _ = fmt.Fprintf(w, "asset:     %s\n", plan.Asset.Name)
	}

	_, _ = fmt.Fprintf(w, "action:    %s\n", action)
}
