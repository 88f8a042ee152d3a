// stubd CLI - service virtualization server.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/getstubd/stubd/pkg/config"
	"github.com/getstubd/stubd/pkg/logging"
	"github.com/getstubd/stubd/pkg/server"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "stubd",
		Short:         "stubd spins up fake network endpoints driven by declarative stubs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newValidateCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var (
		adminPort  int
		configPath string
		logLevel   string
		logFormat  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admin API and any imposters from a config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New(logging.Config{
				Level:  logging.ParseLevel(logLevel),
				Format: logging.ParseFormat(logFormat),
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			manager := server.NewManager(server.WithLogger(log))

			if configPath != "" {
				doc, err := config.LoadFromGlob(configPath)
				if err != nil {
					return err
				}
				for _, cfg := range doc.Imposters {
					if _, err := manager.Create(ctx, cfg); err != nil {
						manager.DeleteAll(cmd.Context())
						return fmt.Errorf("starting imposter %q: %w", cfg.Name, err)
					}
				}
			}

			admin := server.NewAdmin(manager, adminPort, log)
			if err := admin.Start(ctx); err != nil {
				manager.DeleteAll(cmd.Context())
				return err
			}

			<-ctx.Done()
			log.Info("shutting down")
			shutdownCtx := cmd.Context()
			manager.DeleteAll(shutdownCtx)
			return admin.Stop(shutdownCtx)
		},
	}

	cmd.Flags().IntVar(&adminPort, "port", 2525, "admin API port")
	cmd.Flags().StringVar(&configPath, "config", "", "imposter config file or glob (yaml/json)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file without starting anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := config.LoadFromGlob(configPath)
			if err != nil {
				return err
			}

			manager := server.NewManager()
			for i, cfg := range doc.Imposters {
				if err := manager.ValidateConfig(cfg); err != nil {
					return fmt.Errorf("imposters[%d]: %w", i, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d imposter(s) valid\n", len(doc.Imposters))
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "imposter config file or glob (yaml/json)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stubd %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}
