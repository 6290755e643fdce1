package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/app"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/config"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/log"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/store/sqlite"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "stroked",
		Short:         "Room/session broker for the Stroke of Deception game",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	root.AddCommand(serveCmd(&cfgPath), resetCmd(&cfgPath))
	return root
}

func serveCmd(cfgPath *string) *cobra.Command {
	var overrides config.Config

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootstrap := log.New("info")
			cfg, path, err := config.Load(bootstrap, *cfgPath)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(overrides)

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("config", path).Str("addr", cfg.Addr).Msg("starting broker")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if err := application.Run(ctx); err != nil {
				return err
			}
			logger.Info().Msg("broker stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&overrides.DatabasePath, "db", "", "path to the SQLite database")
	cmd.Flags().StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	return cmd
}

func resetCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Wipe all persisted room state",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New("info")
			cfg, _, err := config.Load(logger, *cfgPath)
			if err != nil {
				return err
			}

			st, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Reset(cmd.Context()); err != nil {
				return err
			}
			logger.Info().Str("db_path", cfg.DatabasePath).Msg("room state cleared")
			return nil
		},
	}
}
