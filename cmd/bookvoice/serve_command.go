package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"bookvoice/internal/daemon"
	"bookvoice/internal/logging"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bookvoice daemon in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireSpeech(); err != nil {
				return err
			}
			if bind != "" {
				cfg.Paths.APIBind = bind
			} else if override := ctx.apiBind(); override != "" {
				cfg.Paths.APIBind = override
			}

			logger, err := logging.NewFromConfig(cfg, true)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			signalCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := daemon.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			defer d.Close()

			if err := d.Start(signalCtx); err != nil {
				return err
			}

			pidPath := filepath.Join(cfg.Paths.StateDir, "bookvoice.pid")
			if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
				logger.Warn("failed to write pid file", logging.Error(err), logging.String("path", pidPath))
			} else {
				defer os.Remove(pidPath)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "bookvoice daemon listening on %s\n", d.Addr())
			<-signalCtx.Done()
			logger.Info("shutdown requested")
			d.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (overrides paths.api_bind and --api)")
	return cmd
}
