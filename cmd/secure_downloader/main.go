package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/italolelis/secure_downloader/internal/config"
	"github.com/italolelis/secure_downloader/internal/logctx"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd(os.Stdout).ExecuteContext(ctx)

	stop()

	if err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

// app is the state shared by every subcommand, populated before they run.
type app struct {
	cfg *config.Config
	ctx context.Context
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "secure_downloader",
		Short:         "Fetch authenticated, optionally encrypted resources to disk",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}

			logger := logctx.New(cfg.SlogLevel(), cfg.LogFile)
			slog.SetDefault(logger)

			a.cfg = cfg
			a.ctx = logctx.WithLogger(cmd.Context(), logger)

			return nil
		},
	}

	cmd.SetOut(out)

	cmd.AddCommand(
		newServeCmd(a),
		newFetchCmd(a, out),
		newSealCmd(out),
	)

	return cmd
}
