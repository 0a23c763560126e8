package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/secure_downloader/internal/transfer"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type fetchOptions struct {
	fileName    string
	displayName string
	thumbnail   bool
	scr         string
	dir         string
	parallel    int
}

func newFetchCmd(a *app, out io.Writer) *cobra.Command {
	var opts fetchOptions

	cmd := &cobra.Command{
		Use:   "fetch URL...",
		Short: "Download one or more resources and wait for them to finish",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.fileName != "" && len(args) > 1 {
				return fmt.Errorf("--file-name can only be used with a single URL")
			}

			if opts.parallel < 1 {
				return fmt.Errorf("--parallel must be at least 1")
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.dir
			if dir == "" {
				dir = a.cfg.ResolveDownloadDir()
			}

			coord := transfer.NewCoordinator(transfer.Options{
				Client:     newTransferClient(a.cfg),
				Tokens:     transfer.StaticToken(a.cfg.AccessToken),
				TargetDir:  dir,
				SizeHeader: a.cfg.SizeHeader,
			})
			defer coord.Close()

			return fetch(a.ctx, coord, out, args, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.fileName, "file-name", "", "final file name of an encrypted resource; requires --scr")
	f.StringVar(&opts.displayName, "display-name", "", "name used after the random id when --file-name is not set")
	f.BoolVar(&opts.thumbnail, "thumbnail", false, "mark the download as a thumbnail")
	f.StringVar(&opts.scr, "scr", "", "secure content reference JSON of an encrypted resource")
	f.StringVar(&opts.dir, "dir", "", "target directory (defaults to DOWNLOAD_DIR)")
	f.IntVar(&opts.parallel, "parallel", 2, "maximum number of concurrent downloads")

	return cmd
}

func fetch(ctx context.Context, coord *transfer.Coordinator, out io.Writer, sources []string, opts fetchOptions) error {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)

	g.SetLimit(opts.parallel)

	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()

		fmt.Fprintf(out, format, args...)
	}

	for _, source := range sources {
		req := transfer.NewRequest(source)
		req.FileName = opts.fileName
		req.DisplayName = opts.displayName
		req.Thumbnail = opts.thumbnail
		req.SecureContentRef = opts.scr

		label := transfer.RedactSource(source)

		g.Go(func() error {
			lastPercent := -1

			h := coord.Start(ctx, req, func(p transfer.Progress) {
				percent := int(p.Fraction * 100)
				if percent == lastPercent {
					return
				}

				lastPercent = percent

				printf("%s: %s / %s (%d%%)\n", label, humanize.IBytes(uint64(p.Written)), humanize.IBytes(uint64(p.Total)), percent)
			}, nil)

			<-h.Done()

			if h.State() == transfer.StateCancelled {
				printf("%s: cancelled\n", label)

				return fmt.Errorf("%s: %w", label, context.Canceled)
			}

			res := h.Result()
			if res.Err != nil {
				printf("%s: failed: %v\n", label, res.Err)

				return fmt.Errorf("%s: %w", label, res.Err)
			}

			printf("%s: saved to %s\n", label, res.Path)

			return nil
		})
	}

	return g.Wait()
}
