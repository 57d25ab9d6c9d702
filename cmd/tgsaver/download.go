package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blockedby/tgsaver/internal/export"
)

func newDownloadCmd(opts *rootOptions) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "download [links...]",
		Short: "Download the given message links",
		Long:  "Download every t.me link given as an argument or found in --file (- reads stdin).",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, "\n")
			if fromFile != "" {
				body, err := readInput(cmd, fromFile)
				if err != nil {
					return err
				}
				text += "\n" + body
			}
			if strings.TrimSpace(text) == "" {
				return errors.New("no links given")
			}

			a, err := open(cmd.Context(), opts.cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			added, errs := a.service.EnqueueAll(text)
			for _, err := range errs {
				fmt.Fprintf(out, "skipped: %v\n", err)
			}
			if added == 0 {
				return errors.New("no valid links")
			}

			ctx, cancel := interruptible(cmd.Context())
			defer cancel()
			progressCtx, stopProgress := context.WithCancel(ctx)
			go printProgress(progressCtx, a.bus, out)

			res, err := a.service.Drain(ctx)
			stopProgress()
			if err != nil {
				return err
			}
			printBatch(out, res)
			if res.Failed > 0 {
				return fmt.Errorf("%d links failed", res.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "read links from a file, - for stdin")
	return cmd
}

func readInput(cmd *cobra.Command, name string) (string, error) {
	if name == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		return string(b), err
	}
	b, err := os.ReadFile(name)
	return string(b), err
}

func newExportCmd(opts *rootOptions, use, format string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <start link> <end link>",
		Short: fmt.Sprintf("Export every message between two links as %s", strings.ToUpper(format)),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			a, err := open(cmd.Context(), opts.cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := interruptible(cmd.Context())
			defer cancel()

			res, err := a.service.ExportFormat(ctx, args[0], args[1], f)
			if err != nil {
				return err
			}
			printExport(cmd.OutOrStdout(), res)
			return nil
		},
	}
}
