package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blockedby/tgsaver/internal/collector"
	"github.com/blockedby/tgsaver/internal/events"
	"github.com/blockedby/tgsaver/internal/export"
	"github.com/blockedby/tgsaver/internal/queue"
)

const promptHelp = `paste t.me links to queue them
  <enter>          download everything queued
  r                reset the queue
  list             show the queue
  stats            show download statistics
  export <a> <b>   export the range between two links as html
  json <a> <b>     export the range as json
  exit             quit
ctrl+c during a download cancels it, queued links stay`

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Interactive prompt: paste links, press enter to download",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd.Context(), opts.cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			p := &prompt{svc: a.service, bus: a.bus, out: cmd.OutOrStdout()}
			return p.run(cmd.Context(), cmd.InOrStdin())
		},
	}
}

// prompt is the interactive loop behind watch.
type prompt struct {
	svc *collector.Service
	bus *events.Bus
	out io.Writer
}

func (p *prompt) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(p.out, promptHelp)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprintf(p.out, "[%d queued]> ", len(p.svc.Entries()))
		if !scanner.Scan() {
			fmt.Fprintln(p.out)
			return scanner.Err()
		}
		if quit := p.handle(ctx, scanner.Text()); quit {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// handle runs one input line and reports whether the loop should end.
func (p *prompt) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	cmd := ""
	if len(fields) > 0 {
		cmd = strings.ToLower(fields[0])
	}

	switch {
	case line == "":
		p.drain(ctx)
	case cmd == "exit" || cmd == "quit" || cmd == "q":
		return true
	case cmd == "r" || cmd == "reset":
		fmt.Fprintf(p.out, "dropped %d links\n", p.svc.Reset())
	case cmd == "list" || cmd == "ls":
		printQueue(p.out, p.svc.Entries())
	case cmd == "stats":
		printStats(p.out, p.svc.Stats())
	case cmd == "help" || cmd == "?":
		fmt.Fprintln(p.out, promptHelp)
	case cmd == "export" || cmd == "json":
		if len(fields) != 3 {
			fmt.Fprintf(p.out, "usage: %s <start link> <end link>\n", cmd)
			return false
		}
		format := export.FormatHTML
		if cmd == "json" {
			format = export.FormatJSON
		}
		p.export(ctx, fields[1], fields[2], format)
	default:
		p.enqueue(line)
	}
	return false
}

func (p *prompt) enqueue(text string) {
	added, errs := p.svc.EnqueueAll(text)
	for _, err := range errs {
		fmt.Fprintf(p.out, "  skipped: %v\n", err)
	}
	switch {
	case added > 0:
		fmt.Fprintf(p.out, "queued %d\n", added)
	case len(errs) == 0 && strings.Contains(text, "t.me/"):
		fmt.Fprintln(p.out, "already queued")
	case len(errs) == 0:
		fmt.Fprintln(p.out, "no links found, type help for commands")
	}
}

// interruptible returns a context that ctrl+c cancels without ending the program.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt)
}

func (p *prompt) drain(ctx context.Context) {
	runCtx, cancel := interruptible(ctx)
	defer cancel()

	progressCtx, stopProgress := context.WithCancel(runCtx)
	go printProgress(progressCtx, p.bus, p.out)

	res, err := p.svc.Drain(runCtx)
	stopProgress()
	switch {
	case errors.Is(err, queue.ErrEmptyQueue):
		fmt.Fprintln(p.out, "queue is empty")
		return
	case err != nil && res == nil:
		fmt.Fprintf(p.out, "download failed: %v\n", err)
		return
	}
	printBatch(p.out, res)
}

func (p *prompt) export(ctx context.Context, start, end string, format export.Format) {
	runCtx, cancel := interruptible(ctx)
	defer cancel()

	res, err := p.svc.ExportFormat(runCtx, start, end, format)
	if err != nil {
		fmt.Fprintf(p.out, "export failed: %v\n", err)
		return
	}
	printExport(p.out, res)
}
