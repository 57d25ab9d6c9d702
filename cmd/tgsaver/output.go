package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/blockedby/tgsaver/internal/classify"
	"github.com/blockedby/tgsaver/internal/events"
	"github.com/blockedby/tgsaver/internal/export"
	"github.com/blockedby/tgsaver/internal/queue"
	"github.com/blockedby/tgsaver/internal/repository"
	"github.com/blockedby/tgsaver/internal/stats"
)

// printProgress writes one line per finished item until ctx is done.
func printProgress(ctx context.Context, bus *events.Bus, w io.Writer) {
	bus.Pipe(ctx, 256, func(ev events.Event) {
		if ev.ItemRef == "" {
			return
		}
		switch ev.Status {
		case events.StatusDone:
			fmt.Fprintf(w, "  ok      %s (%d/%d)\n", ev.ItemRef, ev.Completed, ev.Total)
		case events.StatusEmpty:
			fmt.Fprintf(w, "  empty   %s (%d/%d)\n", ev.ItemRef, ev.Completed, ev.Total)
		case events.StatusFailed:
			fmt.Fprintf(w, "  failed  %s: %s\n", ev.ItemRef, ev.Error)
		}
	})
}

func printBatch(w io.Writer, res *queue.BatchResult) {
	fmt.Fprintf(w, "downloaded %d, failed %d, empty %d, pending %d in %s\n",
		res.Succeeded, res.Failed, res.SkippedEmpty, res.Pending, res.Duration.Round(1e6))
	if res.Cancelled {
		fmt.Fprintln(w, "cancelled, pending links stay queued")
	}
	for _, f := range res.Failures {
		fmt.Fprintf(w, "\n%s\n", f.Details())
	}
}

func printExport(w io.Writer, res *export.Result) {
	fmt.Fprintf(w, "exported %d of %d messages (%d missing, %d failed) to %s\n",
		res.Exported, res.Slots, res.Missing, res.Failed, res.File)
	if res.MediaFailed > 0 {
		fmt.Fprintf(w, "%d media files could not be downloaded\n", res.MediaFailed)
	}
	if res.PDF != "" {
		fmt.Fprintf(w, "pdf: %s\n", res.PDF)
	}
}

func printStats(w io.Writer, snap stats.Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Category", "Files", "Size"})
	for _, c := range classify.Categories {
		cs := snap.Categories[c]
		t.AppendRow(table.Row{string(c), cs.Files, humanize.IBytes(uint64(cs.Bytes))})
	}
	t.AppendFooter(table.Row{"Total", snap.TotalFiles, humanize.IBytes(uint64(snap.TotalBytes))})
	t.Render()

	if len(snap.Recent) > 0 {
		fmt.Fprintln(w, "recent:")
		for _, f := range snap.Recent {
			fmt.Fprintf(w, "  %s  %s  %s\n", humanize.Time(f.ModTime), humanize.IBytes(uint64(f.Bytes)), f.Path)
		}
	}
}

func printQueue(w io.Writer, entries []queue.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "queue is empty")
		return
	}
	for i, e := range entries {
		line := fmt.Sprintf("%3d. %-40s %s", i+1, e.Key, e.Status)
		if e.LastError != "" {
			line += "  " + e.LastError
		}
		fmt.Fprintln(w, line)
	}
}

func printHistory(w io.Writer, records []repository.HistoryRecord, counts map[string]int64) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"When", "Kind", "Channel", "Message", "Category", "Size", "Path"})
	for _, r := range records {
		msg := fmt.Sprint(r.MessageID)
		if r.Kind == repository.KindExport {
			msg = fmt.Sprintf("%d-%d", r.RangeFrom, r.RangeTo)
		}
		t.AppendRow(table.Row{
			r.CreatedAt.Format("2006-01-02 15:04"), r.Kind, r.Channel, msg,
			r.Category, humanize.IBytes(uint64(r.Bytes)), r.Path,
		})
	}
	t.Render()

	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "%s: %s\n", k, humanize.Comma(counts[k]))
	}
}
