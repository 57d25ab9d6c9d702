// Package export writes walked message ranges to JSON or HTML archives.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blockedby/tgsaver/internal/classify"
	"github.com/blockedby/tgsaver/internal/events"
	"github.com/blockedby/tgsaver/internal/logger"
	"github.com/blockedby/tgsaver/internal/repository"
	"github.com/blockedby/tgsaver/internal/storage"
	"github.com/blockedby/tgsaver/internal/telegram"
	"github.com/blockedby/tgsaver/internal/walker"
)

// Format is the archive type.
type Format string

// Formats
const (
	FormatHTML Format = "html"
	FormatJSON Format = "json"
)

// ParseFormat accepts "html" and "json", empty means html.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// MediaFetcher streams media bytes; fetcher.Fetcher implements it.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, chKey string, msg *telegram.Message, w io.Writer) (int64, error)
}

// Recorder receives every written file.
type Recorder interface {
	Record(res storage.Result)
}

// History stores written files.
type History interface {
	Add(ctx context.Context, records ...repository.HistoryRecord) error
}

// Renderer turns a written index.html into a PDF next to it.
type Renderer interface {
	RenderFile(ctx context.Context, htmlPath, pdfPath string) error
}

// Result describes one written archive.
type Result struct {
	RunID       string           `json:"run_id"`
	Format      Format           `json:"format"`
	Dir         string           `json:"dir"`
	File        string           `json:"file"`
	PDF         string           `json:"pdf,omitempty"`
	Slots       int              `json:"slots"`
	Exported    int              `json:"exported"`
	Missing     int              `json:"missing"`
	Failed      int              `json:"failed"`
	MediaFailed int              `json:"media_failed"`
	Files       []storage.Result `json:"files"`
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithMediaWorkers sets the media download pool size.
func WithMediaWorkers(n int) Option { return func(e *Exporter) { e.workers = n } }

// WithRecorder sets the statistics sink.
func WithRecorder(r Recorder) Option { return func(e *Exporter) { e.stats = r } }

// WithHistory sets the history sink.
func WithHistory(h History) Option { return func(e *Exporter) { e.history = h } }

// WithEvents sets the event publisher.
func WithEvents(p events.Publisher) Option { return func(e *Exporter) { e.bus = p } }

// WithPDF enables PDF rendering of HTML exports.
func WithPDF(r Renderer) Option { return func(e *Exporter) { e.pdf = r } }

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option { return func(e *Exporter) { e.log = l } }

// Exporter writes archives into the exports folder of a store.
type Exporter struct {
	fetcher MediaFetcher
	store   *storage.Store
	workers int
	stats   Recorder
	history History
	bus     events.Publisher
	pdf     Renderer
	log     *logger.Logger
	now     func() time.Time
}

// New creates an Exporter.
func New(f MediaFetcher, store *storage.Store, opts ...Option) *Exporter {
	e := &Exporter{
		fetcher: f,
		store:   store,
		workers: 2,
		log:     logger.Get().With("export"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		e.workers = 1
	}
	return e
}

// Export dispatches on format.
func (e *Exporter) Export(ctx context.Context, job *walker.Job, format Format) (*Result, error) {
	switch format {
	case FormatJSON:
		return e.JSON(ctx, job)
	case FormatHTML, "":
		return e.HTML(ctx, job)
	}
	return nil, fmt.Errorf("unknown export format %q", format)
}

func (e *Exporter) newResult(job *walker.Job, format Format, at time.Time) (*Result, error) {
	if job == nil {
		return nil, fmt.Errorf("export: nil job")
	}
	dir, err := e.store.ExportDir(job.ChannelKey(), job.Start, job.End, at)
	if err != nil {
		return nil, err
	}
	return &Result{
		RunID:    job.RunID,
		Format:   format,
		Dir:      dir,
		Slots:    job.Len(),
		Exported: len(job.Present()),
		Missing:  len(job.MissingIDs()),
		Failed:   len(job.FailedIDs()),
	}, nil
}

// writeFile writes body into dir/name through a temp file.
func (e *Exporter) writeFile(res *Result, name string, body []byte) (string, error) {
	path := filepath.Join(res.Dir, name)
	n, err := storage.AtomicWrite(path, func(f *os.File) (int64, error) {
		n, err := f.Write(body)
		return int64(n), err
	})
	if err != nil {
		return "", err
	}
	res.Files = append(res.Files, storage.Result{Path: path, Bytes: n, Category: classify.Export})
	return path, nil
}

// finish records every written file and publishes the finished event.
func (e *Exporter) finish(ctx context.Context, job *walker.Job, res *Result) {
	if e.stats != nil {
		for _, f := range res.Files {
			e.stats.Record(f)
		}
	}
	if e.history != nil {
		records := make([]repository.HistoryRecord, 0, len(res.Files))
		for _, f := range res.Files {
			records = append(records, repository.HistoryRecord{
				RunID:     res.RunID,
				Kind:      repository.KindExport,
				Channel:   job.ChannelKey(),
				RangeFrom: job.Start,
				RangeTo:   job.End,
				Category:  string(classify.Export),
				Path:      f.Path,
				Bytes:     f.Bytes,
				CreatedAt: e.now(),
			})
		}
		if err := e.history.Add(context.WithoutCancel(ctx), records...); err != nil {
			e.log.ForRun(res.RunID).Error().Err(err).Str("dir", res.Dir).Msg("export: failed to write history")
		}
	}

	e.log.ForRun(res.RunID).Info().Str("format", string(res.Format)).Str("path", res.File).
		Int("exported", res.Exported).Int("missing", res.Missing).Int("failed", res.Failed).
		Int("media_failed", res.MediaFailed).Msg("export: archive written")
	e.publish(events.Event{
		RunID:     res.RunID,
		Phase:     events.PhaseExport,
		ItemRef:   res.File,
		Status:    events.StatusFinished,
		Completed: res.Exported,
		Total:     res.Slots,
	})
}

func (e *Exporter) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
