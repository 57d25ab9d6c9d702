// Package collector is the command surface shared by the CLI and the HTTP API.
package collector

import (
	"context"
	"errors"
	"fmt"

	"github.com/blockedby/tgsaver/internal/export"
	"github.com/blockedby/tgsaver/internal/link"
	"github.com/blockedby/tgsaver/internal/logger"
	"github.com/blockedby/tgsaver/internal/queue"
	"github.com/blockedby/tgsaver/internal/repository"
	"github.com/blockedby/tgsaver/internal/stats"
	"github.com/blockedby/tgsaver/internal/telegram"
	"github.com/blockedby/tgsaver/internal/walker"
)

// ErrHistoryDisabled is returned when no database is configured.
var ErrHistoryDisabled = errors.New("history is not available without a database")

// HistoryLister reads persisted history.
type HistoryLister interface {
	List(ctx context.Context, f repository.HistoryFilter) ([]repository.HistoryRecord, error)
}

// StatusProvider reports the remote session state.
type StatusProvider interface {
	GetStatus() telegram.Status
}

// Deps are the collaborators of a Service. History and Status may be nil.
type Deps struct {
	Queue    *queue.Manager
	Walker   *walker.Walker
	Exporter *export.Exporter
	Stats    *stats.Tracker
	History  HistoryLister
	Status   StatusProvider
	Workers  int
	Log      *logger.Logger
}

// Service wires queue, walker and exporter behind one API.
type Service struct {
	queue    *queue.Manager
	walker   *walker.Walker
	exporter *export.Exporter
	stats    *stats.Tracker
	history  HistoryLister
	status   StatusProvider
	workers  int
	log      *logger.Logger
}

// NewService creates a new collector service
func NewService(d Deps) *Service {
	s := &Service{
		queue:    d.Queue,
		walker:   d.Walker,
		exporter: d.Exporter,
		stats:    d.Stats,
		history:  d.History,
		status:   d.Status,
		workers:  d.Workers,
		log:      d.Log,
	}
	if s.workers < 1 {
		s.workers = 4
	}
	if s.log == nil {
		s.log = logger.Get().With("collector")
	}
	return s
}

// Enqueue adds one link.
func (s *Service) Enqueue(raw string) (queue.Entry, bool, error) {
	return s.queue.Enqueue(raw)
}

// EnqueueAll adds every link found in text.
func (s *Service) EnqueueAll(text string) (int, []error) {
	return s.queue.EnqueueAll(text)
}

// Remove drops an entry by key.
func (s *Service) Remove(key string) error {
	return s.queue.Remove(key)
}

// Entries lists the queue.
func (s *Service) Entries() []queue.Entry {
	return s.queue.Entries()
}

// Reset clears the queue.
func (s *Service) Reset() int {
	return s.queue.Reset()
}

// Drain downloads everything pending.
func (s *Service) Drain(ctx context.Context) (*queue.BatchResult, error) {
	return s.queue.Drain(ctx, s.workers)
}

// Cancel stops a running drain.
func (s *Service) Cancel() bool {
	return s.queue.Cancel()
}

// Draining reports whether a drain is running.
func (s *Service) Draining() bool {
	return s.queue.Draining()
}

// Export writes an HTML archive of the range between two links.
func (s *Service) Export(ctx context.Context, start, end string) (*export.Result, error) {
	return s.ExportFormat(ctx, start, end, export.FormatHTML)
}

// ExportJSON writes a JSON archive of the range between two links.
func (s *Service) ExportJSON(ctx context.Context, start, end string) (*export.Result, error) {
	return s.ExportFormat(ctx, start, end, export.FormatJSON)
}

// ExportFormat walks the range and writes it in the given format.
func (s *Service) ExportFormat(ctx context.Context, start, end string, format export.Format) (*export.Result, error) {
	startRef, err := link.Parse(start)
	if err != nil {
		return nil, fmt.Errorf("start link: %w", err)
	}
	endRef, err := link.Parse(end)
	if err != nil {
		return nil, fmt.Errorf("end link: %w", err)
	}

	s.log.Info().Str("channel", startRef.Channel.Key()).Int("start", startRef.MessageID).
		Int("end", endRef.MessageID).Str("format", string(format)).Msg("collector: export requested")

	job, err := s.walker.Walk(ctx, startRef, endRef)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, job, format)
}

// Stats returns the statistics snapshot.
func (s *Service) Stats() stats.Snapshot {
	return s.stats.Snapshot()
}

// History lists download and export history.
func (s *Service) History(ctx context.Context, f repository.HistoryFilter) ([]repository.HistoryRecord, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.List(ctx, f)
}

// TelegramStatus returns the remote session state.
func (s *Service) TelegramStatus() telegram.Status {
	if s.status == nil {
		return "UNKNOWN"
	}
	return s.status.GetStatus()
}
