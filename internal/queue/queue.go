// Package queue holds the pending download links and drains them with a
// bounded worker pool.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/blockedby/tgsaver/internal/classify"
	"github.com/blockedby/tgsaver/internal/events"
	"github.com/blockedby/tgsaver/internal/fetcher"
	"github.com/blockedby/tgsaver/internal/link"
	"github.com/blockedby/tgsaver/internal/logger"
	"github.com/blockedby/tgsaver/internal/repository"
	"github.com/blockedby/tgsaver/internal/storage"
	"github.com/blockedby/tgsaver/internal/telegram"
)

// Status of an entry.
type Status string

// Entry statuses
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// errors
var (
	ErrEmptyQueue      = errors.New("queue has no pending links")
	ErrAlreadyDraining = errors.New("queue is already draining")
	ErrUnknownEntry    = errors.New("no such queue entry")
	ErrEntryBusy       = errors.New("entry is being downloaded")
)

// Fetcher is the subset of fetcher.Fetcher the queue needs.
type Fetcher interface {
	Fetch(ctx context.Context, ref link.Ref) (*telegram.Message, error)
	FetchMedia(ctx context.Context, chKey string, msg *telegram.Message, w io.Writer) (int64, error)
}

// Store persists classified records.
type Store interface {
	WriteText(rec classify.Record, source string, date time.Time) (storage.Result, error)
	WriteMedia(rec classify.Record, fill func(f *os.File) (int64, error)) (storage.Result, error)
}

// Recorder receives every persisted file.
type Recorder interface {
	Record(res storage.Result)
}

// History stores persisted files.
type History interface {
	Add(ctx context.Context, records ...repository.HistoryRecord) error
}

// Entry is a queued link.
type Entry struct {
	Ref       link.Ref  `json:"-"`
	Key       string    `json:"key"`
	Link      string    `json:"link"`
	Status    Status    `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	AddedAt   time.Time `json:"added_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type entry struct {
	Entry
	gen uint64
}

// Failure is one entry that could not be downloaded.
type Failure struct {
	Key       string      `json:"key"`
	Link      string      `json:"link"`
	Channel   string      `json:"channel"`
	MessageID int         `json:"message_id"`
	Kind      FailureKind `json:"kind"`
	Message   string      `json:"message"`
}

// FailureKind classifies failures for display.
type FailureKind string

// Failure kinds
const (
	FailRateLimited    FailureKind = "rate_limited"
	FailFetch          FailureKind = "fetch_failed"
	FailPersist        FailureKind = "persist_failed"
	FailUnclassifiable FailureKind = "unclassifiable"
)

// Details renders the failure for a "copy error details" action.
func (f Failure) Details() string {
	return fmt.Sprintf("link: %s\nchannel: %s\nmessage: %d\nkind: %s\nerror: %s",
		f.Link, f.Channel, f.MessageID, f.Kind, f.Message)
}

// BatchResult summarizes one Drain.
type BatchResult struct {
	RunID        string           `json:"run_id"`
	Succeeded    int              `json:"succeeded"`
	Failed       int              `json:"failed"`
	SkippedEmpty int              `json:"skipped_empty"`
	Pending      int              `json:"pending"`
	Failures     []Failure        `json:"failures"`
	Results      []storage.Result `json:"results"`
	Duration     time.Duration    `json:"duration"`
	Cancelled    bool             `json:"cancelled"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder sets the statistics sink.
func WithRecorder(r Recorder) Option { return func(m *Manager) { m.stats = r } }

// WithHistory sets the history sink.
func WithHistory(h History) Option { return func(m *Manager) { m.history = h } }

// WithEvents sets the event publisher.
func WithEvents(p events.Publisher) Option { return func(m *Manager) { m.bus = p } }

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option { return func(m *Manager) { m.log = l } }

// Manager is the download queue.
type Manager struct {
	mu         sync.Mutex
	entries    []*entry
	index      map[string]*entry
	generation uint64
	// claimed keys still downloading, including ones Reset dropped
	inflight map[string]int
	draining bool
	cancel   context.CancelFunc

	fetcher Fetcher
	store   Store
	stats   Recorder
	history History
	bus     events.Publisher
	log     *logger.Logger
	now     func() time.Time
}

// New creates an empty queue.
func New(f Fetcher, s Store, opts ...Option) *Manager {
	m := &Manager{
		index:    make(map[string]*entry),
		inflight: make(map[string]int),
		fetcher:  f,
		store:    s,
		log:      logger.Get().With("queue"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue parses raw and appends it.
// A link already pending or in progress is a no-op (false); a failed one is re-armed.
func (m *Manager) Enqueue(raw string) (Entry, bool, error) {
	ref, err := link.Parse(raw)
	if err != nil {
		return Entry{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := ref.Key()
	now := m.now()
	if _, busy := m.inflight[key]; busy {
		if e, ok := m.index[key]; ok {
			return e.Entry, false, nil
		}
		// dropped by Reset but still downloading
		return Entry{Ref: ref, Key: key, Link: ref.URL(), Status: StatusInProgress}, false, nil
	}
	if e, ok := m.index[key]; ok {
		if e.Status != StatusFailed {
			return e.Entry, false, nil
		}
		e.Status = StatusPending
		e.LastError = ""
		e.UpdatedAt = now
		return e.Entry, true, nil
	}

	e := &entry{
		Entry: Entry{
			Ref:       ref,
			Key:       key,
			Link:      ref.URL(),
			Status:    StatusPending,
			AddedAt:   now,
			UpdatedAt: now,
		},
		gen: m.generation,
	}
	m.entries = append(m.entries, e)
	m.index[key] = e
	m.log.Debug().Str("key", key).Msg("queue: link added")
	return e.Entry, true, nil
}

// EnqueueAll adds every link found in text. Unparseable candidates are returned
// as errors, duplicates are silently skipped.
func (m *Manager) EnqueueAll(text string) (int, []error) {
	added := 0
	var errs []error
	for _, raw := range link.ExtractAll(text) {
		_, ok, err := m.Enqueue(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			added++
		}
	}
	return added, errs
}

// Remove drops a pending or failed entry.
func (m *Manager) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.index[key]
	if !ok {
		return ErrUnknownEntry
	}
	if e.Status == StatusInProgress {
		return ErrEntryBusy
	}
	m.removeLocked(e)
	return nil
}

func (m *Manager) removeLocked(e *entry) {
	delete(m.index, e.Key)
	for i, x := range m.entries {
		if x == e {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

// Reset drops every entry. Entries being downloaded finish but are not re-added,
// and a running drain picks up nothing further.
func (m *Manager) Reset() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.entries)
	m.generation++
	m.entries = nil
	m.index = make(map[string]*entry)
	m.log.Info().Int("dropped", n).Msg("queue: reset")
	return n
}

// Entries returns a snapshot in FIFO order.
func (m *Manager) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Entry
	}
	return out
}

// Len returns the number of queued entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Draining reports whether a drain is running.
func (m *Manager) Draining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining
}

// Cancel stops a running drain after the in-flight items. Returns false if
// nothing was draining.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return false
	}
	m.cancel()
	return true
}

// Drain downloads every pending entry with up to workers goroutines.
// One failing entry never aborts the batch.
func (m *Manager) Drain(ctx context.Context, workers int) (*BatchResult, error) {
	if workers < 1 {
		workers = 1
	}

	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return nil, ErrAlreadyDraining
	}
	pending := m.countLocked(StatusPending)
	if pending == 0 {
		m.mu.Unlock()
		return nil, ErrEmptyQueue
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.draining = true
	m.cancel = cancel
	gen := m.generation
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		m.draining = false
		m.cancel = nil
		m.mu.Unlock()
	}()

	start := m.now()
	run := &runState{result: &BatchResult{RunID: uuid.NewString()}, total: pending}
	log := m.log.ForRun(run.result.RunID)
	log.Info().Int("pending", pending).Int("workers", workers).Msg("queue: drain started")
	m.publish(events.Event{RunID: run.result.RunID, Phase: events.PhaseDrain, Status: events.StatusStarted, Total: pending})

	// runCtx only gates pulling the next entry; an entry that was claimed
	// runs to completion even after Cancel or ctx is done
	work := context.WithoutCancel(ctx)
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i := 0; i < workers && i < pending; i++ {
		g.Go(func() error {
			for runCtx.Err() == nil {
				e, ok := m.next(gen, run)
				if !ok {
					return nil
				}
				m.process(work, gen, e, run)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := run.result
	res.Duration = m.now().Sub(start)
	res.Cancelled = runCtx.Err() != nil
	m.mu.Lock()
	if m.generation == gen {
		res.Pending = m.countLocked(StatusPending)
	}
	m.mu.Unlock()

	log.Info().Int("succeeded", res.Succeeded).Int("failed", res.Failed).
		Int("empty", res.SkippedEmpty).Int("pending", res.Pending).Bool("cancelled", res.Cancelled).
		Msg("queue: drain finished")
	run.mu.Lock()
	total := run.total
	run.mu.Unlock()
	m.publish(events.Event{
		RunID: res.RunID, Phase: events.PhaseDrain, Status: events.StatusFinished,
		Completed: res.Succeeded + res.Failed + res.SkippedEmpty, Total: total,
	})
	return res, nil
}

func (m *Manager) countLocked(s Status) int {
	n := 0
	for _, e := range m.entries {
		if e.Status == s {
			n++
		}
	}
	return n
}

// next claims the oldest pending entry of generation gen. Links enqueued
// while draining are picked up too, so the run total grows with them.
func (m *Manager) next(gen uint64, run *runState) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return nil, false
	}
	for _, e := range m.entries {
		if e.Status == StatusPending {
			e.Status = StatusInProgress
			e.UpdatedAt = m.now()
			m.inflight[e.Key]++
			run.claim(m.countLocked(StatusPending))
			return e, true
		}
	}
	return nil, false
}

type runState struct {
	mu      sync.Mutex
	result  *BatchResult
	total   int
	claimed int
	done    int
}

// claim counts one more claimed entry; pending is what is still waiting.
func (r *runState) claim(pending int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimed++
	if t := r.claimed + pending; t > r.total {
		r.total = t
	}
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeEmpty
	outcomeFailed
)

func (m *Manager) process(ctx context.Context, gen uint64, e *entry, run *runState) {
	ref := e.Ref
	runID := run.result.RunID

	results, empty, err := m.download(ctx, ref)

	var out outcome
	switch {
	case err != nil:
		out = outcomeFailed
	case empty:
		out = outcomeEmpty
	default:
		out = outcomeDone
	}

	m.finish(gen, e, out, err)

	if len(results) > 0 {
		m.record(ctx, runID, ref, results)
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	ev := events.Event{RunID: runID, Phase: events.PhaseDrain, ItemRef: ref.Key(), Total: run.total}
	run.done++
	ev.Completed = run.done
	switch out {
	case outcomeDone:
		run.result.Succeeded++
		run.result.Results = append(run.result.Results, results...)
		ev.Status = events.StatusDone
	case outcomeEmpty:
		run.result.SkippedEmpty++
		ev.Status = events.StatusEmpty
	case outcomeFailed:
		f := failureOf(ref, err)
		run.result.Failed++
		run.result.Failures = append(run.result.Failures, f)
		ev.Status = events.StatusFailed
		ev.Error = f.Message
		m.log.Warn().Err(err).Str("key", ref.Key()).Str("kind", string(f.Kind)).Msg("queue: download failed")
	}
	m.publish(ev)
}

// download fetches, classifies and persists one link.
func (m *Manager) download(ctx context.Context, ref link.Ref) ([]storage.Result, bool, error) {
	msg, err := m.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, false, err
	}

	chKey := ref.Channel.Key()
	c, err := classify.Classify(msg, ref.FilePrefix())
	if err != nil {
		return nil, false, err
	}
	if c.IsEmpty() {
		return nil, true, nil
	}

	var results []storage.Result
	for _, rec := range c.Records() {
		var (
			res storage.Result
			err error
		)
		if rec.Category.IsMedia() {
			res, err = m.store.WriteMedia(rec, func(f *os.File) (int64, error) {
				return m.fetcher.FetchMedia(ctx, chKey, msg, f)
			})
		} else {
			res, err = m.store.WriteText(rec, ref.URL(), msg.Date)
		}
		if err != nil {
			return results, false, err
		}
		results = append(results, res)
	}
	return results, false, nil
}

// finish moves the entry to its final state. Entries of an older generation
// were reset away and are left alone.
func (m *Manager) finish(gen uint64, e *entry, out outcome, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight[e.Key]--; m.inflight[e.Key] <= 0 {
		delete(m.inflight, e.Key)
	}
	if m.generation != gen || e.gen != gen {
		return
	}
	e.UpdatedAt = m.now()
	switch out {
	case outcomeDone, outcomeEmpty:
		e.Status = StatusDone
		m.removeLocked(e)
	case outcomeFailed:
		e.Status = StatusFailed
		e.LastError = err.Error()
	}
}

func (m *Manager) record(ctx context.Context, runID string, ref link.Ref, results []storage.Result) {
	if m.stats != nil {
		for _, r := range results {
			m.stats.Record(r)
		}
	}
	if m.history == nil {
		return
	}
	records := make([]repository.HistoryRecord, 0, len(results))
	for _, r := range results {
		records = append(records, repository.HistoryRecord{
			RunID:     runID,
			Kind:      repository.KindDownload,
			Channel:   ref.Channel.Key(),
			MessageID: ref.MessageID,
			Category:  string(r.Category),
			Path:      r.Path,
			Bytes:     r.Bytes,
			CreatedAt: m.now(),
		})
	}
	// files are on disk already, a cancelled drain still records them
	if err := m.history.Add(context.WithoutCancel(ctx), records...); err != nil {
		m.log.Error().Err(err).Str("key", ref.Key()).Msg("queue: failed to write history")
	}
}

func (m *Manager) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

func failureOf(ref link.Ref, err error) Failure {
	f := Failure{
		Key:       ref.Key(),
		Link:      ref.URL(),
		Channel:   ref.Channel.Key(),
		MessageID: ref.MessageID,
		Message:   err.Error(),
	}
	switch {
	case fetcher.KindOf(err) == fetcher.KindRateLimited:
		f.Kind = FailRateLimited
	case fetcher.KindOf(err) == fetcher.KindFetchFailed:
		f.Kind = FailFetch
	case errors.Is(err, storage.ErrPersist):
		f.Kind = FailPersist
	case errors.Is(err, classify.ErrUnclassifiable):
		f.Kind = FailUnclassifiable
	default:
		f.Kind = FailFetch
	}
	return f
}
