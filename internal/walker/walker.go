// Package walker fetches every message id of a channel range into ordered slots.
package walker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/blockedby/tgsaver/internal/events"
	"github.com/blockedby/tgsaver/internal/link"
	"github.com/blockedby/tgsaver/internal/logger"
	"github.com/blockedby/tgsaver/internal/telegram"
)

// ErrInvalidRange is returned before any network access when the two links
// do not describe a walkable range.
var ErrInvalidRange = errors.New("invalid message range")

// defaults
const (
	DefaultWorkers  = 2
	DefaultMaxRange = 5000
)

// Fetcher is the subset of fetcher.Fetcher the walker needs.
type Fetcher interface {
	FetchID(ctx context.Context, chRef link.ChannelRef, id int) (*telegram.Message, error)
}

// Job is the result of one walk. Messages[i] holds id Start+i, nil when the
// message is missing or could not be fetched.
type Job struct {
	RunID    string
	Channel  link.ChannelRef
	Start    int
	End      int
	Messages []*telegram.Message
	Errors   map[int]error

	mu sync.Mutex
}

// ChannelKey returns the channel key used in file names.
func (j *Job) ChannelKey() string {
	return j.Channel.Key()
}

// Len is the number of slots.
func (j *Job) Len() int {
	return len(j.Messages)
}

// Message returns the message with the given id or nil.
func (j *Job) Message(id int) *telegram.Message {
	if id < j.Start || id > j.End {
		return nil
	}
	return j.Messages[id-j.Start]
}

// Present returns the fetched messages in ascending id order.
func (j *Job) Present() []*telegram.Message {
	out := make([]*telegram.Message, 0, len(j.Messages))
	for _, m := range j.Messages {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// MissingIDs lists ids that were deleted or inaccessible.
func (j *Job) MissingIDs() []int {
	var out []int
	for i, m := range j.Messages {
		id := j.Start + i
		if m == nil {
			if _, failed := j.Errors[id]; !failed {
				out = append(out, id)
			}
		}
	}
	return out
}

// FailedIDs lists ids whose fetch failed, ascending.
func (j *Job) FailedIDs() []int {
	out := make([]int, 0, len(j.Errors))
	for id := range j.Errors {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func (j *Job) set(id int, msg *telegram.Message, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err != nil {
		j.Errors[id] = err
		return
	}
	j.Messages[id-j.Start] = msg
}

// Option configures a Walker.
type Option func(*Walker)

// WithWorkers sets the pool size.
func WithWorkers(n int) Option { return func(w *Walker) { w.workers = n } }

// WithMaxRange caps the number of ids in one walk.
func WithMaxRange(n int) Option { return func(w *Walker) { w.maxRange = n } }

// WithEvents sets the event publisher.
func WithEvents(p events.Publisher) Option { return func(w *Walker) { w.bus = p } }

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option { return func(w *Walker) { w.log = l } }

// Walker walks message ranges.
type Walker struct {
	fetcher  Fetcher
	workers  int
	maxRange int
	bus      events.Publisher
	log      *logger.Logger
}

// New creates a Walker.
func New(f Fetcher, opts ...Option) *Walker {
	w := &Walker{
		fetcher:  f,
		workers:  DefaultWorkers,
		maxRange: DefaultMaxRange,
		log:      logger.Get().With("walker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.workers < 1 {
		w.workers = 1
	}
	return w
}

// Validate checks that start and end form a range in one channel.
func Validate(start, end link.Ref, maxRange int) error {
	if start.IsStory() || end.IsStory() {
		return fmt.Errorf("%w: story links cannot form a range", ErrInvalidRange)
	}
	if !link.SameChannel(start, end) {
		return fmt.Errorf("%w: links point to different channels (%s, %s)", ErrInvalidRange, start.Channel, end.Channel)
	}
	if start.MessageID > end.MessageID {
		return fmt.Errorf("%w: start %d is after end %d", ErrInvalidRange, start.MessageID, end.MessageID)
	}
	if n := end.MessageID - start.MessageID + 1; maxRange > 0 && n > maxRange {
		return fmt.Errorf("%w: %d messages exceeds the limit of %d", ErrInvalidRange, n, maxRange)
	}
	return nil
}

// Walk fetches every id from start to end inclusive.
// Per-id failures land in Job.Errors and never abort the walk. On
// cancellation the partial job is returned together with ctx.Err().
func (w *Walker) Walk(ctx context.Context, start, end link.Ref) (*Job, error) {
	if err := Validate(start, end, w.maxRange); err != nil {
		return nil, err
	}

	total := end.MessageID - start.MessageID + 1
	job := &Job{
		RunID:    uuid.NewString(),
		Channel:  start.Channel,
		Start:    start.MessageID,
		End:      end.MessageID,
		Messages: make([]*telegram.Message, total),
		Errors:   make(map[int]error),
	}

	log := w.log.ForRun(job.RunID)
	log.Info().Str("channel", job.ChannelKey()).
		Int("start", job.Start).Int("end", job.End).Int("workers", w.workers).Msg("walker: range started")
	w.publish(events.Event{RunID: job.RunID, Phase: events.PhaseWalk, Status: events.StatusStarted, Total: total})

	var (
		mu        sync.Mutex
		completed int
	)
	// ctx stops new ids from starting; a fetch already running completes
	work := context.WithoutCancel(ctx)
	g := new(errgroup.Group)
	g.SetLimit(w.workers)
	for id := job.Start; id <= job.End; id++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			msg, err := w.fetcher.FetchID(work, job.Channel, id)

			ev := events.Event{
				RunID:   job.RunID,
				Phase:   events.PhaseWalk,
				ItemRef: fmt.Sprintf("%s/%d", job.ChannelKey(), id),
				Total:   total,
			}
			switch {
			case err != nil:
				job.set(id, nil, err)
				ev.Status = events.StatusFailed
				ev.Error = err.Error()
				log.Warn().Err(err).Str("channel", job.ChannelKey()).Int("message_id", id).Msg("walker: fetch failed")
			case msg == nil || msg.IsEmpty():
				ev.Status = events.StatusEmpty
			default:
				job.set(id, msg, nil)
				ev.Status = events.StatusDone
			}

			mu.Lock()
			completed++
			ev.Completed = completed
			mu.Unlock()
			w.publish(ev)
			return nil
		})
	}
	_ = g.Wait()

	log.Info().Int("present", len(job.Present())).
		Int("missing", len(job.MissingIDs())).Int("failed", len(job.Errors)).Msg("walker: range finished")
	w.publish(events.Event{RunID: job.RunID, Phase: events.PhaseWalk, Status: events.StatusFinished, Completed: completed, Total: total})

	if err := ctx.Err(); err != nil {
		return job, err
	}
	return job, nil
}

func (w *Walker) publish(ev events.Event) {
	if w.bus != nil {
		w.bus.Publish(ev)
	}
}
