// Package fetcher is the only component that talks to the remote service.
// It resolves channels once, paces retries on FLOOD_WAIT and transport errors,
// and turns missing messages into empty sentinels.
package fetcher

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/blockedby/tgsaver/internal/config"
	"github.com/blockedby/tgsaver/internal/link"
	"github.com/blockedby/tgsaver/internal/logger"
	"github.com/blockedby/tgsaver/internal/telegram"
)

// Service is the remote chat protocol session.
// telegram.Client implements it; tests use scripted doubles.
type Service interface {
	ResolveChannel(ctx context.Context, ref link.ChannelRef) (*telegram.Channel, error)
	GetMessage(ctx context.Context, channel *telegram.Channel, id int) (*telegram.Message, error)
	GetStory(ctx context.Context, channel *telegram.Channel, id int) (*telegram.Message, error)
	DownloadMedia(ctx context.Context, media *telegram.Media, w io.Writer) (int64, error)
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Policy controls retries.
type Policy struct {
	FloodWaitCap     time.Duration // longest single pause after FLOOD_WAIT
	FloodMaxAttempts int           // calls that may hit FLOOD_WAIT before giving up
	TransportRetries int           // retries after the first transport failure
	TransportBackoff time.Duration // constant pause between transport retries
}

// DefaultPolicy returns the built-in retry policy.
func DefaultPolicy() Policy {
	return Policy{
		FloodWaitCap:     300 * time.Second,
		FloodMaxAttempts: 5,
		TransportRetries: 3,
		TransportBackoff: 500 * time.Millisecond,
	}
}

// PolicyFromConfig reads the retry settings from config.
func PolicyFromConfig(cfg *config.Config) Policy {
	p := DefaultPolicy()
	if cfg == nil {
		return p
	}
	if d := cfg.FloodWaitCap(); d > 0 {
		p.FloodWaitCap = d
	}
	if cfg.FloodMaxAttempts > 0 {
		p.FloodMaxAttempts = cfg.FloodMaxAttempts
	}
	if cfg.TransportRetries >= 0 {
		p.TransportRetries = cfg.TransportRetries
	}
	if d := cfg.TransportBackoff(); d > 0 {
		p.TransportBackoff = d
	}
	return p
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithSleeper replaces the real clock, used by tests.
func WithSleeper(s Sleeper) Option {
	return func(f *Fetcher) { f.sleep = s }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(f *Fetcher) { f.log = l }
}

// Fetcher wraps Service with the retry policy and a channel cache.
type Fetcher struct {
	svc    Service
	policy Policy
	sleep  Sleeper
	log    *logger.Logger

	channels sync.Map // channel key -> *telegram.Channel
	resolves singleflight.Group
}

// New creates a Fetcher.
func New(svc Service, policy Policy, opts ...Option) *Fetcher {
	f := &Fetcher{
		svc:    svc,
		policy: policy,
		sleep:  SleepContext,
		log:    logger.Get().With("fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Channel resolves a channel reference once and caches it.
func (f *Fetcher) Channel(ctx context.Context, ref link.ChannelRef) (*telegram.Channel, error) {
	key := ref.Key()
	if ch, ok := f.channels.Load(key); ok {
		return ch.(*telegram.Channel), nil
	}

	v, err, _ := f.resolves.Do(key, func() (interface{}, error) {
		if ch, ok := f.channels.Load(key); ok {
			return ch, nil
		}
		var ch *telegram.Channel
		err := f.retry(ctx, key, 0, func(ctx context.Context) error {
			var err error
			ch, err = f.svc.ResolveChannel(ctx, ref)
			return err
		})
		if err != nil {
			return nil, err
		}
		f.channels.Store(key, ch)
		f.log.Debug().Str("channel", key).Str("title", ch.Title).Msg("fetcher: channel resolved")
		return ch, nil
	})
	if err != nil {
		return nil, asError(err, key, 0)
	}
	return v.(*telegram.Channel), nil
}

// Fetch returns the message or story a link points to.
// A deleted or inaccessible message is returned as an empty sentinel, not an error.
func (f *Fetcher) Fetch(ctx context.Context, ref link.Ref) (*telegram.Message, error) {
	if ref.IsStory() {
		return f.FetchStory(ctx, ref.Channel, ref.MessageID)
	}
	return f.FetchID(ctx, ref.Channel, ref.MessageID)
}

// FetchID is Fetch addressed by channel and id.
func (f *Fetcher) FetchID(ctx context.Context, chRef link.ChannelRef, id int) (*telegram.Message, error) {
	return f.fetchOne(ctx, chRef, id, "message", f.svc.GetMessage)
}

// FetchStory fetches a story posted by the channel. An expired or deleted
// story is an empty sentinel like a missing message.
func (f *Fetcher) FetchStory(ctx context.Context, chRef link.ChannelRef, id int) (*telegram.Message, error) {
	return f.fetchOne(ctx, chRef, id, "story", f.svc.GetStory)
}

type getFunc func(ctx context.Context, channel *telegram.Channel, id int) (*telegram.Message, error)

func (f *Fetcher) fetchOne(ctx context.Context, chRef link.ChannelRef, id int, what string, get getFunc) (*telegram.Message, error) {
	ch, err := f.Channel(ctx, chRef)
	if err != nil {
		return nil, err
	}

	var msg *telegram.Message
	err = f.retry(ctx, chRef.Key(), id, func(ctx context.Context) error {
		var err error
		msg, err = get(ctx, ch, id)
		return err
	})
	if errors.Is(err, telegram.ErrNotFound) || (err == nil && msg == nil) {
		f.log.Debug().Str("channel", chRef.Key()).Int("id", id).Str("kind", what).Msg("fetcher: message missing")
		return telegram.Empty(ch.ID, id), nil
	}
	if err != nil {
		return nil, asError(err, chRef.Key(), id)
	}
	return msg, nil
}

// rewinder is satisfied by *os.File.
type rewinder interface {
	io.Seeker
	Truncate(size int64) error
}

// FetchMedia streams msg media into w with the same retry policy.
// When w can be rewound (an *os.File) partial writes are discarded before a retry.
func (f *Fetcher) FetchMedia(ctx context.Context, chKey string, msg *telegram.Message, w io.Writer) (int64, error) {
	if msg == nil || msg.Media == nil {
		return 0, &Error{Kind: KindFetchFailed, Channel: chKey, Err: errors.New("message has no media")}
	}

	var n int64
	first := true
	err := f.retry(ctx, chKey, msg.ID, func(ctx context.Context) error {
		if !first {
			if rw, ok := w.(rewinder); ok {
				if err := rw.Truncate(0); err != nil {
					return backoff.Permanent(err)
				}
				if _, err := rw.Seek(0, io.SeekStart); err != nil {
					return backoff.Permanent(err)
				}
			}
		}
		first = false
		var err error
		n, err = f.svc.DownloadMedia(ctx, msg.Media, w)
		return err
	})
	if err != nil {
		return n, asError(err, chKey, msg.ID)
	}
	return n, nil
}

// retry runs op until it succeeds, returns NotFound, or the policy gives up.
func (f *Fetcher) retry(ctx context.Context, chKey string, id int, op func(ctx context.Context) error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Second
	expo.RandomizationFactor = 0
	expo.MaxInterval = f.policy.FloodWaitCap
	expo.MaxElapsedTime = 0
	expo.Reset()
	constant := backoff.NewConstantBackOff(f.policy.TransportBackoff)

	floods, failures := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		var permanent *backoff.PermanentError
		var flood *telegram.FloodWaitError
		switch {
		case errors.As(err, &permanent):
			return &Error{Kind: KindFetchFailed, Channel: chKey, MessageID: id, Attempts: floods + failures + 1, Err: permanent.Err}

		case errors.Is(err, telegram.ErrNotFound):
			return err

		case errors.Is(err, telegram.ErrUnauthorized):
			return &Error{Kind: KindFetchFailed, Channel: chKey, MessageID: id, Attempts: floods + failures + 1, Err: err}

		case errors.As(err, &flood):
			floods++
			if floods >= f.policy.FloodMaxAttempts {
				return &Error{Kind: KindRateLimited, Channel: chKey, MessageID: id, Attempts: floods + failures, Err: err}
			}
			wait := flood.Wait()
			if floods > 1 {
				if next := expo.NextBackOff(); next > wait {
					wait = next
				}
			}
			if wait > f.policy.FloodWaitCap {
				wait = f.policy.FloodWaitCap
			}
			f.log.Warn().Str("channel", chKey).Int("message_id", id).Int("attempt", floods).
				Dur("wait", wait).Msg("fetcher: flood wait, sleeping")
			if err := f.sleep(ctx, wait); err != nil {
				return err
			}

		default:
			failures++
			if failures > f.policy.TransportRetries {
				return &Error{Kind: KindFetchFailed, Channel: chKey, MessageID: id, Attempts: floods + failures, Err: err}
			}
			f.log.Debug().Err(err).Str("channel", chKey).Int("message_id", id).Int("attempt", failures).
				Msg("fetcher: transport error, retrying")
			if err := f.sleep(ctx, constant.NextBackOff()); err != nil {
				return err
			}
		}
	}
}
