package collector

import (
	"context"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgsaver/internal/export"
	"github.com/blockedby/tgsaver/internal/link"
	"github.com/blockedby/tgsaver/internal/queue"
	"github.com/blockedby/tgsaver/internal/repository"
	"github.com/blockedby/tgsaver/internal/stats"
	"github.com/blockedby/tgsaver/internal/storage"
	"github.com/blockedby/tgsaver/internal/telegram"
	"github.com/blockedby/tgsaver/internal/walker"
)

// fakeRemote serves text messages for every id except those in missing.
type fakeRemote struct {
	mu      sync.Mutex
	missing map[int]bool
	block   chan struct{}
	calls   int
}

func (f *fakeRemote) message(id int) *telegram.Message {
	f.mu.Lock()
	f.calls++
	missing := f.missing[id]
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if missing {
		return telegram.Empty(0, id)
	}
	return &telegram.Message{
		ID:   id,
		Kind: telegram.KindText,
		Text: "post " + strconv.Itoa(id),
		Date: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeRemote) Fetch(_ context.Context, ref link.Ref) (*telegram.Message, error) {
	return f.message(ref.MessageID), nil
}

func (f *fakeRemote) FetchID(_ context.Context, _ link.ChannelRef, id int) (*telegram.Message, error) {
	return f.message(id), nil
}

func (f *fakeRemote) FetchMedia(_ context.Context, _ string, _ *telegram.Message, w io.Writer) (int64, error) {
	n, err := io.WriteString(w, "bytes")
	return int64(n), err
}

type fakeHistory struct {
	records []repository.HistoryRecord
	err     error
	filter  repository.HistoryFilter
}

func (h *fakeHistory) List(_ context.Context, f repository.HistoryFilter) ([]repository.HistoryRecord, error) {
	h.filter = f
	return h.records, h.err
}

type fakeStatus struct{ status telegram.Status }

func (s fakeStatus) GetStatus() telegram.Status { return s.status }

type fixture struct {
	remote  *fakeRemote
	store   *storage.Store
	stats   *stats.Tracker
	service *Service
}

func newFixture(t *testing.T, history HistoryLister) *fixture {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)

	fx := &fixture{remote: &fakeRemote{missing: map[int]bool{}}, store: store, stats: stats.New()}
	fx.service = NewService(Deps{
		Queue:    queue.New(fx.remote, store, queue.WithRecorder(fx.stats)),
		Walker:   walker.New(fx.remote, walker.WithMaxRange(100)),
		Exporter: export.New(fx.remote, store, export.WithRecorder(fx.stats)),
		Stats:    fx.stats,
		History:  history,
		Status:   fakeStatus{status: telegram.StatusReady},
		Workers:  2,
	})
	return fx
}
