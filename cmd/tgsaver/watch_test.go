package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgsaver/internal/collector"
	"github.com/blockedby/tgsaver/internal/events"
	"github.com/blockedby/tgsaver/internal/export"
	"github.com/blockedby/tgsaver/internal/link"
	"github.com/blockedby/tgsaver/internal/queue"
	"github.com/blockedby/tgsaver/internal/stats"
	"github.com/blockedby/tgsaver/internal/storage"
	"github.com/blockedby/tgsaver/internal/telegram"
	"github.com/blockedby/tgsaver/internal/walker"
)

type textRemote struct{}

func (textRemote) msg(id int) *telegram.Message {
	return &telegram.Message{ID: id, Kind: telegram.KindText, Text: "hello", Date: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
}

func (r textRemote) Fetch(_ context.Context, ref link.Ref) (*telegram.Message, error) {
	return r.msg(ref.MessageID), nil
}

func (r textRemote) FetchID(_ context.Context, _ link.ChannelRef, id int) (*telegram.Message, error) {
	return r.msg(id), nil
}

func (textRemote) FetchMedia(_ context.Context, _ string, _ *telegram.Message, w io.Writer) (int64, error) {
	return 0, nil
}

func newTestPrompt(t *testing.T) (*prompt, *bytes.Buffer, string) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.New(root)
	require.NoError(t, err)

	tracker := stats.New()
	bus := events.NewBus()
	svc := collector.NewService(collector.Deps{
		Queue:    queue.New(textRemote{}, store, queue.WithRecorder(tracker), queue.WithEvents(bus)),
		Walker:   walker.New(textRemote{}, walker.WithEvents(bus)),
		Exporter: export.New(textRemote{}, store, export.WithRecorder(tracker)),
		Stats:    tracker,
		Workers:  2,
	})
	out := &bytes.Buffer{}
	return &prompt{svc: svc, bus: bus, out: out}, out, root
}

func TestPrompt_QueueAndDownload(t *testing.T) {
	p, out, root := newTestPrompt(t)
	ctx := context.Background()

	assert.False(t, p.handle(ctx, "look at https://t.me/news/1 and t.me/news/2"))
	assert.Contains(t, out.String(), "queued 2")

	assert.False(t, p.handle(ctx, "t.me/news/1"))
	assert.Contains(t, out.String(), "already queued")

	out.Reset()
	p.handle(ctx, "list")
	assert.Contains(t, out.String(), "news/1")
	assert.Contains(t, out.String(), "pending")

	out.Reset()
	p.handle(ctx, "")
	assert.Contains(t, out.String(), "downloaded 2, failed 0")
	assert.FileExists(t, filepath.Join(root, "text", "news_1_text.txt"))

	out.Reset()
	p.handle(ctx, "stats")
	assert.Contains(t, out.String(), "text")
}

func TestPrompt_EmptyDrainAndReset(t *testing.T) {
	p, out, _ := newTestPrompt(t)
	ctx := context.Background()

	p.handle(ctx, "")
	assert.Contains(t, out.String(), "queue is empty")

	p.handle(ctx, "t.me/news/1 t.me/news/2")
	out.Reset()
	p.handle(ctx, "r")
	assert.Contains(t, out.String(), "dropped 2 links")
	assert.Empty(t, p.svc.Entries())
}

func TestPrompt_Export(t *testing.T) {
	p, out, root := newTestPrompt(t)
	ctx := context.Background()

	p.handle(ctx, "json https://t.me/news/1 https://t.me/news/3")
	assert.Contains(t, out.String(), "exported 3 of 3 messages")

	dirs, err := os.ReadDir(filepath.Join(root, "exports"))
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	assert.True(t, strings.HasPrefix(dirs[0].Name(), "news_1-3_"))

	out.Reset()
	p.handle(ctx, "export https://t.me/news/3")
	assert.Contains(t, out.String(), "usage: export")

	out.Reset()
	p.handle(ctx, "export https://t.me/news/3 https://t.me/other/4")
	assert.Contains(t, out.String(), "export failed")
}

func TestPrompt_Run(t *testing.T) {
	p, out, _ := newTestPrompt(t)

	in := strings.NewReader("hello there\nt.me/news/9\nexit\nt.me/news/10\n")
	require.NoError(t, p.run(context.Background(), in))

	assert.Contains(t, out.String(), "no links found")
	assert.Len(t, p.svc.Entries(), 1, "input after exit is not read")
}
