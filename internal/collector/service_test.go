package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgsaver/internal/classify"
	"github.com/blockedby/tgsaver/internal/export"
	"github.com/blockedby/tgsaver/internal/link"
	"github.com/blockedby/tgsaver/internal/repository"
	"github.com/blockedby/tgsaver/internal/telegram"
)

func TestService_EnqueueAndDrain(t *testing.T) {
	fx := newFixture(t, nil)

	_, added, err := fx.service.Enqueue("https://t.me/news/7")
	require.NoError(t, err)
	assert.True(t, added)

	n, errs := fx.service.EnqueueAll("see t.me/news/8 and https://t.me/news/7")
	assert.Equal(t, 1, n)
	assert.Empty(t, errs)
	require.Len(t, fx.service.Entries(), 2)

	res, err := fx.service.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.False(t, fx.service.Draining())

	_, err = os.Stat(filepath.Join(fx.store.Root(), "text", "news_7_text.txt"))
	assert.NoError(t, err)
	assert.Equal(t, 2, fx.service.Stats().Categories[classify.Text].Files)
}

func TestService_ResetAndRemove(t *testing.T) {
	fx := newFixture(t, nil)
	fx.service.EnqueueAll("t.me/a_chan/1 t.me/a_chan/2")

	require.NoError(t, fx.service.Remove("a_chan/1"))
	assert.Len(t, fx.service.Entries(), 1)
	assert.Equal(t, 1, fx.service.Reset())
	assert.Empty(t, fx.service.Entries())
}

func TestService_ExportFormat(t *testing.T) {
	fx := newFixture(t, nil)
	fx.remote.missing[13] = true

	res, err := fx.service.ExportJSON(context.Background(), "https://t.me/news/10", "https://t.me/news/15")
	require.NoError(t, err)
	assert.Equal(t, export.FormatJSON, res.Format)
	assert.Equal(t, 6, res.Slots)
	assert.Equal(t, 5, res.Exported)
	assert.Equal(t, 1, res.Missing)
	assert.FileExists(t, res.File)

	res, err = fx.service.Export(context.Background(), "https://t.me/news/10", "https://t.me/news/12")
	require.NoError(t, err)
	assert.Equal(t, export.FormatHTML, res.Format)
	assert.Equal(t, export.HTMLFile, filepath.Base(res.File))
}

func TestService_ExportBadLinks(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.service.Export(context.Background(), "nonsense", "https://t.me/news/15")
	assert.ErrorIs(t, err, link.ErrParse)

	_, err = fx.service.Export(context.Background(), "https://t.me/news/15", "https://t.me/other/20")
	assert.Error(t, err)
	assert.Zero(t, fx.remote.calls, "invalid ranges never reach telegram")
}

func TestService_History(t *testing.T) {
	t.Run("disabled without database", func(t *testing.T) {
		fx := newFixture(t, nil)
		_, err := fx.service.History(context.Background(), repository.HistoryFilter{})
		assert.ErrorIs(t, err, ErrHistoryDisabled)
	})

	t.Run("passes filter through", func(t *testing.T) {
		h := &fakeHistory{records: []repository.HistoryRecord{{Kind: repository.KindDownload, Channel: "news"}}}
		fx := newFixture(t, h)

		got, err := fx.service.History(context.Background(), repository.HistoryFilter{Channel: "news", Limit: 5})
		require.NoError(t, err)
		assert.Len(t, got, 1)
		assert.Equal(t, 5, h.filter.Limit)
	})

	t.Run("propagates errors", func(t *testing.T) {
		fx := newFixture(t, &fakeHistory{err: errors.New("db down")})
		_, err := fx.service.History(context.Background(), repository.HistoryFilter{})
		assert.ErrorContains(t, err, "db down")
	})
}

func TestService_TelegramStatus(t *testing.T) {
	fx := newFixture(t, nil)
	assert.Equal(t, telegram.StatusReady, fx.service.TelegramStatus())

	bare := NewService(Deps{})
	assert.Equal(t, telegram.Status("UNKNOWN"), bare.TelegramStatus())
}
