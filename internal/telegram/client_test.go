package telegram

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/blockedby/tgsaver/internal/config"
	"github.com/blockedby/tgsaver/internal/link"
)

func newUnauthorizedClient(t *testing.T) *Client {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	// status stays INITIALIZING without Init, so GetClient returns nil
	return NewClient(NewManager(&config.Config{}, db), NewRateLimiter(100, 10))
}

func TestClient_API_UnauthorizedError(t *testing.T) {
	client := newUnauthorizedClient(t)

	api, err := client.API()

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Nil(t, api)
}

func TestClient_ResolveChannel_UnauthorizedError(t *testing.T) {
	client := newUnauthorizedClient(t)

	for _, ref := range []link.ChannelRef{{Username: "testchannel"}, {ID: 1234}} {
		channel, err := client.ResolveChannel(context.Background(), ref)
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Nil(t, channel)
	}
}

func TestClient_GetMessage_UnauthorizedError(t *testing.T) {
	client := newUnauthorizedClient(t)

	msg, err := client.GetMessage(context.Background(), testChannel, 1)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Nil(t, msg)
}

func TestClient_DownloadMedia_NoLocation(t *testing.T) {
	client := newUnauthorizedClient(t)

	var buf bytes.Buffer
	n, err := client.DownloadMedia(context.Background(), &Media{Type: MediaPhoto}, &buf)
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestClient_Translate(t *testing.T) {
	client := newUnauthorizedClient(t)

	t.Run("flood wait", func(t *testing.T) {
		err := client.translate(tgerr.New(420, "FLOOD_WAIT_15"))
		var fw *FloodWaitError
		require.True(t, errors.As(err, &fw))
		assert.Equal(t, 15, fw.Seconds)
		assert.Greater(t, client.rateLimiter.FloodWaitRemaining().Seconds(), 10.0, "limiter must be paused")
	})

	t.Run("flood wait in plain text", func(t *testing.T) {
		assert.Equal(t, 7, client.checkFloodWait(errors.New("rpc error: FLOOD_WAIT_7")))
		assert.Equal(t, 0, client.checkFloodWait(errors.New("connection reset")))
	})

	t.Run("not found", func(t *testing.T) {
		err := client.translate(tgerr.New(400, "MESSAGE_ID_INVALID"))
		assert.ErrorIs(t, err, ErrNotFound)
		err = client.translate(tgerr.New(406, "CHANNEL_PRIVATE"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		base := errors.New("boom")
		assert.Same(t, base, client.translate(base))
		assert.Nil(t, client.translate(nil))
	})
}
