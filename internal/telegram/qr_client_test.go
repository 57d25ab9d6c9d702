package telegram

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgsaver/internal/config"
)

var qrTestConfig = &config.Config{TGApiID: 12345, TGApiHash: "test_hash"}

func TestNewQRClient(t *testing.T) {
	done := make(chan *QRClientBundle, 1)
	go func() {
		b, err := NewQRClient(qrTestConfig)
		assert.NoError(t, err)
		done <- b
	}()

	var b *QRClientBundle
	select {
	case b = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("NewQRClient must not wait for terminal input")
	}
	require.NotNil(t, b)
	assert.NotNil(t, b.Client)

	// nothing is captured until the login finishes
	_, err := b.Storage.LoadSession(context.Background())
	assert.Error(t, err)
}

func TestNewQRClient_SeparateStorage(t *testing.T) {
	b1, err := NewQRClient(qrTestConfig)
	require.NoError(t, err)
	b2, err := NewQRClient(qrTestConfig)
	require.NoError(t, err)

	assert.NotSame(t, b1.Storage, b2.Storage)
}

func TestDeviceConfig(t *testing.T) {
	d := deviceConfig()
	assert.Equal(t, "tgsaver", d.DeviceModel)
	assert.Equal(t, runtime.GOOS, d.SystemVersion)
	assert.NotEmpty(t, d.AppVersion)
}
