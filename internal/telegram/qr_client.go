package telegram

import (
	"runtime"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/blockedby/tgsaver/internal/config"
)

// DeviceModel is how tgsaver shows up in the account's device list.
const DeviceModel = "tgsaver"

func deviceConfig() telegram.DeviceConfig {
	return telegram.DeviceConfig{
		DeviceModel:   DeviceModel,
		SystemVersion: runtime.GOOS,
		AppVersion:    "1.0",
	}
}

// QRClientBundle is a login-only client. The session lives in Storage until
// the manager copies it into the sessions table.
type QRClientBundle struct {
	Client     *telegram.Client
	Dispatcher tg.UpdateDispatcher
	Storage    *session.StorageMemory
}

// NewQRClient creates a bare gotd client for the QR login. gotgproto's own
// constructor would fall back to an interactive phone prompt.
func NewQRClient(cfg *config.Config) (*QRClientBundle, error) {
	memStorage := &session.StorageMemory{}
	// zero value dispatcher has a nil handler map
	dispatcher := tg.NewUpdateDispatcher()

	client := telegram.NewClient(cfg.TGApiID, cfg.TGApiHash, telegram.Options{
		SessionStorage: memStorage,
		UpdateHandler:  &dispatcher,
		Device:         deviceConfig(),
	})

	return &QRClientBundle{
		Client:     client,
		Dispatcher: dispatcher,
		Storage:    memStorage,
	}, nil
}
