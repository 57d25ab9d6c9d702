package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tgerr"
	"gorm.io/gorm"

	"github.com/blockedby/tgsaver/internal/config"
	"github.com/blockedby/tgsaver/internal/logger"
)

// Status is the state of the account session.
type Status string

// Session states
const (
	StatusInitializing Status = "INITIALIZING"
	StatusReady        Status = "READY"
	StatusUnauthorized Status = "UNAUTHORIZED"
	StatusError        Status = "ERROR"
)

// login errors
var (
	ErrAlreadyLoggedIn = errors.New("already logged in")
	ErrQRInProgress    = errors.New("QR login already in progress")
	// ErrPasswordNeeded is returned by StartQR for accounts with two-step
	// verification; the QR flow cannot ask for the password.
	ErrPasswordNeeded = errors.New("account has two-step verification enabled, use the desktop session or phone login in tg-auth")
)

// ClientFactory builds the download client from the stored session.
type ClientFactory func(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error)

// QRClientFactory builds the login-only client used by StartQR.
type QRClientFactory func(cfg *config.Config) (*QRClientBundle, error)

// Manager owns the session: it restores it from the sessions table, runs
// the QR login or a session import, and hands out the ready client.
// thread-safe
type Manager struct {
	db  *gorm.DB
	cfg *config.Config
	log *logger.Logger

	mu        sync.RWMutex
	client    *gotgproto.Client
	status    Status
	listeners []func(Status)

	clientFactory   ClientFactory
	qrClientFactory QRClientFactory

	qrMu     sync.Mutex
	qrActive atomic.Bool
	qrCancel context.CancelFunc

	// closed on the first transition to StatusReady
	ready     chan struct{}
	readyOnce sync.Once
}

// NewManager creates a manager; call Init to restore the session.
func NewManager(cfg *config.Config, db *gorm.DB) *Manager {
	return &Manager{
		db:              db,
		cfg:             cfg,
		log:             logger.Get().With("telegram"),
		status:          StatusInitializing,
		ready:           make(chan struct{}),
		clientFactory:   NewPersistentClient,
		qrClientFactory: NewQRClient,
	}
}

// SetClientFactory replaces the download client constructor. Tests use it.
func (m *Manager) SetClientFactory(f ClientFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientFactory = f
}

// SetQRClientFactory replaces the login client constructor. Tests use it.
func (m *Manager) SetQRClientFactory(f QRClientFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qrClientFactory = f
}

// OnStatusChange registers fn to be called after every status transition.
// fn runs on the goroutine that changed the status and must not block.
func (m *Manager) OnStatusChange(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// GetStatus returns the session state.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// GetClient returns the download client, nil until ready.
func (m *Manager) GetClient() *gotgproto.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// WaitReady blocks until the session is ready or ctx is done.
func (m *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasSession reports whether the sessions table holds a row.
func (m *Manager) HasSession() bool {
	return countSessions(m.db) > 0
}

func countSessions(db *gorm.DB) int64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.Table("sessions").Count(&count).Error; err != nil {
		return 0
	}
	return count
}

func (m *Manager) setStatus(s Status, client *gotgproto.Client) {
	m.mu.Lock()
	prev := m.status
	m.status = s
	if client != nil {
		m.client = client
	}
	listeners := append([]func(Status){}, m.listeners...)
	m.mu.Unlock()

	if s == StatusReady {
		m.readyOnce.Do(func() { close(m.ready) })
	}
	if prev != s {
		m.log.Debug().Str("from", string(prev)).Str("to", string(s)).Msg("telegram: status changed")
		for _, fn := range listeners {
			fn(s)
		}
	}
}

// Init restores the session from the sessions table, or seeds it from
// TG_SESSION_STRING. Without either the manager stays unauthorized and
// waits for a login; that is not an error.
func (m *Manager) Init(ctx context.Context) error {
	m.setStatus(StatusInitializing, nil)

	stored := countSessions(m.db) > 0
	if !stored && m.cfg.TGSessionStr == "" {
		m.log.Info().Msg("telegram: no session yet, waiting for login")
		m.setStatus(StatusUnauthorized, nil)
		return nil
	}
	if stored {
		if _, err := m.storedSession(); err != nil {
			m.log.Warn().Err(err).Msg("telegram: stored session is unreadable, log in again")
			m.setStatus(StatusUnauthorized, nil)
			return nil
		}
	}

	m.mu.RLock()
	factory := m.clientFactory
	m.mu.RUnlock()

	client, err := factory(ctx, m.cfg, m.db)
	if err != nil {
		// keep serving so the user can log in again over /api/v1/auth
		m.log.Warn().Err(err).Msg("telegram: session rejected, switching to unauthorized")
		m.setStatus(StatusUnauthorized, nil)
		return nil
	}

	m.setStatus(StatusReady, client)
	m.log.Info().Bool("from_session_string", !stored).Msg("telegram: client is ready")
	return nil
}

// IsQRInProgress reports whether StartQR is running.
func (m *Manager) IsQRInProgress() bool {
	return m.qrActive.Load()
}

// StartQR runs the QR login. onQRCode gets every token url; tokens expire
// after about 30 seconds and are replaced. It blocks until the account is
// logged in, ctx is done or CancelQR is called.
func (m *Manager) StartQR(ctx context.Context, onQRCode func(url string)) error {
	if m.GetStatus() == StatusReady {
		return ErrAlreadyLoggedIn
	}

	qrCtx, err := m.beginQR(ctx)
	if err != nil {
		return err
	}
	defer m.endQR()

	data, err := m.runQR(qrCtx, onQRCode)
	if err != nil {
		return err
	}

	if err := m.saveSessionToDB(data); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	m.log.Info().Int("dc", data.DC).Msg("telegram: QR login saved, reconnecting")
	return m.Init(ctx)
}

func (m *Manager) beginQR(ctx context.Context) (context.Context, error) {
	m.qrMu.Lock()
	defer m.qrMu.Unlock()
	if m.qrActive.Load() {
		return nil, ErrQRInProgress
	}
	qrCtx, cancel := context.WithCancel(ctx)
	m.qrCancel = cancel
	m.qrActive.Store(true)
	return qrCtx, nil
}

func (m *Manager) endQR() {
	m.qrMu.Lock()
	defer m.qrMu.Unlock()
	if m.qrCancel != nil {
		m.qrCancel()
		m.qrCancel = nil
	}
	m.qrActive.Store(false)
}

// runQR logs in with a throwaway client and returns the captured session.
func (m *Manager) runQR(ctx context.Context, onQRCode func(url string)) (*session.Data, error) {
	m.mu.RLock()
	factory := m.qrClientFactory
	m.mu.RUnlock()

	bundle, err := factory(m.cfg)
	if err != nil {
		return nil, fmt.Errorf("create QR client: %w", err)
	}

	var data *session.Data
	runErr := bundle.Client.Run(ctx, func(ctx context.Context) error {
		loggedIn := qrlogin.OnLoginToken(&bundle.Dispatcher)
		_, err := bundle.Client.QR().Auth(ctx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			m.log.Debug().Time("expires", token.Expires()).Msg("telegram: new QR token")
			onQRCode(token.URL())
			return nil
		})
		if err != nil {
			return err
		}
		data, err = (&session.Loader{Storage: bundle.Storage}).Load(ctx)
		return err
	})

	switch {
	case runErr == nil && data == nil:
		return nil, fmt.Errorf("QR login finished without a session")
	case runErr == nil:
		return data, nil
	case errors.Is(runErr, context.Canceled):
		return nil, context.Canceled
	case tgerr.Is(runErr, "SESSION_PASSWORD_NEEDED"):
		return nil, ErrPasswordNeeded
	default:
		return nil, fmt.Errorf("QR login: %w", runErr)
	}
}

// CancelQR aborts a running StartQR. Safe to call when none is running.
func (m *Manager) CancelQR() {
	if m.qrActive.Load() {
		m.log.Info().Msg("telegram: QR login cancelled")
	}
	m.endQR()
}

// ImportSession stores an existing session, for example one read from a
// Telegram Desktop tdata folder, and connects with it.
func (m *Manager) ImportSession(ctx context.Context, data *session.Data) error {
	if m.GetStatus() == StatusReady {
		return ErrAlreadyLoggedIn
	}
	if err := m.saveSessionToDB(data); err != nil {
		return fmt.Errorf("import session: %w", err)
	}
	m.log.Info().Int("dc", data.DC).Msg("telegram: session imported")
	return m.Init(ctx)
}

func (m *Manager) saveSessionToDB(data *session.Data) error {
	row, err := sessionRow(data)
	if err != nil {
		return err
	}
	// Version is the primary key, so Save upserts the single row
	if err := m.db.AutoMigrate(row); err != nil {
		return fmt.Errorf("migrate sessions: %w", err)
	}
	return m.db.Save(row).Error
}

func (m *Manager) storedSession() (*session.Data, error) {
	var row storage.Session
	if err := m.db.Table("sessions").First(&row).Error; err != nil {
		return nil, fmt.Errorf("read session row: %w", err)
	}
	return sessionFromRow(&row)
}

// Stop disconnects the download client.
func (m *Manager) Stop() {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()
	if client != nil {
		client.Stop()
	}
}
