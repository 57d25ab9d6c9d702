package telegram

import (
	"context"
	"fmt"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"gorm.io/gorm"

	"github.com/blockedby/tgsaver/internal/config"
)

// sessionSource names where a client's session comes from.
type sessionSource string

const (
	sourceDatabase sessionSource = "database"
	sourceString   sessionSource = "session_string"
)

// pickSession prefers the sessions table. TG_SESSION_STRING only seeds an
// empty table; the string client runs in memory and the manager copies its
// session over once authorized.
func pickSession(cfg *config.Config, db *gorm.DB) (sessionMaker.SessionConstructor, sessionSource) {
	if countSessions(db) == 0 && cfg.TGSessionStr != "" {
		return sessionMaker.StringSession(cfg.TGSessionStr), sourceString
	}
	return sessionMaker.SqlSession(db.Dialector), sourceDatabase
}

// NewPersistentClient creates the download client. Auth key refreshes and
// resolved peers are written back to the sessions table.
func NewPersistentClient(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
	sess, source := pickSession(cfg, db)

	client, err := gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		gotgproto.ClientTypePhone(""), // empty phone: session only, never prompt
		&gotgproto.ClientOpts{
			Session:          sess,
			InMemory:         source == sourceString,
			DisableCopyright: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("telegram client from %s: %w", source, err)
	}
	return client, nil
}
