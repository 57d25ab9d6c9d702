package telegram

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/session"
)

// authKeyLen is the size of an MTProto 2048-bit auth key.
const authKeyLen = 256

// ErrBadSession is returned for session data that cannot authorize a client.
var ErrBadSession = errors.New("invalid telegram session")

// storedSession is the envelope gotd session storages write.
type storedSession struct {
	Version int
	Data    session.Data
}

// sessionRow wraps session data in the sessions table row gotgproto's
// SqlSession reads: {"Version":1,"Data":{...}} under the latest row version.
func sessionRow(data *session.Data) (*storage.Session, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: no data", ErrBadSession)
	}
	if len(data.AuthKey) != authKeyLen {
		return nil, fmt.Errorf("%w: auth key is %d bytes, want %d", ErrBadSession, len(data.AuthKey), authKeyLen)
	}
	if data.DC <= 0 {
		return nil, fmt.Errorf("%w: no datacenter", ErrBadSession)
	}

	raw, err := json.Marshal(storedSession{Version: 1, Data: *data})
	if err != nil {
		return nil, fmt.Errorf("marshal session data: %w", err)
	}
	return &storage.Session{Version: storage.LatestVersion, Data: raw}, nil
}

// sessionFromRow is the inverse of sessionRow.
func sessionFromRow(row *storage.Session) (*session.Data, error) {
	if row == nil || len(row.Data) == 0 {
		return nil, fmt.Errorf("%w: empty row", ErrBadSession)
	}
	var s storedSession
	if err := json.Unmarshal(row.Data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSession, err)
	}
	return &s.Data, nil
}
