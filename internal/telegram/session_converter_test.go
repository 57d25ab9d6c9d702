package telegram

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSessionData() *session.Data {
	return &session.Data{
		DC:      2,
		Addr:    "149.154.167.40:443",
		AuthKey: bytes.Repeat([]byte{0xab}, authKeyLen),
	}
}

func TestSessionRow_Envelope(t *testing.T) {
	row, err := sessionRow(testSessionData())
	require.NoError(t, err)
	assert.Equal(t, storage.LatestVersion, row.Version)

	var parsed struct {
		Version int
		Data    map[string]any
	}
	require.NoError(t, json.Unmarshal(row.Data, &parsed))
	assert.Equal(t, 1, parsed.Version)
	assert.EqualValues(t, 2, parsed.Data["DC"])
	assert.Equal(t, "149.154.167.40:443", parsed.Data["Addr"])

	back, err := sessionFromRow(row)
	require.NoError(t, err)
	assert.Equal(t, testSessionData().AuthKey, back.AuthKey)
}

func TestSessionRow_Rejects(t *testing.T) {
	short := testSessionData()
	short.AuthKey = []byte("too-short")
	noDC := testSessionData()
	noDC.DC = 0

	for name, data := range map[string]*session.Data{"nil": nil, "short key": short, "no dc": noDC} {
		t.Run(name, func(t *testing.T) {
			row, err := sessionRow(data)
			assert.ErrorIs(t, err, ErrBadSession)
			assert.Nil(t, row)
		})
	}
}

func TestSessionFromRow_Garbage(t *testing.T) {
	_, err := sessionFromRow(&storage.Session{Data: []byte("not json")})
	assert.ErrorIs(t, err, ErrBadSession)
	_, err = sessionFromRow(nil)
	assert.ErrorIs(t, err, ErrBadSession)
}
