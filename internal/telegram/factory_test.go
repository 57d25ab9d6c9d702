package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgsaver/internal/config"
)

func TestPickSession(t *testing.T) {
	t.Run("empty table without string uses database", func(t *testing.T) {
		_, src := pickSession(&config.Config{}, newSessionDB(t))
		assert.Equal(t, sourceDatabase, src)
	})

	t.Run("empty table with string seeds from string", func(t *testing.T) {
		_, src := pickSession(&config.Config{TGSessionStr: "1BQANOTAREALSESSION"}, newSessionDB(t))
		assert.Equal(t, sourceString, src)
	})

	t.Run("stored session wins over string", func(t *testing.T) {
		db := newSessionDB(t)
		require.NoError(t, db.Exec("INSERT INTO sessions (version, data) VALUES (1, ?)", []byte(`{}`)).Error)
		_, src := pickSession(&config.Config{TGSessionStr: "1BQANOTAREALSESSION"}, db)
		assert.Equal(t, sourceDatabase, src)
	})
}
