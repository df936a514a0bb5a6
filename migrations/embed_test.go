package migrations

import (
	"io"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreReadable(t *testing.T) {
	src, err := iofs.New(FS, ".")
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	up, _, err := src.ReadUp(first)
	require.NoError(t, err)
	body, err := io.ReadAll(up)
	require.NoError(t, err)
	for _, table := range []string{"patients", "appointments", "conversation_messages", "appointment_reminders"} {
		assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS "+table)
	}

	_, _, err = src.ReadDown(first)
	require.NoError(t, err)
}
