package archive

import (
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RagChat/internal/interaction"
)

func TestArchive_RecordsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragchat.db")
	a, err := Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, a.Record("s1", "local", interaction.Entry{
		ID: "e1", Role: interaction.RoleUser, Content: "x", CreatedAt: now,
	}))
	require.NoError(t, a.Record("s1", "local", interaction.Entry{
		ID: "e2", Role: interaction.RoleAssistant, Content: "Paris",
		Attributes: map[string]any{"source": "doc1"}, CreatedAt: now,
	}))
	require.NoError(t, a.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var sessions int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&sessions))
	assert.Equal(t, 1, sessions)

	rows, err := db.Query("SELECT id, role, content, attributes FROM entries ORDER BY rowid")
	require.NoError(t, err)
	defer rows.Close()

	type row struct {
		id, role, content string
		attrs             sql.NullString
	}
	var got []row
	for rows.Next() {
		var r row
		require.NoError(t, rows.Scan(&r.id, &r.role, &r.content, &r.attrs))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())
	require.Len(t, got, 2)
	assert.Equal(t, "user", got[0].role)
	assert.False(t, got[0].attrs.Valid)
	assert.Equal(t, "Paris", got[1].content)
	assert.JSONEq(t, `{"source":"doc1"}`, got[1].attrs.String)
}

func TestArchive_DuplicateEntryFails(t *testing.T) {
	a, err := Open(filepath.Join(t.TempDir(), "ragchat.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer a.Close()

	e := interaction.Entry{ID: "e1", Role: interaction.RoleUser, Content: "x", CreatedAt: time.Now()}
	require.NoError(t, a.Record("s1", "local", e))
	assert.Error(t, a.Record("s1", "local", e))
}

func TestOpen_RequiresLogger(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "x.db"), nil)
	assert.Error(t, err)
}
