package source

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawbytedev/typedstream/internal/config"
	"github.com/rawbytedev/typedstream/internal/streamtest"
)

func chatDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE message (guid TEXT, text TEXT, attributedBody BLOB, date INTEGER)`)
	require.NoError(t, err)
	ins := `INSERT INTO message (guid, text, attributedBody, date) VALUES (?, ?, ?, ?)`
	_, err = db.Exec(ins, "g-late", "later", nil, 300)
	require.NoError(t, err)
	_, err = db.Exec(ins, "g-body", nil, streamtest.New().AttributedBody("hello").Bytes(), 100)
	require.NoError(t, err)
	_, err = db.Exec(ins, nil, "", nil, nil)
	require.NoError(t, err)
	return path
}

func TestRecords(t *testing.T) {
	src, err := Open("sqlite", chatDB(t), config.DefaultQuery)
	require.NoError(t, err)
	defer src.Close()

	recs, err := src.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 3)

	// NULL date sorts first
	assert.Equal(t, int64(0), recs[0].Seq)
	assert.Empty(t, recs[0].GUID)
	require.NotNil(t, recs[0].Text)
	assert.Equal(t, "", *recs[0].Text)

	assert.Equal(t, "g-body", recs[1].GUID)
	assert.Nil(t, recs[1].Text)
	assert.Equal(t, streamtest.New().AttributedBody("hello").Bytes(), recs[1].Payload)
	assert.Equal(t, int64(100), recs[1].Seq)
	assert.Equal(t, int64(2), recs[1].RowID)

	assert.Equal(t, "later", *recs[2].Text)
	assert.Nil(t, recs[2].Payload)
}

func TestRecordsBadQuery(t *testing.T) {
	src, err := Open("sqlite", chatDB(t), "SELECT nope FROM missing")
	require.NoError(t, err)
	defer src.Close()
	_, err = src.Records(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query messages")
}

func TestRecordsWrongColumns(t *testing.T) {
	src, err := Open("sqlite", chatDB(t), "SELECT ROWID FROM message")
	require.NoError(t, err)
	defer src.Close()
	_, err = src.Records(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan message")
}

func TestOpenUnsupported(t *testing.T) {
	_, err := Open("oracle", "x", config.DefaultQuery)
	require.Error(t, err)
}

func TestSharedDB(t *testing.T) {
	db, err := sql.Open("sqlite", chatDB(t))
	require.NoError(t, err)
	defer db.Close()
	src := NewSQLSource(db, config.DefaultQuery)
	require.NoError(t, src.Close())
	// still usable after Close
	recs, err := src.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 3)
}
