package logger_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MagnunAVF/link-engine/internal/logger"
)

func TestGormLoggerLevelsStatements(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sql.log")
	_, closer := logger.Init(logger.Config{Output: path})
	defer closer.Close()

	ctx := logger.WithRequestID(context.Background(), "req-sql")
	g := logger.NewGormLogger("warn", 50*time.Millisecond)
	stmt := func(rows int64) func() (string, int64) {
		return func() (string, int64) { return "SELECT 1", rows }
	}

	g.Trace(ctx, time.Now(), stmt(1), nil)
	g.Trace(ctx, time.Now(), stmt(0), gorm.ErrRecordNotFound)
	g.Trace(ctx, time.Now().Add(-time.Second), stmt(-1), nil)
	g.Trace(ctx, time.Now(), stmt(0), errors.New("relation missing"))
	g.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), stmt(0), errors.New("hidden"))
	g.Warn(ctx, "pool at %d%%", 90)

	recs := readRecords(t, path)
	require.Len(t, recs, 3)

	assert.Equal(t, "sql slow", recs[0]["msg"])
	slow := recs[0]["data"].(map[string]any)
	assert.Equal(t, "req-sql", slow["request_id"])
	assert.NotContains(t, slow, "rows")

	assert.Equal(t, "sql failed", recs[1]["msg"])
	assert.Equal(t, "ERROR", recs[1]["level"])
	assert.Equal(t, "relation missing", recs[1]["data"].(map[string]any)["err"])

	assert.Equal(t, "database", recs[2]["msg"])
	assert.Equal(t, "pool at 90%", recs[2]["data"].(map[string]any)["detail"])
}
