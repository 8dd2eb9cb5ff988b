package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/bygglogg/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsDuplicateKeyErr(errors.New("Error 1062: Duplicate entry")))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: invoice_basis_snapshots.id")))
}

func TestDialect(t *testing.T) {
	for _, typ := range []string{"postgres", "mysql", "sqlite"} {
		d, err := Dialect(Config{Type: typ, Path: "test.db"})
		require.NoError(t, err, typ)
		assert.Equal(t, typ, d.Name())
	}

	_, err := Dialect(Config{Type: "oracle"})
	assert.EqualError(t, err, "unsupported oracle type")
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig(config.Config{DBType: "sqlite", DBPath: "/tmp/x.db", DBMaxOpenConn: 3, DBConnMaxLifetime: 60})
	assert.Equal(t, "sqlite", cfg.Type)
	assert.Equal(t, "/tmp/x.db", dbName(cfg))
	assert.Equal(t, 3, cfg.MaxOpenConn)
	assert.Equal(t, "1m0s", cfg.connMaxLifetime().String())
}
