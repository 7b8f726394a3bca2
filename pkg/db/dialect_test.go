package db

import (
	"testing"

	"github.com/smallbiznis/vestora/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDialectSelectsDriver(t *testing.T) {
	for _, dbType := range []string{"postgres", "PostgreSQL", "mysql", "sqlite"} {
		d, err := Dialect(config.Config{DBType: dbType, DBPath: "file::memory:"})
		require.NoError(t, err, dbType)
		require.NotNil(t, d, dbType)
	}

	_, err := Dialect(config.Config{DBType: "oracle"})
	require.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	require.Equal(t, "vestora.db?_pragma=busy_timeout(5000)", sqliteDSN(""))
	require.Equal(t, "file::memory:?cache=shared&_pragma=busy_timeout(5000)", sqliteDSN("file::memory:?cache=shared"))
}
