package db

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/vestora/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// lockTimeoutMs bounds how long a FOR UPDATE waits on a contended row before
// the caller gets a lock timeout and retries.
const lockTimeoutMs = 5000

// Dialect picks the gorm driver for cfg.DBType. Sessions are pinned to UTC so
// accrual boundaries compare the same on every backend.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DBType)) {
	case "postgres", "postgresql":
		return postgres.Open(fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC lock_timeout=%d",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode, lockTimeoutMs,
		)), nil
	case "mysql":
		return mysql.Open(fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC&innodb_lock_wait_timeout=%d",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName, lockTimeoutMs/1000,
		)), nil
	case "sqlite":
		return sqlite.Open(sqliteDSN(cfg.DBPath)), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.DBType)
	}
}

// sqliteDSN makes writers wait on busy_timeout instead of failing with SQLITE_BUSY.
func sqliteDSN(path string) string {
	if path == "" {
		path = "vestora.db"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", path, sep, lockTimeoutMs)
}
