// Package store persists 1Hz traffic samples to a local database so the
// admin API can chart usage history across engine restarts. Samples are
// day-partitioned the way high-volume relay logs usually are, and writes
// go through a batching recorder that never blocks the accounting tick.
package store

import (
	"errors"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	sqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/bridgelab/relaybridge/internal/logx"
)

// ErrUnsupportedDriver is returned by Open for any driver other than
// sqlite or mysql.
var ErrUnsupportedDriver = errors.New("store: unsupported driver")

// PoolCfg bounds the underlying sql.DB connection pool. Zero fields keep
// the driver defaults.
type PoolCfg struct {
	MaxOpen        int `yaml:"max_open"`
	MaxIdle        int `yaml:"max_idle"`
	MaxLifetimeSec int `yaml:"max_lifetime_sec"`
}

// DB wraps the gorm handle together with the driver name, which the
// partition-ensure DDL needs to pick a dialect.
type DB struct {
	Gorm   *gorm.DB
	Driver string
}

// Open connects to dsn with the named driver ("sqlite"/"sqlite3" or
// "mysql") and applies the pool limits.
func Open(driver, dsn string, pool PoolCfg) (*DB, error) {
	var dial gorm.Dialector
	switch strings.ToLower(driver) {
	case "mysql":
		dial = mysql.Open(dsn)
	case "sqlite", "sqlite3":
		dial = sqlite.Open(dsn)
	default:
		return nil, ErrUnsupportedDriver
	}

	g, err := gorm.Open(dial, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
		Logger:         logx.GormLoggerDefault(logx.GetLevelString()),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := g.DB()
	if err != nil {
		return nil, err
	}
	if pool.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdle)
	}
	if pool.MaxLifetimeSec > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(pool.MaxLifetimeSec) * time.Second)
	}

	return &DB{Gorm: g, Driver: strings.ToLower(driver)}, nil
}

// Close releases the underlying pool.
func (d *DB) Close() error {
	sqlDB, err := d.Gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
