package store

import (
	"time"

	"paydisco/internal/platform/config"
)

// Config aggregates backend configuration
type Config struct {
	AppName string
	PG      PGConfig
	SQLite  SQLiteConfig
	RDS     RedisConfig
}

// PGConfig configures postgres connectivity and tracing
type PGConfig struct {
	Enabled     bool
	URL         string
	MaxConns    int32
	LogSQL      bool
	SlowQueryMs int
}

// SQLiteConfig configures the embedded store
type SQLiteConfig struct {
	Enabled     bool
	Path        string
	BusyTimeout time.Duration
}

// RedisConfig configures redis connectivity
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// FromConfig reads SERVICE_PGSQL_*, SERVICE_SQLITE_* and SERVICE_REDIS_*.
// Nothing is enabled; callers flip Enabled for the backend they use
func FromConfig(root config.Conf) Config {
	pg := root.Prefix("SERVICE_PGSQL_")
	lite := root.Prefix("SERVICE_SQLITE_")
	rds := root.Prefix("SERVICE_REDIS_")
	return Config{
		AppName: root.MayString("APP_NAME", "paydisco"),
		PG: PGConfig{
			URL:         pg.MayString("DBURL", ""),
			MaxConns:    int32(pg.MayInt("MAX_CONNS", 4)),
			LogSQL:      pg.MayBool("LOG_SQL", false),
			SlowQueryMs: pg.MayInt("SLOW_MS", 250),
		},
		SQLite: SQLiteConfig{
			Path:        lite.MayString("PATH", "paydisco.db"),
			BusyTimeout: lite.MayDuration("BUSY_TIMEOUT", 5*time.Second),
		},
		RDS: RedisConfig{
			Addr:     rds.MayString("ADDR", "localhost:6379"),
			Password: rds.MayString("PASSWORD", ""),
			DB:       rds.MayInt("DB", 0),
		},
	}
}
