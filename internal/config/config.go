package config

import (
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Config is read from the environment (a .env file is autoloaded when
// present).
type Config struct {
	// AppName identifies this application to counterparts during pairing.
	AppName string
	// BaseURL is the externally reachable address counterparts call back.
	BaseURL string
	// DBDriver is sqlite or postgres.
	DBDriver string
	// DBDSN is the driver-specific dsn, a file path for sqlite.
	DBDSN string
	// RedisAddr is the people-cache redis address.
	RedisAddr string
	// HTTPPort is the port the sync API listens on.
	HTTPPort string
	// SyncInterval is the cron expression for the periodic sync runner.
	SyncInterval string
}

func LoadConfig() *Config {
	cnf := &Config{
		AppName:      getenv("APP_NAME", "kinsync"),
		BaseURL:      getenv("BASE_URL", "http://localhost:4030"),
		DBDriver:     getenv("DB_DRIVER", "sqlite"),
		DBDSN:        getenv("DB_DSN", ".data/kinsync.db"),
		RedisAddr:    getenv("REDIS_ADDR", "localhost:6379"),
		HTTPPort:     getenv("HTTP_PORT", "4030"),
		SyncInterval: getenv("SYNC_INTERVAL", "@every 5m"),
	}

	return cnf
}

// GetDb opens the configured database.
func GetDb(cnf *Config) *gorm.DB {
	var db *gorm.DB
	var err error

	switch cnf.DBDriver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(cnf.DBDSN), &gorm.Config{})
	default:
		db, err = gorm.Open(sqlite.Open(cnf.DBDSN), &gorm.Config{})
	}

	if err != nil {
		logrus.Fatalf("error connecting to database: %v", err)
	}

	return db
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
