package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-sql-driver/mysql"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// ConnectDatabaseWithRetry opens the configured database, retrying with
// exponential backoff until it answers or ctx is done. The caller owns the
// returned handle and closes it at shutdown.
func ConnectDatabaseWithRetry(ctx context.Context, s Settings) (*gorm.DB, error) {
	var attempt int
	for {
		attempt++
		db, err := openDatabase(s)
		if err == nil {
			if sqlDB, derr := db.DB(); derr == nil {
				err = sqlDB.PingContext(ctx)
			}
		}
		if err == nil {
			log.Printf("connected to database (driver=%s attempt=%d)", s.DBDriver, attempt)
			return db, nil
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect database (attempt=%d): %v; retrying in %s", attempt, err, sleep)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect database: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(sleep):
		}
	}
}

func openDatabase(s Settings) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch s.DBDriver {
	case "sqlite":
		dialector = sqlite.Open(s.SQLitePath)
	default:
		dialector = gormmysql.Open(mysqlDSN(s))
	}

	db, err := gorm.Open(dialector, initConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if s.DBDriver == "sqlite" {
		// one connection: an in-memory database exists per connection and
		// sqlite serializes writers anyway
		sqlDB.SetMaxOpenConns(1)
	} else {
		if s.DBMaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(s.DBMaxOpenConns)
		}
		if s.DBMaxIdleConns >= 0 {
			sqlDB.SetMaxIdleConns(s.DBMaxIdleConns)
		}
		if s.DBConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(s.DBConnMaxLifetime)
		}
		if s.DBConnMaxIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(s.DBConnMaxIdleTime)
		}
	}

	if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
		log.Printf("db connected but failed to install otelgorm plugin: %v", pluginErr)
	}
	return db, nil
}

func mysqlDSN(s Settings) string {
	cfg := mysql.NewConfig()
	cfg.User = s.DBUser
	cfg.Passwd = s.DBPassword
	cfg.DBName = s.DBName
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%s", s.DBHost, s.DBPort)

	// Cloud Run + Cloud SQL: when DB_HOST is "/cloudsql/<CONNECTION_NAME>",
	// connect using a Unix domain socket provided by Cloud SQL Auth Proxy.
	if strings.HasPrefix(s.DBHost, "/cloudsql/") {
		cfg.Net = "unix"
		cfg.Addr = s.DBHost
	}
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
	}
}

// InitLog Connection Log Configuration
func initLog() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // Output to standard output
		logger.Config{
			Colorful:      false,
			LogLevel:      logger.Error,
			SlowThreshold: time.Second,
		},
	)
}

func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
