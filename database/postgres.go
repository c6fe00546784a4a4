package database

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"umamicore/api/config"
)

type DBClient struct {
	DB  *gorm.DB
	log *zap.Logger
}

// GormConfig stamps every auto-managed timestamp in UTC at microsecond
// precision, the resolution the schema stores.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		NowFunc: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError:                           true,
		DisableForeignKeyConstraintWhenMigrating: true,
	}
}

// NewDB opens the configured backend. Postgres connections are pinned to the
// configured schema through search_path, so table names stay unqualified.
func NewDB(cfg config.DatabaseConfig, log *zap.Logger) (*DBClient, error) {
	if cfg.Driver == "sqlite" {
		return NewSQLiteDB(cfg.DSN, log)
	}
	return NewPostgresDB(cfg, log)
}

func NewPostgresDB(cfg config.DatabaseConfig, log *zap.Logger) (*DBClient, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is not set")
	}

	dsn, err := withSearchPath(cfg.DSN, cfg.Schema)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DriverName: "postgres",
		DSN:        dsn,
	}), GormConfig())
	if err != nil {
		return nil, fmt.Errorf("error opening database connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error getting sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err = sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("error connecting to the database (ping failed): %w", err)
	}

	if err := db.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, cfg.Schema)).Error; err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("error creating schema %s: %w", cfg.Schema, err)
	}

	log.Info("connected to PostgreSQL", zap.String("schema", cfg.Schema))
	return &DBClient{DB: db, log: log}, nil
}

// NewSQLiteDB opens a file-backed SQLite database with a single connection,
// which serialises writers the way SQLite requires.
func NewSQLiteDB(path string, log *zap.Logger) (*DBClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_foreign_keys=off"), GormConfig())
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error getting sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	log.Info("opened SQLite database", zap.String("path", path))
	return &DBClient{DB: db, log: log}, nil
}

func withSearchPath(dsn, schema string) (string, error) {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("invalid database dsn: %w", err)
		}
		q := u.Query()
		if q.Get("search_path") == "" {
			q.Set("search_path", schema)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	if strings.Contains(dsn, "search_path=") {
		return dsn, nil
	}
	return strings.TrimSpace(dsn) + " search_path=" + schema, nil
}

func (c *DBClient) Close() {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		c.log.Error("error closing database connection", zap.Error(err))
		return
	}
	c.log.Info("database connection closed")
}
