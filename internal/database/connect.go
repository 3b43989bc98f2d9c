// Package database manages the optional Postgres connection used to persist
// AnyVid's history. Schema migrations are embedded in the binary and applied
// with goose once the connection is established.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/hbomb79/anyvid/pkg/logger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	sqldblogger "github.com/simukti/sqldb-logger"
)

const (
	SqlDialect          = "postgres"
	SqlConnectionString = "host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC"

	connectAttempts = 5
)

var (
	//go:embed migrations/*.sql
	migrations embed.FS

	dbLogger = logger.Get("DB")

	ErrNotConnected = errors.New("database manager has not yet connected")
)

type (
	Config struct {
		Enabled  bool   `yaml:"enabled" env:"DB_ENABLED" env-default:"false"`
		User     string `yaml:"username" env:"DB_USERNAME"`
		Password string `yaml:"password" env:"DB_PASSWORD"`
		Name     string `yaml:"name" env:"DB_NAME" env-default:"ANYVID_DB"`
		Host     string `yaml:"host" env:"DB_HOST" env-default:"0.0.0.0"`
		Port     string `yaml:"port" env:"DB_PORT" env-default:"5432"`
	}

	// Queryable is satisfied by both *sqlx.DB and *sqlx.Tx, allowing stores
	// to be used inside or outside of a transaction.
	Queryable interface {
		Exec(query string, args ...any) (sql.Result, error)
		NamedExec(query string, arg any) (sql.Result, error)
		Get(dest any, query string, args ...any) error
		Select(dest any, query string, args ...any) error
		Rebind(query string) string
	}

	SqlLogger struct {
		logger logger.Logger
	}

	Manager interface {
		Connect(context.Context, Config) error
		GetSqlxDb() *sqlx.DB
		WrapTx(func(*sqlx.Tx) error) error
		Close() error
	}

	manager struct {
		rawDb      *sql.DB
		db         *sqlx.DB
		retryDelay time.Duration
	}
)

func New() *manager {
	return &manager{retryDelay: time.Second * 3}
}

// DSN builds the postgres connection string for this config.
func (config Config) DSN() string {
	return fmt.Sprintf(SqlConnectionString, config.Host, config.User, config.Password, config.Name, config.Port)
}

// Connect opens the database, retrying the initial ping a handful of times
// to allow for a database which is still starting, and then applies any
// pending migrations.
func (db *manager) Connect(ctx context.Context, config Config) error {
	dsn := config.DSN()
	sql, err := sql.Open(SqlDialect, dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	sql = sqldblogger.OpenDriver(dsn, sql.Driver(), &SqlLogger{dbLogger})

	for attempt := 1; ; attempt++ {
		err := sql.PingContext(ctx)
		if err == nil {
			break
		}

		if attempt >= connectAttempts {
			dbLogger.Emit(logger.ERROR, "All attempts FAILED!\n")
			_ = sql.Close()
			return err
		}

		dbLogger.Emit(logger.WARNING, "Attempt (%v/%v) failed... Retrying in %s\n", attempt, connectAttempts, db.retryDelay)
		select {
		case <-time.After(db.retryDelay):
		case <-ctx.Done():
			_ = sql.Close()
			return ctx.Err()
		}
	}

	db.rawDb = sql
	db.db = sqlx.NewDb(sql, SqlDialect)

	if err := db.ExecuteMigrations(); err != nil {
		return err
	}

	dbLogger.Emit(logger.SUCCESS, "Database connection complete!\n")
	return nil
}

// ExecuteMigrations uses the comp-time embedded SQL migrations (found in the 'migrations'
// dir in this package) and runs them against the current DB instance.
//
// Note that this method must only be called following a successful DB connection.
func (db *manager) ExecuteMigrations() error {
	rawDb := db.rawDb
	if rawDb == nil {
		return fmt.Errorf("cannot execute migrations: %w", ErrNotConnected)
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(dbLogger)
	if err := goose.SetDialect(SqlDialect); err != nil {
		return fmt.Errorf("failed to set dialect for DB migration: %w", err)
	}

	dbLogger.Emit(logger.INFO, "Checking for pending DB migrations...\n")
	if err := goose.Up(rawDb, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate DB: %w", err)
	}

	dbLogger.Emit(logger.SUCCESS, "DB Goose migration complete!\n")
	return nil
}

// GetSqlxDb returns the sqlx connection if one has been opened using
// 'Connect'. Otherwise, nil is returned.
func (db *manager) GetSqlxDb() *sqlx.DB {
	return db.db
}

// WrapTx is a convenience method around the top-level WrapTx, which simply
// uses the managers DB instance as the first argument.
func (db *manager) WrapTx(f func(tx *sqlx.Tx) error) error {
	if db.db == nil {
		return ErrNotConnected
	}

	return WrapTx(db.db, f)
}

func (db *manager) Close() error {
	if db.db == nil {
		return nil
	}

	return db.db.Close()
}

func (l *SqlLogger) Log(_ context.Context, level sqldblogger.Level, msg string, data map[string]any) {
	template := "%s - %v\n"
	switch level {
	case sqldblogger.LevelTrace:
		l.logger.Verbosef(template, msg, data)
	case sqldblogger.LevelDebug, sqldblogger.LevelInfo:
		duration := data["duration"]
		if query, ok := data["query"]; ok {
			l.logger.Debugf("%s [%.2fms] -- %s\n", msg, duration, query)
		} else {
			l.logger.Debugf("%s [%.2fms]\n", msg, duration)
		}
	case sqldblogger.LevelError:
		l.logger.Errorf(template, msg, data)
	}
}

// WrapTx starts a transaction against the provided DB, and then calls the user
// provided function. If this function errors, the transaction is rolled back - otherwise
// the transaction is committed.
func WrapTx(db *sqlx.DB, f func(tx *sqlx.Tx) error) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := f(tx); err != nil {
		dbLogger.Errorf("Transaction failed... rolling back. Error: %s\n", err.Error())
		return err
	}

	return tx.Commit()
}
