// Package postgres manages the relational store connection shared by a
// service's request path and its background loops.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Gwatamalou/orderprocessor/internal/pkg/log"
	"github.com/bxcodec/dbresolver/v2"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"

	// File system migration source, required by migrate.NewWithDatabaseInstance.
	_ "github.com/golang-migrate/migrate/v4/source/file"
	// database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var (
	connectionStringCredentialsPattern = regexp.MustCompile(`://[^@\s]+@`)
	connectionStringPasswordPattern    = regexp.MustCompile(`(?i)(password=)([^\s&]+)`)
	dbNamePattern                      = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)
)

// Connection is a hub which deals with postgres connections. The replica
// connection string may equal the primary when no read replica exists.
type Connection struct {
	ConnectionStringPrimary string
	ConnectionStringReplica string
	DatabaseName            string
	MigrationsPath          string
	Logger                  log.Logger
	MaxOpenConnections      int
	MaxIdleConnections      int
	connectionDB            dbresolver.DB
	primaryDB               *sql.DB
	connected               bool
	mu                      sync.RWMutex
}

func (pc *Connection) initDefaults() {
	if pc.Logger == nil {
		pc.Logger = log.NewNop()
	}

	if pc.ConnectionStringReplica == "" {
		pc.ConnectionStringReplica = pc.ConnectionStringPrimary
	}

	if pc.MaxOpenConnections <= 0 {
		pc.MaxOpenConnections = defaultMaxOpenConns
	}

	if pc.MaxIdleConnections <= 0 {
		pc.MaxIdleConnections = defaultMaxIdleConns
	}
}

// Connect opens the primary and replica pools, runs pending migrations, and
// verifies connectivity with a ping.
func (pc *Connection) Connect(ctx context.Context) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	return pc.connectLocked(ctx)
}

// connectLocked performs the actual connection. Caller must hold pc.mu write lock.
func (pc *Connection) connectLocked(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	pc.initDefaults()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled before database connection: %w", err)
	}

	if pc.connectionDB != nil {
		if err := pc.closeLocked(); err != nil {
			pc.Logger.Log(ctx, log.LevelWarn, "failed to close previous connection before reconnect", log.Err(err))
		}
	}

	pc.Logger.Log(ctx, log.LevelInfo, "connecting to primary and replica databases")

	dbPrimary, err := sql.Open("pgx", pc.ConnectionStringPrimary)
	if err != nil {
		sanitizedErr := sanitizeSensitiveError(err)
		pc.Logger.Log(ctx, log.LevelError, "failed to connect to primary database", log.String("error_detail", sanitizedErr))

		return fmt.Errorf("failed to connect to primary database: %s", sanitizedErr)
	}

	// Ensure primary is cleaned up if anything downstream fails.
	var success bool

	defer func() {
		if !success {
			dbPrimary.Close()
		}
	}()

	tunePool(dbPrimary, pc.MaxOpenConnections, pc.MaxIdleConnections)

	dbReplica, err := sql.Open("pgx", pc.ConnectionStringReplica)
	if err != nil {
		sanitizedErr := sanitizeSensitiveError(err)
		pc.Logger.Log(ctx, log.LevelError, "failed to connect to replica database", log.String("error_detail", sanitizedErr))

		return fmt.Errorf("failed to connect to replica database: %s", sanitizedErr)
	}

	defer func() {
		if !success {
			dbReplica.Close()
		}
	}()

	tunePool(dbReplica, pc.MaxOpenConnections, pc.MaxIdleConnections)

	connectionDB := dbresolver.New(
		dbresolver.WithPrimaryDBs(dbPrimary),
		dbresolver.WithReplicaDBs(dbReplica),
		dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
	)

	if pc.MigrationsPath != "" {
		migrationsPath, err := sanitizePath(pc.MigrationsPath)
		if err != nil {
			pc.Logger.Log(ctx, log.LevelError, "failed to resolve migrations path", log.Err(err))

			return err
		}

		if err := runMigrations(ctx, dbPrimary, migrationsPath, pc.DatabaseName, pc.Logger); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled before ping: %w", err)
	}

	if err := connectionDB.PingContext(ctx); err != nil {
		pc.Logger.Log(ctx, log.LevelError, "failed to ping database", log.Err(err))

		return fmt.Errorf("failed to ping database: %w", err)
	}

	pc.connected = true
	pc.connectionDB = connectionDB
	pc.primaryDB = dbPrimary

	pc.Logger.Log(ctx, log.LevelInfo, "connected to postgres")

	success = true

	return nil
}

func tunePool(db *sql.DB, maxOpen, maxIdle int) {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)
}

// GetDB returns the resolver, initializing the connection if necessary.
func (pc *Connection) GetDB(ctx context.Context) (dbresolver.DB, error) {
	pc.mu.RLock()

	if pc.connectionDB != nil {
		db := pc.connectionDB
		pc.mu.RUnlock()

		return db, nil
	}

	pc.mu.RUnlock()

	pc.mu.Lock()
	defer pc.mu.Unlock()

	// Double-check after acquiring write lock.
	if pc.connectionDB != nil {
		return pc.connectionDB, nil
	}

	if err := pc.connectLocked(ctx); err != nil {
		return nil, err
	}

	return pc.connectionDB, nil
}

// Primary returns the primary pool for transactional work (business writes
// and dispatch cycles must not land on a replica).
func (pc *Connection) Primary(ctx context.Context) (*sql.DB, error) {
	if _, err := pc.GetDB(ctx); err != nil {
		return nil, err
	}

	pc.mu.RLock()
	defer pc.mu.RUnlock()

	if pc.primaryDB == nil {
		return nil, errors.New("primary database is not connected")
	}

	return pc.primaryDB, nil
}

// Ping verifies store reachability for health reporting.
func (pc *Connection) Ping(ctx context.Context) error {
	db, err := pc.GetDB(ctx)
	if err != nil {
		return err
	}

	return db.PingContext(ctx)
}

// Close releases database connection resources.
func (pc *Connection) Close() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	return pc.closeLocked()
}

func (pc *Connection) closeLocked() error {
	if pc.connectionDB != nil {
		err := pc.connectionDB.Close()
		pc.connectionDB = nil
		pc.primaryDB = nil
		pc.connected = false

		return err
	}

	return nil
}

// IsConnected reports whether the database resolver is initialized.
func (pc *Connection) IsConnected() bool {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	return pc.connected
}

func sanitizeSensitiveError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := connectionStringCredentialsPattern.ReplaceAllString(err.Error(), "://***@")
	sanitized = connectionStringPasswordPattern.ReplaceAllString(sanitized, "${1}***")

	return sanitized
}

func sanitizePath(path string) (string, error) {
	cleaned := filepath.Clean(path)
	parts := strings.Split(cleaned, string(filepath.Separator))

	for _, part := range parts {
		if part == ".." {
			return "", fmt.Errorf("invalid migrations path: %q", path)
		}
	}

	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	return absPath, nil
}

func validateDBName(name string) error {
	if !dbNamePattern.MatchString(name) {
		return fmt.Errorf("invalid database name: %q", name)
	}

	return nil
}

func runMigrations(ctx context.Context, dbPrimary *sql.DB, migrationsPath, dbName string, logger log.Logger) error {
	if err := validateDBName(dbName); err != nil {
		logger.Log(ctx, log.LevelError, "invalid database name", log.Err(err))

		return err
	}

	sourceURL, err := url.Parse(filepath.ToSlash(migrationsPath))
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to parse migrations url", log.Err(err))

		return fmt.Errorf("failed to parse migrations url: %w", err)
	}

	sourceURL.Scheme = "file"

	driver, err := postgres.WithInstance(dbPrimary, &postgres.Config{
		DatabaseName: dbName,
		SchemaName:   "public",
	})
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to create postgres driver instance", log.Err(err))

		return fmt.Errorf("failed to create postgres driver instance: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(sourceURL.String(), dbName, driver)
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to create migration instance", log.Err(err))

		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Log(ctx, log.LevelInfo, "no new migrations found, skipping")

			return nil
		}

		if errors.Is(err, os.ErrNotExist) {
			logger.Log(ctx, log.LevelWarn, "no migration files found, skipping migration step")

			return nil
		}

		var dirtyErr migrate.ErrDirty
		if errors.As(err, &dirtyErr) {
			logger.Log(ctx, log.LevelError, "migration failed with dirty version", log.Int("version", dirtyErr.Version))

			return fmt.Errorf("migration failed: dirty database version %d", dirtyErr.Version)
		}

		logger.Log(ctx, log.LevelError, "migration failed", log.Err(err))

		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}
