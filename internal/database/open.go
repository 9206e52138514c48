// Package database opens the configured notification store.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aris-ansari/x-clone/internal/notifications"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

const disconnectTimeout = 5 * time.Second

// Config selects and locates the backing database.
type Config struct {
	Driver    string
	Path      string
	DSN       string
	MongoURI  string
	MongoName string
}

// Closer releases the resources held by an opened store.
type Closer func() error

// Open connects to the configured driver and returns a ready notification store.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (notifications.Store, Closer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverSQLite, "":
		db, err := OpenSQLite(cfg.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return notifications.NewGormStore(db), gormCloser(db), nil
	case DriverPostgres:
		db, err := OpenPostgres(cfg.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return notifications.NewGormStore(db), gormCloser(db), nil
	case DriverMongo:
		client, db, err := OpenMongo(ctx, cfg.MongoURI, cfg.MongoName, logger)
		if err != nil {
			return nil, nil, err
		}
		store := notifications.NewMongoStore(db)
		closer := func() error {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
			defer cancel()
			return client.Disconnect(disconnectCtx)
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = closer()
			return nil, nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		return store, closer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func gormCloser(db *gorm.DB) Closer {
	return func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
}
