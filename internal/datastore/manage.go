package datastore

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rshstkv/foodtray-annotations-sub002/internal/logging"
)

// DefaultSlowQueryThreshold defines the duration after which a query is
// considered slow. One second accommodates migration batch queries.
const DefaultSlowQueryThreshold = 1 * time.Second

var log = logging.ForService("datastore")

// createGormLogger configures the GORM logger: silent in normal operation,
// query logging in debug mode.
func createGormLogger(debug bool) gormlogger.Interface {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return gormlogger.Default.LogMode(level)
}

// performAutoMigration creates or updates the schema for every entity. Parent
// tables migrate before children so foreign keys resolve.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&Recognition{},
		&Image{},
		&RecipeLine{},
		&RecipeLineOption{},
		&InitialItem{},
		&InitialAnnotation{},
		&WorkSession{},
		&WorkItem{},
		&WorkAnnotation{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		log.Debug("database schema migrated",
			slog.String("db_type", dbType),
			slog.String("connection", connectionInfo))
	}
	return nil
}
