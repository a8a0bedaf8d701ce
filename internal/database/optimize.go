package database

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// OptimizeDatabase verifies the SQLite settings and creates the secondary
// indexes. It is idempotent.
func OptimizeDatabase(db *gorm.DB, logger *pterm.Logger) error {
	logger.Debug("Applying database optimizations...")

	var journalMode string
	if err := db.Raw("PRAGMA journal_mode").Scan(&journalMode).Error; err != nil {
		logger.Warn("Failed to check journal mode", logger.Args("error", err))
	} else if journalMode != "wal" && journalMode != "memory" {
		logger.Warn("Database not in WAL mode", logger.Args("mode", journalMode))
	} else {
		logger.Trace("Database journal mode verified", logger.Args("mode", journalMode))
	}

	indexes := []string{
		// Env agent lookup at startup
		`CREATE INDEX IF NOT EXISTS idx_agents_source ON agents(source)`,
		// Listing order
		`CREATE INDEX IF NOT EXISTS idx_agents_number ON agents(number)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_log_sources_path ON log_sources(path)`,
	}

	var failed []string
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			logger.Debug("Index creation failed", logger.Args("sql", stmt, "error", err))
			failed = append(failed, err.Error())
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d index statements failed: %s", len(failed), strings.Join(failed, "; "))
	}

	logger.Trace("Database indexes verified", logger.Args("count", len(indexes)))
	return nil
}
