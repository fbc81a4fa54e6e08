package gormstore

import (
	"strings"

	"github.com/nlstn/go-admin/internal/errs"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Supported driver names for Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to a database with one of the supported drivers. A nil cfg
// uses the GORM defaults.
func Open(driver, dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = &gorm.Config{}
	}
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case DriverSQLite, "sqlite3":
		dialector = sqlite.Open(dsn)
	case DriverPostgres, "postgresql", "pgx":
		dialector = postgres.Open(dsn)
	default:
		return nil, errs.InvalidArgumentf("unsupported database driver '%s'", driver)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, errs.Wrapf(err, "failed to open %s database", driver)
	}
	return db, nil
}
