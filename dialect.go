package admin

import (
	"context"
	"fmt"

	"github.com/nlstn/go-admin/internal/store/gormstore"
	"gorm.io/gorm"
)

// probe exercises the SQL functions search predicates are translated to.
const dialectProbe = `SELECT UPPER(CAST('ab' AS TEXT)) = 'AB'` +
	` AND SUBSTR(CAST('ab' AS TEXT), 1, 1) = 'a'` +
	` AND UPPER('a_b') LIKE 'A\_B' ESCAPE '\'`

// CheckDatabase validates that the database of the service can run the SQL
// searches are translated to. In-memory services always pass.
//
// Example:
//
//	service, err := admin.NewService(db)
//	if err != nil {
//		log.Fatalf("Failed to create service: %v", err)
//	}
//	if err := service.CheckDatabase(ctx); err != nil {
//		log.Fatalf("Unsupported database: %v", err)
//	}
func (s *Service) CheckDatabase(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if err := checkDialect(ctx, s.db); err != nil {
		s.logger.Error("Database check failed", "dialect", s.db.Name(), "error", err)
		return fmt.Errorf("database cannot serve admin searches: %w", err)
	}
	s.logger.Info("Database check passed", "dialect", s.db.Name())
	return nil
}

func checkDialect(ctx context.Context, db *gorm.DB) error {
	if db.Dialector == nil {
		return fmt.Errorf("database connection is not initialized")
	}

	switch dialect := db.Name(); dialect {
	case gormstore.DriverSQLite, "sqlite3", gormstore.DriverPostgres, "postgresql":
	default:
		return fmt.Errorf("database dialect '%s' is not supported; use sqlite or postgres", dialect)
	}

	var ok bool
	if err := db.WithContext(ctx).Raw(dialectProbe).Row().Scan(&ok); err != nil {
		return fmt.Errorf("search functions are not available: %w", err)
	}
	if !ok {
		return fmt.Errorf("search functions returned unexpected results")
	}
	return nil
}
