package gormstore

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/nlstn/go-admin/internal/query"
	"gorm.io/gorm"
)

func dryRunSQL(t *testing.T, store *Store, entity interface{}, properties []string, opts query.SearchOptions) string {
	t.Helper()
	d, err := store.registry.DescribeValue(entity)
	if err != nil {
		t.Fatalf("Failed to describe entity: %v", err)
	}
	q, err := query.Plan(d, properties, opts, nil, nil, query.Limits{})
	if err != nil {
		t.Fatalf("Failed to plan query: %v", err)
	}
	qb, err := newQueryBuilder(store.DB().Session(&gorm.Session{DryRun: true}), d)
	if err != nil {
		t.Fatalf("Failed to create builder: %v", err)
	}
	if err := qb.translate(q); err != nil {
		t.Fatalf("Failed to translate query: %v", err)
	}

	dest := reflect.New(reflect.SliceOf(reflect.PointerTo(d.Type))).Interface()
	tx := qb.page(context.Background()).Find(dest)
	return tx.Statement.SQL.String()
}

func TestQueryBuilder_JoinsSearchableNavigation(t *testing.T) {
	store := setupStore(t)

	sql := dryRunSQL(t, store, Shop{}, nil, query.SearchOptions{SearchString: "ali"})

	if !strings.Contains(sql, "LEFT JOIN `owners` `Owner`") {
		t.Errorf("Expected join of owners under alias, got %q", sql)
	}
	if !strings.Contains(sql, "`shops`.`owner_id` = `Owner`.`id`") {
		t.Errorf("Expected belongs-to join condition, got %q", sql)
	}
	if !strings.Contains(sql, "UPPER(CAST(`Owner`.`name` AS TEXT)) LIKE") {
		t.Errorf("Expected case-insensitive contains on owner name, got %q", sql)
	}
	if !strings.Contains(sql, " OR ") {
		t.Errorf("Expected searchable properties to be ORed, got %q", sql)
	}
}

func TestQueryBuilder_NoJoinWithoutNavigationPath(t *testing.T) {
	store := setupStore(t)

	sql := dryRunSQL(t, store, Address{}, []string{"Street"}, query.SearchOptions{SearchString: "main"})

	if strings.Contains(sql, "JOIN") {
		t.Errorf("Expected no joins, got %q", sql)
	}
	if !strings.Contains(sql, "SELECT `addresses`.`id`,`addresses`.`street`") {
		t.Errorf("Expected projected columns, got %q", sql)
	}
	if !strings.Contains(sql, "ORDER BY `addresses`.`id`") {
		t.Errorf("Expected default key order, got %q", sql)
	}
}

func TestQueryBuilder_EmptySearchHasNoWhere(t *testing.T) {
	store := setupStore(t)

	sql := dryRunSQL(t, store, Address{}, nil, query.SearchOptions{})

	if strings.Contains(sql, "WHERE") {
		t.Errorf("Expected no WHERE clause, got %q", sql)
	}
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"50%", `50\%`},
		{"a_b", `a\_b`},
		{`c:\dir`, `c:\\dir`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
