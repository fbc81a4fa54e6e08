package gormstore

import (
	"context"
	"log/slog"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/nlstn/go-admin/internal/errs"
	"github.com/nlstn/go-admin/internal/metadata"
	"github.com/nlstn/go-admin/internal/query"
	"github.com/nlstn/go-admin/internal/scope"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// aliasSeparator joins navigation names into the alias of a joined table.
const aliasSeparator = "__"

// queryBuilder accumulates the GORM clauses that translate one query.Query.
// Count and page queries are built from the same state on separate chains.
type queryBuilder struct {
	db       *gorm.DB
	entity   *metadata.EntityDescriptor
	schema   *schema.Schema
	wheres   []clause.Expression
	joins    []joinClause
	joined   map[string]bool
	selects  []clause.Column
	orderBys []clause.OrderByColumn
	preloads []preload
	limit    *int
	offset   int
	logger   *slog.Logger
}

// joinClause is a LEFT JOIN with its parameters.
type joinClause struct {
	sql  string
	vars []interface{}
}

// preload loads one navigation path with a column selection.
type preload struct {
	path    string
	columns []string
}

func newQueryBuilder(db *gorm.DB, d *metadata.EntityDescriptor) (*queryBuilder, error) {
	sch, err := parseSchema(db, d.Type)
	if err != nil {
		return nil, err
	}
	return &queryBuilder{
		db:     db,
		entity: d,
		schema: sch,
		joined: make(map[string]bool),
		logger: slog.Default(),
	}, nil
}

func parseSchema(db *gorm.DB, t reflect.Type) (*schema.Schema, error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(reflect.New(t).Interface()); err != nil {
		return nil, errs.InvalidArgumentf("failed to parse %s: %v", t.Name(), err)
	}
	return stmt.Schema, nil
}

// WithLogger sets the logger for the query builder
func (qb *queryBuilder) WithLogger(logger *slog.Logger) *queryBuilder {
	if logger != nil {
		qb.logger = logger
	}
	return qb
}

// Where adds a condition. Conditions are combined with AND.
func (qb *queryBuilder) Where(expr clause.Expression) *queryBuilder {
	if expr != nil {
		qb.wheres = append(qb.wheres, expr)
	}
	return qb
}

// Select adds root table columns to the SELECT list.
func (qb *queryBuilder) Select(columns ...string) *queryBuilder {
	for _, name := range columns {
		col := clause.Column{Table: clause.CurrentTable, Name: name}
		if !containsColumn(qb.selects, col) {
			qb.selects = append(qb.selects, col)
		}
	}
	return qb
}

// OrderBy adds a sort key.
func (qb *queryBuilder) OrderBy(col clause.Column, desc bool) *queryBuilder {
	qb.orderBys = append(qb.orderBys, clause.OrderByColumn{Column: col, Desc: desc})
	return qb
}

// Limit sets the LIMIT for the query
func (qb *queryBuilder) Limit(n int) *queryBuilder {
	qb.limit = &n
	return qb
}

// Offset sets the OFFSET for the query
func (qb *queryBuilder) Offset(n int) *queryBuilder {
	qb.offset = n
	return qb
}

// column returns the column of path, joining the tables of the navigations
// it crosses.
func (qb *queryBuilder) column(path *metadata.PropertyPath) (clause.Column, error) {
	if path.Property.IsCalculated || path.Property.Column == "" {
		return clause.Column{}, errs.InvalidArgumentf("property %q has no column", path.Raw)
	}
	if len(path.Navigations) == 0 {
		return clause.Column{Table: clause.CurrentTable, Name: path.Property.Column}, nil
	}

	sch := qb.schema
	parent := clause.CurrentTable
	names := make([]string, 0, len(path.Navigations))
	for _, nav := range path.Navigations {
		rel, ok := sch.Relationships.Relations[nav.Name]
		if !ok {
			return clause.Column{}, errs.InvalidArgumentf("no relationship %s on %s", nav.Name, sch.Name)
		}
		names = append(names, nav.Name)
		alias := strings.Join(names, aliasSeparator)
		if !qb.joined[alias] {
			qb.joins = append(qb.joins, leftJoin(rel, parent, alias))
			qb.joined[alias] = true
		}
		sch = rel.FieldSchema
		parent = alias
	}
	return clause.Column{Table: parent, Name: path.Property.Column}, nil
}

// leftJoin builds the join of rel under alias. The SQL text holds only
// placeholders so GORM treats it as a raw join.
func leftJoin(rel *schema.Relationship, parent, alias string) joinClause {
	conditions := make([]string, 0, len(rel.References))
	vars := []interface{}{clause.Table{Name: rel.FieldSchema.Table, Alias: alias}}
	for _, ref := range rel.References {
		conditions = append(conditions, "? = ?")
		switch {
		case ref.PrimaryValue != "":
			vars = append(vars, clause.Column{Table: alias, Name: ref.ForeignKey.DBName}, ref.PrimaryValue)
		case ref.OwnPrimaryKey:
			vars = append(vars, clause.Column{Table: parent, Name: ref.PrimaryKey.DBName}, clause.Column{Table: alias, Name: ref.ForeignKey.DBName})
		default:
			vars = append(vars, clause.Column{Table: parent, Name: ref.ForeignKey.DBName}, clause.Column{Table: alias, Name: ref.PrimaryKey.DBName})
		}
	}
	return joinClause{sql: "LEFT JOIN ? ON " + strings.Join(conditions, " AND "), vars: vars}
}

// compile translates a filter expression into a GORM clause.
func (qb *queryBuilder) compile(expr query.Expr) (clause.Expression, error) {
	switch node := expr.(type) {
	case nil:
		return nil, nil
	case query.And:
		exprs, err := qb.compileAll(node)
		if err != nil || len(exprs) == 0 {
			return nil, err
		}
		return clause.And(exprs...), nil
	case query.Or:
		exprs, err := qb.compileAll(node)
		if err != nil || len(exprs) == 0 {
			return nil, err
		}
		if len(exprs) == 1 {
			return exprs[0], nil
		}
		return clause.Or(exprs...), nil
	case query.Compare:
		path, err := qb.entity.ResolvePath(node.Path)
		if err != nil {
			return nil, err
		}
		col, err := qb.column(path)
		if err != nil {
			return nil, err
		}
		return comparison(col, node)
	case query.Raw:
		return clause.Expr{SQL: node.SQL, Vars: node.Args}, nil
	default:
		return nil, errs.Unsupportedf("unknown expression %T", expr)
	}
}

func (qb *queryBuilder) compileAll(nodes []query.Expr) ([]clause.Expression, error) {
	exprs := make([]clause.Expression, 0, len(nodes))
	for _, n := range nodes {
		e, err := qb.compile(n)
		if err != nil {
			return nil, err
		}
		if e != nil {
			exprs = append(exprs, e)
		}
	}
	return exprs, nil
}

func comparison(col clause.Column, c query.Compare) (clause.Expression, error) {
	switch c.Op {
	case query.OpContainsFold:
		pattern := "%" + escapeLike(strings.ToUpper(query.Stringify(c.Value))) + "%"
		return clause.Expr{SQL: "UPPER(CAST(? AS TEXT)) LIKE ? ESCAPE '\\'", Vars: []interface{}{col, pattern}}, nil
	case query.OpHasPrefix:
		prefix := query.Stringify(c.Value)
		return clause.Expr{
			SQL:  "SUBSTR(CAST(? AS TEXT), 1, ?) = ?",
			Vars: []interface{}{col, utf8.RuneCountInString(prefix), prefix},
		}, nil
	case query.OpEqualFold:
		return clause.Expr{SQL: "UPPER(CAST(? AS TEXT)) = ?", Vars: []interface{}{col, strings.ToUpper(query.Stringify(c.Value))}}, nil
	case query.OpIsNull:
		return clause.Expr{SQL: "? IS NULL", Vars: []interface{}{col}}, nil
	case query.OpEqual:
		return clause.Eq{Column: col, Value: c.Value}, nil
	default:
		return nil, errs.Unsupportedf("unsupported operator %s", c.Op)
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func containsColumn(cols []clause.Column, col clause.Column) bool {
	for _, c := range cols {
		if c == col {
			return true
		}
	}
	return false
}

func sameModel(a, b *schema.Schema) bool {
	return a != nil && b != nil && a.ModelType == b.ModelType
}

func addColumn(cols []string, name string) []string {
	if name == "" {
		return cols
	}
	for _, c := range cols {
		if c == name {
			return cols
		}
	}
	return append(cols, name)
}

// project selects the root columns of p and preloads its navigations, each
// with only the columns the projection and the relation keys need.
func (qb *queryBuilder) project(p *query.Projection) {
	columns := projectedColumns(p, qb.schema)
	qb.Select(columns...)
	qb.preloadNavigations(p, qb.schema, "")
}

func projectedColumns(p *query.Projection, sch *schema.Schema) []string {
	var columns []string
	for _, pk := range p.Entity.PrimaryKeys() {
		columns = addColumn(columns, pk.Column)
	}
	for _, prop := range p.Properties {
		columns = addColumn(columns, prop.Column)
	}
	for _, np := range p.Navigations {
		rel, ok := sch.Relationships.Relations[np.Navigation.Name]
		if !ok {
			continue
		}
		for _, ref := range rel.References {
			if ref.ForeignKey != nil && sameModel(ref.ForeignKey.Schema, sch) && ref.PrimaryValue == "" {
				columns = addColumn(columns, ref.ForeignKey.DBName)
			}
			if ref.OwnPrimaryKey && ref.PrimaryKey != nil && sameModel(ref.PrimaryKey.Schema, sch) {
				columns = addColumn(columns, ref.PrimaryKey.DBName)
			}
		}
	}
	return columns
}

func (qb *queryBuilder) preloadNavigations(p *query.Projection, sch *schema.Schema, prefix string) {
	for _, np := range p.Navigations {
		rel, ok := sch.Relationships.Relations[np.Navigation.Name]
		if !ok {
			continue
		}
		path := prefix + np.Navigation.Name
		columns := projectedColumns(np.Target, rel.FieldSchema)
		for _, ref := range rel.References {
			if ref.ForeignKey != nil && sameModel(ref.ForeignKey.Schema, rel.FieldSchema) {
				columns = addColumn(columns, ref.ForeignKey.DBName)
			}
		}
		qb.preloads = append(qb.preloads, preload{path: path, columns: columns})
		qb.preloadNavigations(np.Target, rel.FieldSchema, path+".")
	}
}

// translate fills the builder from q.
func (qb *queryBuilder) translate(q *query.Query) error {
	filter, err := qb.compile(q.Filter)
	if err != nil {
		return err
	}
	qb.Where(filter)
	for _, s := range q.Scopes {
		if s.IsZero() {
			continue
		}
		qb.Where(scopeExpr(s))
	}
	for _, key := range q.Order {
		col, err := qb.column(key.Path)
		if err != nil {
			return err
		}
		qb.OrderBy(col, key.Descending)
	}
	if q.Projection != nil {
		qb.project(q.Projection)
	}
	if q.Limit > 0 {
		qb.Limit(q.Limit)
	}
	qb.Offset(q.Offset)
	return nil
}

func scopeExpr(s scope.QueryScope) clause.Expression {
	return clause.Expr{SQL: s.Condition, Vars: s.Args}
}

func (qb *queryBuilder) base(ctx context.Context) *gorm.DB {
	tx := qb.db.WithContext(ctx).Model(reflect.New(qb.entity.Type).Interface())
	for _, j := range qb.joins {
		tx = tx.Joins(j.sql, j.vars...)
	}
	for _, w := range qb.wheres {
		tx = tx.Where(w)
	}
	return tx
}

// CountContext returns the number of rows matching the conditions.
func (qb *queryBuilder) CountContext(ctx context.Context) (int64, error) {
	var count int64
	result := qb.base(ctx).Count(&count)
	if qb.logger != nil {
		qb.logger.Debug("Executing count query", "sql", result.Statement.SQL.String(), "args", result.Statement.Vars)
	}
	if result.Error != nil {
		return 0, errs.Wrapf(result.Error, "failed to count %s", qb.entity.SetName)
	}
	return count, nil
}

// page returns the chain that loads the requested page.
func (qb *queryBuilder) page(ctx context.Context) *gorm.DB {
	tx := qb.base(ctx)
	if len(qb.selects) > 0 {
		tx = tx.Clauses(clause.Select{Columns: qb.selects})
	}
	for _, o := range qb.orderBys {
		tx = tx.Order(o)
	}
	for _, p := range qb.preloads {
		columns := p.columns
		tx = tx.Preload(p.path, func(db *gorm.DB) *gorm.DB {
			return db.Select(columns)
		})
	}
	if qb.limit != nil {
		tx = tx.Limit(*qb.limit)
	}
	if qb.offset > 0 {
		tx = tx.Offset(qb.offset)
	}
	return tx
}

// FindContext loads the requested page into a new slice of entity pointers.
func (qb *queryBuilder) FindContext(ctx context.Context) ([]interface{}, error) {
	dest := reflect.New(reflect.SliceOf(reflect.PointerTo(qb.entity.Type)))
	result := qb.page(ctx).Find(dest.Interface())
	if qb.logger != nil {
		qb.logger.Debug("Executing query", "sql", result.Statement.SQL.String(), "args", result.Statement.Vars)
	}
	if result.Error != nil {
		return nil, errs.Wrapf(result.Error, "failed to query %s", qb.entity.SetName)
	}

	rows := dest.Elem()
	items := make([]interface{}, rows.Len())
	for i := range items {
		items[i] = rows.Index(i).Interface()
	}
	return items, nil
}
