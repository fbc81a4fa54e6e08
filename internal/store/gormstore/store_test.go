package gormstore

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/nlstn/go-admin/internal/errs"
	"github.com/nlstn/go-admin/internal/metadata"
	"github.com/nlstn/go-admin/internal/query"
	"github.com/nlstn/go-admin/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Address struct {
	ID     uint   `gorm:"primaryKey"`
	Street string `admin:"search"`
}

type Product struct {
	ID            uint `gorm:"primaryKey"`
	Name          string
	WeightInGrams *int `admin:"search=exact"`
}

type Owner struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `admin:"search"`
}

type Supplier struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

type Shop struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `admin:"search=startswith"`
	OwnerID   *uint
	Owner     *Owner      `admin:"search"`
	Suppliers []*Supplier `gorm:"many2many:shop_suppliers"`
}

type Base struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
}

type Article struct {
	Base
	Title string `admin:"search"`
}

type Draft struct {
	*Base
	Title string `admin:"search"`
}

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(DriverSQLite, ":memory:", &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&Address{}, &Product{}, &Owner{}, &Supplier{}, &Shop{}, &Article{}, &Draft{}))

	registry := metadata.NewRegistry(db.NamingStrategy, 2)
	for _, entity := range []interface{}{&Address{}, &Product{}, &Owner{}, &Supplier{}, &Shop{}, &Article{}, &Draft{}} {
		_, err := registry.Register(entity)
		require.NoError(t, err)
	}
	return New(db, registry)
}

func search(t *testing.T, store *Store, entity interface{}, properties []string, opts query.SearchOptions) ([]interface{}, int64) {
	t.Helper()
	d, err := store.registry.DescribeValue(entity)
	require.NoError(t, err)
	q, err := query.Plan(d, properties, opts, nil, nil, query.Limits{})
	require.NoError(t, err)
	items, total, err := store.Session().Query(context.Background(), q)
	require.NoError(t, err)
	return items, total
}

func grams(v int) *int {
	return &v
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("oracle", "", nil)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestSession_QueryContains(t *testing.T) {
	store := setupStore(t)
	require.NoError(t, store.DB().Create([]*Address{
		{Street: "Main St."},
		{Street: "Main Square St."},
		{Street: "Second Square St."},
		{Street: "Second main St."},
		{Street: "Central"},
	}).Error)

	items, total := search(t, store, Address{}, nil, query.SearchOptions{SearchString: "ain"})
	assert.Equal(t, int64(3), total)
	var streets []string
	for _, item := range items {
		streets = append(streets, item.(*Address).Street)
	}
	assert.Equal(t, []string{"Main St.", "Main Square St.", "Second main St."}, streets)
}

func TestSession_QueryNullSentinel(t *testing.T) {
	store := setupStore(t)
	require.NoError(t, store.DB().Create([]*Product{
		{Name: "Apple", WeightInGrams: grams(150)},
		{Name: "Gift card"},
		{Name: "Melon", WeightInGrams: grams(1200)},
		{Name: "Voucher"},
	}).Error)

	items, total := search(t, store, Product{}, nil, query.SearchOptions{SearchString: "None"})
	require.Equal(t, int64(2), total)
	assert.Equal(t, uint(2), items[0].(*Product).ID)
	assert.Equal(t, uint(4), items[1].(*Product).ID)

	_, total = search(t, store, Product{}, nil, query.SearchOptions{SearchString: "1200"})
	assert.Equal(t, int64(1), total)
}

func TestSession_QueryEmbeddedBase(t *testing.T) {
	store := setupStore(t)
	require.NoError(t, store.DB().Create([]*Article{{Title: "Intro"}, {Title: "Outro"}}).Error)
	require.NoError(t, store.DB().Create([]*Draft{{Base: &Base{}, Title: "Intro draft"}, {Base: &Base{}, Title: "Notes"}}).Error)

	items, total := search(t, store, Article{}, nil, query.SearchOptions{SearchString: "intro"})
	require.Equal(t, int64(1), total)
	article := items[0].(*Article)
	assert.Equal(t, uint(1), article.ID)
	assert.Equal(t, "Intro", article.Title)
	assert.False(t, article.CreatedAt.IsZero())

	items, total = search(t, store, Draft{}, []string{"ID", "Title"}, query.SearchOptions{
		OrderBy: []query.OrderBy{{PropertyPath: "ID", IsDescending: true}},
	})
	require.Equal(t, int64(2), total)
	first := items[0].(*Draft)
	require.NotNil(t, first.Base)
	assert.Equal(t, uint(2), first.ID)
	assert.Equal(t, "Notes", first.Title)
	assert.True(t, first.CreatedAt.IsZero())
}

func TestSession_QueryThroughNavigation(t *testing.T) {
	store := setupStore(t)
	alice, bob := &Owner{Name: "Alice"}, &Owner{Name: "Bob"}
	require.NoError(t, store.DB().Create([]*Owner{alice, bob}).Error)
	require.NoError(t, store.DB().Create([]*Shop{
		{Name: "Corner", OwnerID: &alice.ID},
		{Name: "Market", OwnerID: &bob.ID},
		{Name: "Kiosk"},
	}).Error)

	items, total := search(t, store, Shop{}, []string{"Name", "Owner.Name"}, query.SearchOptions{SearchString: "ALI"})
	require.Equal(t, int64(1), total)
	shop := items[0].(*Shop)
	assert.Equal(t, "Corner", shop.Name)
	require.NotNil(t, shop.Owner)
	assert.Equal(t, "Alice", shop.Owner.Name)
	assert.Nil(t, shop.Suppliers)

	// starts-with is case sensitive
	_, total = search(t, store, Shop{}, nil, query.SearchOptions{SearchString: "Mar"})
	assert.Equal(t, int64(1), total)
	_, total = search(t, store, Shop{}, nil, query.SearchOptions{SearchString: "mar"})
	assert.Equal(t, int64(0), total)
}

func TestSession_QueryOrderAndPage(t *testing.T) {
	store := setupStore(t)
	require.NoError(t, store.DB().Create([]*Address{
		{Street: "B"}, {Street: "D"}, {Street: "A"}, {Street: "C"},
	}).Error)

	items, total := search(t, store, Address{}, nil, query.SearchOptions{
		Page:     2,
		PageSize: 2,
		OrderBy:  []query.OrderBy{{PropertyPath: "Street", IsDescending: true}},
	})
	assert.Equal(t, int64(4), total)
	require.Len(t, items, 2)
	assert.Equal(t, "B", items[0].(*Address).Street)
	assert.Equal(t, "A", items[1].(*Address).Street)
}

func TestSession_QueryScope(t *testing.T) {
	store := setupStore(t)
	require.NoError(t, store.DB().Create([]*Address{{Street: "Main St."}, {Street: "Main Square St."}}).Error)

	d, err := store.registry.DescribeValue(Address{})
	require.NoError(t, err)
	q, err := query.Plan(d, nil, query.SearchOptions{SearchString: "main"}, nil, func(q *query.Query) error {
		q.Scope("street <> ?", "Main St.")
		return nil
	}, query.Limits{})
	require.NoError(t, err)

	items, total, err := store.Session().Query(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, "Main Square St.", items[0].(*Address).Street)
}

func TestSession_FindAndUpdate(t *testing.T) {
	store := setupStore(t)
	require.NoError(t, store.DB().Create(&Address{Street: "Main St."}).Error)
	ctx := context.Background()

	session := store.Session()
	found, err := session.Find(ctx, reflect.TypeOf(Address{}), 1)
	require.NoError(t, err)
	require.NoError(t, session.SetCurrentValues(found, &Address{ID: 1, Street: "High St."}))
	count, err := session.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var stored Address
	require.NoError(t, store.DB().First(&stored, 1).Error)
	assert.Equal(t, "High St.", stored.Street)

	_, err = session.Find(ctx, reflect.TypeOf(Address{}), 42)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSession_AddAndRemove(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	session := store.Session()
	address := &Address{Street: "New"}
	require.NoError(t, session.Add(address))
	_, err := session.SaveChanges(ctx)
	require.NoError(t, err)
	assert.NotZero(t, address.ID)

	require.NoError(t, session.Remove(address))
	_, err = session.SaveChanges(ctx)
	require.NoError(t, err)

	var count int64
	require.NoError(t, store.DB().Model(&Address{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSession_ConcurrencyConflict(t *testing.T) {
	store := setupStore(t)
	require.NoError(t, store.DB().Create(&Address{Street: "Main St."}).Error)
	ctx := context.Background()

	first, second := store.Session(), store.Session()
	a, err := first.Find(ctx, reflect.TypeOf(Address{}), 1)
	require.NoError(t, err)
	b, err := second.Find(ctx, reflect.TypeOf(Address{}), 1)
	require.NoError(t, err)

	require.NoError(t, first.Remove(a))
	_, err = first.SaveChanges(ctx)
	require.NoError(t, err)

	require.NoError(t, second.SetCurrentValues(b, &Address{ID: 1, Street: "Gone St."}))
	_, err = second.SaveChanges(ctx)
	assert.ErrorIs(t, err, errs.ErrConcurrencyConflict)
}

func TestSession_ReconcileSuppliers(t *testing.T) {
	store := setupStore(t)
	suppliers := []*Supplier{{Name: "Acme"}, {Name: "Bolt"}, {Name: "Crane"}}
	require.NoError(t, store.DB().Create(suppliers).Error)
	require.NoError(t, store.DB().Create(&Shop{Name: "Corner", Suppliers: suppliers}).Error)
	ctx := context.Background()

	session := store.Session()
	found, err := session.Find(ctx, reflect.TypeOf(Shop{}), 1)
	require.NoError(t, err)
	original := found.(*Shop)
	require.Len(t, original.Suppliers, 3)
	untouched := original.Suppliers[0]
	attachesBefore := session.Attaches()

	replacement := &Shop{ID: 1, Name: "Corner Shop", Suppliers: []*Supplier{
		{ID: 1, Name: "Acme"},
		{ID: 3, Name: "Crane"},
		{Name: "Dynamo"},
	}}
	_, err = reconcile.New(store.registry, session, nil).Reconcile(ctx, replacement, original)
	require.NoError(t, err)
	assert.Equal(t, 1, session.Attaches()-attachesBefore)
	assert.Same(t, untouched, original.Suppliers[0])

	_, err = session.SaveChanges(ctx)
	require.NoError(t, err)

	var stored Shop
	require.NoError(t, store.DB().Preload("Suppliers", func(db *gorm.DB) *gorm.DB {
		return db.Order("name")
	}).First(&stored, 1).Error)
	assert.Equal(t, "Corner Shop", stored.Name)
	var names []string
	for _, s := range stored.Suppliers {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Acme", "Crane", "Dynamo"}, names)
}

func TestSession_ReconcileOwner(t *testing.T) {
	store := setupStore(t)
	alice, bob := &Owner{Name: "Alice"}, &Owner{Name: "Bob"}
	require.NoError(t, store.DB().Create([]*Owner{alice, bob}).Error)
	require.NoError(t, store.DB().Create(&Shop{Name: "Corner", OwnerID: &alice.ID}).Error)
	ctx := context.Background()

	session := store.Session()
	found, err := session.Find(ctx, reflect.TypeOf(Shop{}), 1)
	require.NoError(t, err)
	original := found.(*Shop)

	_, err = reconcile.New(store.registry, session, nil).Reconcile(ctx, &Shop{ID: 1, Name: "Corner", Owner: &Owner{ID: bob.ID, Name: "Bob"}}, original)
	require.NoError(t, err)
	_, err = session.SaveChanges(ctx)
	require.NoError(t, err)

	var stored Shop
	require.NoError(t, store.DB().First(&stored, 1).Error)
	require.NotNil(t, stored.OwnerID)
	assert.Equal(t, bob.ID, *stored.OwnerID)
}

func TestSession_InTransactionRollsBack(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	session := store.Session()

	err := session.InTransaction(ctx, func(ctx context.Context) error {
		if _, ok := TransactionFromContext(ctx); !ok {
			t.Fatal("Expected a transaction in the context")
		}
		require.NoError(t, session.Add(&Address{Street: "Temporary"}))
		if _, err := session.SaveChanges(ctx); err != nil {
			return err
		}
		return errs.InvalidArgumentf("abort")
	})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	var count int64
	require.NoError(t, store.DB().Model(&Address{}).Count(&count).Error)
	assert.Zero(t, count)
}
