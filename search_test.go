package admin_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	admin "github.com/nlstn/go-admin"
	"gorm.io/gorm"
)

func seedAddresses(t *testing.T, db *gorm.DB) {
	t.Helper()
	addresses := []*Address{
		{Street: "Main St."},
		{Street: "Main Square St."},
		{Street: "Second Square St."},
		{Street: "Second main St."},
		{Street: "Central"},
	}
	if err := db.Create(addresses).Error; err != nil {
		t.Fatalf("Failed to seed addresses: %v", err)
	}
}

func streets(page *admin.Page) []string {
	result := make([]string, 0, len(page.Items))
	for _, item := range page.Items {
		result = append(result, item.(*Address).Street)
	}
	return result
}

func TestSearch_Contains(t *testing.T) {
	service, db := setupService(t)
	seedAddresses(t, db)

	page, err := service.Search(context.Background(), Address{}, nil, admin.SearchOptions{SearchString: "ain"}, nil, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if page.TotalCount != 3 {
		t.Fatalf("Expected 3 matches, got %d", page.TotalCount)
	}
	want := []string{"Main St.", "Main Square St.", "Second main St."}
	got := streets(page)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Item %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if page.Page != 1 || page.PageSize != admin.DefaultPageSize {
		t.Errorf("Unexpected page window %d/%d", page.Page, page.PageSize)
	}
}

// lazyAddress stands in for an Address that has not been loaded yet.
type lazyAddress struct {
	ID uint
}

func (l *lazyAddress) IsProxy() bool { return true }

func (l *lazyAddress) DeclaredType() reflect.Type { return reflect.TypeOf(Address{}) }

func TestSearch_ProxyUsesDeclaredType(t *testing.T) {
	service, db := setupService(t)
	seedAddresses(t, db)

	page, err := service.Search(context.Background(), &lazyAddress{ID: 1}, nil, admin.SearchOptions{SearchString: "ain"}, nil, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if page.TotalCount != 3 {
		t.Fatalf("Expected 3 matches, got %d", page.TotalCount)
	}
	if _, ok := page.Items[0].(*Address); !ok {
		t.Errorf("Expected *Address items, got %T", page.Items[0])
	}

	d, err := service.Describe(&lazyAddress{})
	if err != nil {
		t.Fatalf("Describe() error: %v", err)
	}
	if d.Name != "Address" {
		t.Errorf("Expected the Address descriptor, got %s", d.Name)
	}
}

func TestSearch_QuotedPhraseAndTokens(t *testing.T) {
	service, db := setupService(t)
	seedAddresses(t, db)

	tests := []struct {
		search string
		total  int64
	}{
		{`"main St."`, 1},
		{`square second`, 1},
		{`"Square St." main`, 1},
		{`main missing`, 0},
		{``, 5},
	}
	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			page, err := service.Search(context.Background(), Address{}, nil, admin.SearchOptions{SearchString: tt.search}, nil, nil)
			if err != nil {
				t.Fatalf("Search() error: %v", err)
			}
			if page.TotalCount != tt.total {
				t.Errorf("Expected %d matches, got %d", tt.total, page.TotalCount)
			}
			if tt.total == 0 && len(page.Items) != 0 {
				t.Errorf("Expected no items, got %d", len(page.Items))
			}
		})
	}
}

func TestSearch_NullToken(t *testing.T) {
	service, db := setupService(t)
	products := []*Product{
		{Name: "Apple", WeightInGrams: grams(150)},
		{Name: "Gift card"},
		{Name: "Melon", WeightInGrams: grams(1200)},
		{Name: "Voucher"},
	}
	if err := db.Create(products).Error; err != nil {
		t.Fatalf("Failed to seed products: %v", err)
	}

	page, err := service.Search(context.Background(), Product{}, nil, admin.SearchOptions{SearchString: admin.NullToken}, nil, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if page.TotalCount != 2 {
		t.Fatalf("Expected 2 products without weight, got %d", page.TotalCount)
	}
	for _, item := range page.Items {
		if item.(*Product).WeightInGrams != nil {
			t.Errorf("Expected only unset weights, got %v", *item.(*Product).WeightInGrams)
		}
	}
}

func TestSearch_CustomPredicateIsOred(t *testing.T) {
	service, db := setupService(t)
	products := []*Product{
		{Name: "Apple", WeightInGrams: grams(150)},
		{Name: "Voucher"},
		{Name: "Melon", WeightInGrams: grams(1200)},
	}
	if err := db.Create(products).Error; err != nil {
		t.Fatalf("Failed to seed products: %v", err)
	}

	byName := func(search string) admin.Expr {
		return admin.Compare{Path: "Name", Op: admin.OpContainsFold, Value: "VOUCH"}
	}
	page, err := service.Search(context.Background(), Product{}, nil, admin.SearchOptions{SearchString: "150"}, byName, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if page.TotalCount != 2 {
		t.Fatalf("Expected weight and custom matches, got %d", page.TotalCount)
	}
}

func TestSearch_OrderAndPage(t *testing.T) {
	service, db := setupService(t)
	seedAddresses(t, db)

	opts := admin.SearchOptions{
		Page:     2,
		PageSize: 2,
		OrderBy:  []admin.OrderBy{{PropertyPath: "Street", IsDescending: true}},
	}
	page, err := service.Search(context.Background(), Address{}, nil, opts, nil, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if page.TotalCount != 5 {
		t.Errorf("Expected total 5, got %d", page.TotalCount)
	}
	got := streets(page)
	if len(got) != 2 || got[0] != "Main St." || got[1] != "Main Square St." {
		t.Errorf("Unexpected second page %q", got)
	}
	if page.Page != 2 || page.PageSize != 2 {
		t.Errorf("Unexpected page window %d/%d", page.Page, page.PageSize)
	}
}

func TestSearch_PageSizeIsCapped(t *testing.T) {
	db := openDB(t)
	if err := db.AutoMigrate(&Address{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	seedAddresses(t, db)
	service, err := admin.NewServiceWithConfig(db, admin.ServiceConfig{DefaultPageSize: 2, MaxPageSize: 3})
	if err != nil {
		t.Fatalf("NewServiceWithConfig() error: %v", err)
	}
	if err := service.RegisterEntity(&Address{}); err != nil {
		t.Fatalf("RegisterEntity() error: %v", err)
	}

	page, err := service.Search(context.Background(), Address{}, nil, admin.SearchOptions{}, nil, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(page.Items) != 2 {
		t.Errorf("Expected default page size 2, got %d", len(page.Items))
	}

	page, err = service.Search(context.Background(), Address{}, nil, admin.SearchOptions{PageSize: 100}, nil, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(page.Items) != 3 || page.PageSize != 3 {
		t.Errorf("Expected capped page size 3, got %d items and size %d", len(page.Items), page.PageSize)
	}
}

func TestSearch_ProjectionThroughNavigation(t *testing.T) {
	service, db := setupService(t)
	alice, bob := &Owner{Name: "Alice"}, &Owner{Name: "Bob"}
	if err := db.Create([]*Owner{alice, bob}).Error; err != nil {
		t.Fatalf("Failed to seed owners: %v", err)
	}
	shops := []*Shop{
		{Name: "Corner", OwnerID: &alice.ID, Suppliers: []*Supplier{{Name: "Acme"}}},
		{Name: "Market", OwnerID: &bob.ID},
	}
	if err := db.Create(shops).Error; err != nil {
		t.Fatalf("Failed to seed shops: %v", err)
	}

	page, err := service.Search(context.Background(), Shop{}, []string{"Name", "Owner.Name"}, admin.SearchOptions{SearchString: "alice"}, nil, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if page.TotalCount != 1 {
		t.Fatalf("Expected 1 shop, got %d", page.TotalCount)
	}
	shop := page.Items[0].(*Shop)
	if shop.Owner == nil || shop.Owner.Name != "Alice" {
		t.Errorf("Expected projected owner Alice, got %#v", shop.Owner)
	}
	if shop.Suppliers != nil {
		t.Errorf("Expected suppliers to stay unloaded, got %d", len(shop.Suppliers))
	}
}

func TestSearch_Transform(t *testing.T) {
	service, db := setupService(t)
	seedAddresses(t, db)

	onlyCentral := func(q *admin.Query) error {
		q.Scope("street = ?", "Central")
		return nil
	}
	page, err := service.Search(context.Background(), Address{}, nil, admin.SearchOptions{}, nil, onlyCentral)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if page.TotalCount != 1 || streets(page)[0] != "Central" {
		t.Errorf("Expected only Central, got %q", streets(page))
	}

	failing := func(q *admin.Query) error {
		return errors.New("transform failed")
	}
	if _, err := service.Search(context.Background(), Address{}, nil, admin.SearchOptions{}, nil, failing); err == nil {
		t.Error("Expected transform error")
	}
}

func TestSearch_InvalidArguments(t *testing.T) {
	service, _ := setupService(t)

	_, err := service.Search(context.Background(), Address{}, []string{"Missing"}, admin.SearchOptions{}, nil, nil)
	if !errors.Is(err, admin.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for unknown property, got %v", err)
	}
	_, err = service.Search(context.Background(), Shop{}, nil, admin.SearchOptions{OrderBy: []admin.OrderBy{{PropertyPath: "Suppliers.Name"}}}, nil, nil)
	if !errors.Is(err, admin.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for collection order path, got %v", err)
	}
	_, err = service.Search(context.Background(), struct{ ID int }{}, nil, admin.SearchOptions{}, nil, nil)
	if !errors.Is(err, admin.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for an unregistered type, got %v", err)
	}
}
