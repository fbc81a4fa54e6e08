package admin_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	admin "github.com/nlstn/go-admin"
)

func setupMemoryService(t *testing.T) (*admin.Service, *admin.MemoryStore) {
	t.Helper()
	service, store, err := admin.NewMemoryService(admin.ServiceConfig{})
	if err != nil {
		t.Fatalf("NewMemoryService() error: %v", err)
	}
	for _, entity := range []interface{}{&Address{}, &Product{}, &Owner{}, &Supplier{}, &Shop{}, &Tag{}} {
		if err := service.RegisterEntity(entity); err != nil {
			t.Fatalf("Failed to register %T: %v", entity, err)
		}
	}
	if service.DB() != nil {
		t.Error("Expected no database for an in-memory service")
	}
	return service, store
}

func TestMemoryService_Search(t *testing.T) {
	service, store := setupMemoryService(t)
	if err := store.Seed(
		&Address{Street: "Main St."},
		&Address{Street: "Main Square St."},
		&Address{Street: "Second Square St."},
		&Address{Street: "Second main St."},
		&Address{Street: "Central"},
		&Product{Name: "Apple", WeightInGrams: grams(150)},
		&Product{Name: "Gift card"},
	); err != nil {
		t.Fatalf("Seed() error: %v", err)
	}

	page, err := service.Search(context.Background(), Address{}, nil, admin.SearchOptions{SearchString: "ain"}, nil, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if page.TotalCount != 3 {
		t.Errorf("Expected 3 addresses, got %d", page.TotalCount)
	}

	page, err = service.Search(context.Background(), Product{}, nil, admin.SearchOptions{SearchString: "None"}, nil, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if page.TotalCount != 1 || page.Items[0].(*Product).Name != "Gift card" {
		t.Errorf("Expected only the gift card, got %d items", page.TotalCount)
	}
}

func TestMemoryService_ScopesAreUnsupported(t *testing.T) {
	service, _ := setupMemoryService(t)

	scoped := func(q *admin.Query) error {
		q.Scope("street = ?", "Central")
		return nil
	}
	_, err := service.Search(context.Background(), Address{}, nil, admin.SearchOptions{}, nil, scoped)
	if !errors.Is(err, admin.ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
}

func TestMemoryService_UpdateShop(t *testing.T) {
	resetShopHooks()
	service, store := setupMemoryService(t)
	if err := store.Seed(&Shop{
		Name:      "Corner",
		Suppliers: []*Supplier{{ID: 1, Name: "Acme"}, {ID: 2, Name: "Brix"}},
	}); err != nil {
		t.Fatalf("Seed() error: %v", err)
	}

	replacement := &Shop{
		ID:        1,
		Name:      "Corner Store",
		Suppliers: []*Supplier{{ID: 2, Name: "Brix"}, {ID: 3, Name: "Crane"}},
	}
	var attachedBefore int
	callback := func(ctx context.Context, before, after interface{}) error {
		attachedBefore = len(before.(*Shop).Suppliers)
		return nil
	}
	if _, err := service.Update(context.Background(), replacement, callback); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if attachedBefore != 2 {
		t.Errorf("Expected the snapshot to hold 2 suppliers, got %d", attachedBefore)
	}

	page, err := service.Search(context.Background(), Shop{}, []string{"Name", "Suppliers"}, admin.SearchOptions{}, nil, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	shop := page.Items[0].(*Shop)
	if shop.Name != "Corner Store" {
		t.Errorf("Expected the new name, got %q", shop.Name)
	}
	if got := supplierNames(shop.Suppliers); len(got) != 2 || got[0] != "Brix" || got[1] != "Crane" {
		t.Errorf("Unexpected suppliers %v", got)
	}
	if len(shopUpdatesAfter) != 1 {
		t.Errorf("Expected AdminAfterUpdate to run once, got %d", len(shopUpdatesAfter))
	}
}

func TestMemoryService_AddAndDelete(t *testing.T) {
	service, store := setupMemoryService(t)

	address := &Address{Street: "Harbour Road"}
	if err := service.Add(context.Background(), address); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if address.ID == 0 {
		t.Fatal("Expected the store to assign a key")
	}
	tag := &Tag{Label: "new"}
	if err := service.Add(context.Background(), tag); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if tag.ID == "" {
		t.Error("Expected a generated tag key")
	}

	if err := service.Delete(context.Background(), &Address{ID: address.ID}); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if rows := store.Rows(reflect.TypeOf(Address{})); len(rows) != 0 {
		t.Errorf("Expected the address to be deleted, got %d rows", len(rows))
	}
}
