package admin_test

import (
	"context"
	"fmt"
	"testing"

	admin "github.com/nlstn/go-admin"
)

type TransactionContextEntity struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

type TransactionAudit struct {
	ID      uint `gorm:"primaryKey"`
	Counter int
}

var (
	hookTransactionObserved  bool
	hookTransactionAttempted bool
)

func (e *TransactionContextEntity) AdminBeforeUpdate(ctx context.Context) error {
	hookTransactionAttempted = true
	tx, ok := admin.TransactionFromContext(ctx)
	if !ok {
		return fmt.Errorf("transaction not available in context")
	}
	hookTransactionObserved = true
	if err := tx.Exec("UPDATE transaction_audits SET counter = counter + 1 WHERE id = ?", e.ID).Error; err != nil {
		return err
	}
	if e.Name == "abort" {
		return fmt.Errorf("abort update for test")
	}
	return nil
}

func resetTransactionHookFlags() {
	hookTransactionObserved = false
	hookTransactionAttempted = false
}

func setupTransactionService(t *testing.T) *admin.Service {
	t.Helper()
	db := openDB(t)
	if err := db.AutoMigrate(&TransactionContextEntity{}, &TransactionAudit{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Create(&TransactionContextEntity{ID: 1, Name: "original"}).Error; err != nil {
		t.Fatalf("seed entity: %v", err)
	}
	if err := db.Create(&TransactionAudit{ID: 1, Counter: 0}).Error; err != nil {
		t.Fatalf("seed audit: %v", err)
	}

	service, err := admin.NewService(db)
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	if err := service.RegisterEntity(TransactionContextEntity{}); err != nil {
		t.Fatalf("register entity: %v", err)
	}
	return service
}

func auditCounter(t *testing.T, service *admin.Service) int {
	t.Helper()
	var audit TransactionAudit
	if err := service.DB().First(&audit, 1).Error; err != nil {
		t.Fatalf("reload audit: %v", err)
	}
	return audit.Counter
}

func storedName(t *testing.T, service *admin.Service) string {
	t.Helper()
	var entity TransactionContextEntity
	if err := service.DB().First(&entity, 1).Error; err != nil {
		t.Fatalf("reload entity: %v", err)
	}
	return entity.Name
}

func TestHookTransactionRollsBackOnAbort(t *testing.T) {
	resetTransactionHookFlags()
	service := setupTransactionService(t)

	_, err := service.Update(context.Background(), &TransactionContextEntity{ID: 1, Name: "abort"}, nil)
	if err == nil {
		t.Fatal("expected the aborted hook to fail the update")
	}
	if !hookTransactionAttempted {
		t.Fatalf("hook did not execute")
	}
	if !hookTransactionObserved {
		t.Fatalf("hook did not observe transaction")
	}
	if name := storedName(t, service); name != "original" {
		t.Fatalf("entity update was committed: got %q", name)
	}
	if counter := auditCounter(t, service); counter != 0 {
		t.Fatalf("audit update was committed despite rollback: counter=%d", counter)
	}
}

func TestHookTransactionCommitsWithUpdate(t *testing.T) {
	resetTransactionHookFlags()
	service := setupTransactionService(t)

	if _, err := service.Update(context.Background(), &TransactionContextEntity{ID: 1, Name: "updated"}, nil); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if name := storedName(t, service); name != "updated" {
		t.Fatalf("expected the update to be committed, got %q", name)
	}
	if counter := auditCounter(t, service); counter != 1 {
		t.Fatalf("expected the hook statement to be committed, counter=%d", counter)
	}
}

func TestAfterUpdateCallbackRollsBack(t *testing.T) {
	resetTransactionHookFlags()
	service := setupTransactionService(t)

	callback := func(ctx context.Context, before, after interface{}) error {
		if _, ok := admin.TransactionFromContext(ctx); !ok {
			t.Error("expected the callback to run inside the transaction")
		}
		return fmt.Errorf("callback failed")
	}
	if _, err := service.Update(context.Background(), &TransactionContextEntity{ID: 1, Name: "updated"}, callback); err == nil {
		t.Fatal("expected the callback error")
	}
	if counter := auditCounter(t, service); counter != 0 {
		t.Fatalf("hook statement was committed despite callback failure: counter=%d", counter)
	}
}

func TestTransactionFromContext_Empty(t *testing.T) {
	if _, ok := admin.TransactionFromContext(context.Background()); ok {
		t.Error("expected no transaction in a plain context")
	}
}
