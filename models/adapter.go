package models

import (
	"context"
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/grocerygenie/grocery_backend/matcher"
	"gorm.io/gorm"
)

// GroceryStore adapts the gorm-backed tables to the matcher's Storage
// interface. Transact hands the callback a GroceryStore bound to the
// transaction handle, so every mutation inside runs on the same tx.
type GroceryStore struct {
	db *gorm.DB
}

func NewGroceryStore(db *gorm.DB) *GroceryStore {
	return &GroceryStore{db: db}
}

func (s *GroceryStore) EnsureTables(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&CostcoPurchase{}, &WalmartPurchase{}, &CvsPurchase{}, &PublixPurchase{}, &OtherPurchase{},
		&CostcoList{}, &WalmartList{}, &CvsList{}, &PublixList{},
		&Inventory{},
	)
}

func (s *GroceryStore) RecentPurchases(ctx context.Context, since time.Time) ([]matcher.PurchaseRecord, error) {
	return ListRecentPurchases(ctx, s.db, since)
}

func (s *GroceryStore) AllListEntries(ctx context.Context) ([]matcher.ListEntry, error) {
	return ListAllEntries(ctx, s.db)
}

func (s *GroceryStore) MarkEntryChecked(ctx context.Context, table string, id int) (bool, error) {
	return MarkEntryChecked(ctx, s.db, table, id)
}

func (s *GroceryStore) DeleteMatchingEntries(ctx context.Context, itemName string) (int64, error) {
	return DeleteMatchingEntries(ctx, s.db, itemName)
}

func (s *GroceryStore) AddInventory(ctx context.Context, entry matcher.InventoryEntry) error {
	return InsertInventory(ctx, s.db, entry)
}

func isTransientMySQLErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		// 1213 deadlock, 1205 lock wait timeout.
		return mysqlErr.Number == 1213 || mysqlErr.Number == 1205
	}
	return false
}

func (s *GroceryStore) Transact(ctx context.Context, fn func(matcher.Mutator) error) error {
	run := func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&GroceryStore{db: tx})
		})
	}
	err := run()
	if isTransientMySQLErr(err) {
		// The user-facing list surface writes the same rows; one retry rides
		// out a deadlock with it.
		err = run()
	}
	return err
}
