package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/grocerygenie/grocery_backend/matcher"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Inventory is the append-only record of everything brought home. One row per
// applied purchase decision, never deduplicated: buying milk twice is two rows.
type Inventory struct {
	ID                  int              `gorm:"primary_key" json:"id"`
	ItemName            string           `gorm:"size:300;not null;index" json:"item_name"`
	Store               string           `gorm:"size:50;not null" json:"store"`
	Quantity            int              `gorm:"default:1" json:"quantity"`
	PurchaseDate        *time.Time       `gorm:"type:date" json:"purchase_date"`
	PurchaseTime        *string          `gorm:"type:time" json:"purchase_time"`
	Price               *decimal.Decimal `gorm:"type:decimal(10,2)" json:"price"`
	Category            string           `gorm:"size:100" json:"category"`
	ExpiryDate          *time.Time       `gorm:"type:date" json:"expiry_date"`
	Location            string           `gorm:"size:100" json:"location"`
	Notes               string           `gorm:"type:text" json:"notes"`
	PurchaseTableSource string           `gorm:"size:50" json:"purchase_table_source"`
	RawPurchaseData     json.RawMessage  `gorm:"type:json" json:"raw_purchase_data"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Inventory) TableName() string { return "inventory" }

// InsertInventory appends one inventory row for an applied decision.
func InsertInventory(ctx context.Context, db *gorm.DB, entry matcher.InventoryEntry) error {
	row := Inventory{
		ItemName:            entry.ItemName,
		Store:               string(entry.Store),
		Quantity:            entry.Quantity,
		Price:               entry.Price,
		PurchaseTableSource: entry.SourceTable,
		RawPurchaseData:     entry.RawPayload,
	}
	if !entry.PurchasedAt.IsZero() {
		date := entry.PurchasedAt
		row.PurchaseDate = &date
		clock := entry.PurchasedAt.Format("15:04:05")
		row.PurchaseTime = &clock
	}
	return db.WithContext(ctx).Create(&row).Error
}
