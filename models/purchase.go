package models

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/grocerygenie/grocery_backend/matcher"
	"github.com/grocerygenie/grocery_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// One purchase table per retailer, written by the scraper loaders (external
// collaborators). The engine only reads them, and only the columns below; the
// loaders own the full receipt schema. Column names differ per retailer
// (cvs uses item_price_final, other uses quantity/price), hence one struct
// per table rather than a shared shape.

type CostcoPurchase struct {
	ID           int              `gorm:"primary_key" json:"id"`
	ItemName     string           `gorm:"size:300;not null" json:"item_name"`
	PurchaseDate *time.Time       `gorm:"type:date;index" json:"purchase_date"`
	PurchaseTime *string          `gorm:"type:time" json:"purchase_time"`
	ItemQuantity *int             `gorm:"column:item_quantity" json:"item_quantity"`
	ItemPrice    *decimal.Decimal `gorm:"column:item_price;type:decimal(10,2)" json:"item_price"`
	RawData      json.RawMessage  `gorm:"column:raw_data;type:json" json:"raw_data"`
	CreatedAt    time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CostcoPurchase) TableName() string { return "costco_purchases" }

type WalmartPurchase struct {
	ID           int              `gorm:"primary_key" json:"id"`
	ItemName     string           `gorm:"size:300;not null" json:"item_name"`
	PurchaseDate *time.Time       `gorm:"type:date;index" json:"purchase_date"`
	PurchaseTime *string          `gorm:"type:time" json:"purchase_time"`
	ItemQuantity *int             `gorm:"column:item_quantity" json:"item_quantity"`
	ItemPrice    *decimal.Decimal `gorm:"column:item_price;type:decimal(10,2)" json:"item_price"`
	RawData      json.RawMessage  `gorm:"column:raw_data;type:json" json:"raw_data"`
	CreatedAt    time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WalmartPurchase) TableName() string { return "walmart_purchases" }

type CvsPurchase struct {
	ID             int              `gorm:"primary_key" json:"id"`
	ItemName       string           `gorm:"size:300;not null" json:"item_name"`
	PurchaseDate   *time.Time       `gorm:"type:date;index" json:"purchase_date"`
	PurchaseTime   *string          `gorm:"type:time" json:"purchase_time"`
	ItemQuantity   *int             `gorm:"column:item_quantity" json:"item_quantity"`
	ItemPriceFinal *decimal.Decimal `gorm:"column:item_price_final;type:decimal(10,2)" json:"item_price_final"`
	RawData        json.RawMessage  `gorm:"column:raw_data;type:json" json:"raw_data"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CvsPurchase) TableName() string { return "cvs_purchases" }

type PublixPurchase struct {
	ID           int              `gorm:"primary_key" json:"id"`
	ItemName     string           `gorm:"size:300;not null" json:"item_name"`
	PurchaseDate *time.Time       `gorm:"type:date;index" json:"purchase_date"`
	PurchaseTime *string          `gorm:"type:time" json:"purchase_time"`
	ItemQuantity *int             `gorm:"column:item_quantity" json:"item_quantity"`
	ItemPrice    *decimal.Decimal `gorm:"column:item_price;type:decimal(10,2)" json:"item_price"`
	RawData      json.RawMessage  `gorm:"column:raw_data;type:json" json:"raw_data"`
	CreatedAt    time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PublixPurchase) TableName() string { return "publix_purchases" }

type OtherPurchase struct {
	ID           int              `gorm:"primary_key" json:"id"`
	ItemName     string           `gorm:"size:300;not null" json:"item_name"`
	PurchaseDate *time.Time       `gorm:"type:date;index" json:"purchase_date"`
	PurchaseTime *string          `gorm:"type:time" json:"purchase_time"`
	Quantity     *int             `gorm:"column:quantity" json:"quantity"`
	Price        *decimal.Decimal `gorm:"column:price;type:decimal(10,2)" json:"price"`
	RawData      json.RawMessage  `gorm:"column:raw_data;type:json" json:"raw_data"`
	CreatedAt    time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OtherPurchase) TableName() string { return "other_purchases" }

func (r CostcoPurchase) record(store matcher.Store) matcher.PurchaseRecord {
	return newPurchaseRecord(store, r.ItemName, r.PurchaseDate, r.PurchaseTime, r.ItemQuantity, r.ItemPrice, r.RawData)
}

func (r WalmartPurchase) record(store matcher.Store) matcher.PurchaseRecord {
	return newPurchaseRecord(store, r.ItemName, r.PurchaseDate, r.PurchaseTime, r.ItemQuantity, r.ItemPrice, r.RawData)
}

func (r CvsPurchase) record(store matcher.Store) matcher.PurchaseRecord {
	return newPurchaseRecord(store, r.ItemName, r.PurchaseDate, r.PurchaseTime, r.ItemQuantity, r.ItemPriceFinal, r.RawData)
}

func (r PublixPurchase) record(store matcher.Store) matcher.PurchaseRecord {
	return newPurchaseRecord(store, r.ItemName, r.PurchaseDate, r.PurchaseTime, r.ItemQuantity, r.ItemPrice, r.RawData)
}

func (r OtherPurchase) record(store matcher.Store) matcher.PurchaseRecord {
	return newPurchaseRecord(store, r.ItemName, r.PurchaseDate, r.PurchaseTime, r.Quantity, r.Price, r.RawData)
}

// newPurchaseRecord normalizes one raw purchase row. Scraped data is messy,
// so the boundary is defensive rather than strict: missing or non-positive
// quantity becomes 1, a missing time-of-day becomes midnight, and a missing
// price falls back to a coercible price field in the raw payload (staying nil
// if there is none).
func newPurchaseRecord(
	store matcher.Store,
	itemName string,
	date *time.Time,
	timeOfDay *string,
	quantity *int,
	price *decimal.Decimal,
	raw json.RawMessage,
) matcher.PurchaseRecord {
	qty := 1
	if quantity != nil && *quantity >= 1 {
		qty = *quantity
	}
	if price == nil {
		price = priceFromRaw(raw)
	}
	return matcher.PurchaseRecord{
		ItemName:    strings.TrimSpace(itemName),
		Store:       store,
		PurchasedAt: combineDateTime(date, timeOfDay),
		Quantity:    qty,
		Price:       price,
		SourceTable: PurchaseTableName(store),
		RawPayload:  raw,
	}
}

// combineDateTime merges the DATE and TIME columns into one timestamp.
// Rows with a NULL time default to midnight.
func combineDateTime(date *time.Time, timeOfDay *string) time.Time {
	if date == nil {
		return time.Time{}
	}
	d := *date
	combined := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
	if timeOfDay == nil {
		return combined
	}
	t, err := time.Parse("15:04:05", strings.TrimSpace(*timeOfDay))
	if err != nil {
		return combined
	}
	return combined.Add(
		time.Duration(t.Hour())*time.Hour +
			time.Duration(t.Minute())*time.Minute +
			time.Duration(t.Second())*time.Second,
	)
}

// priceFromRaw digs a usable price out of the raw scraper payload when the
// typed column is NULL. Handles both numeric and dirty string values
// ("$5.99", "5.99 USD").
func priceFromRaw(raw json.RawMessage) *decimal.Decimal {
	if len(raw) == 0 {
		return nil
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	for _, key := range []string{"price", "item_price", "item_price_final"} {
		switch v := payload[key].(type) {
		case string:
			if d := utils.CoercePrice(v); d != nil {
				return d
			}
		case float64:
			d := decimal.NewFromFloat(v)
			if d.IsNegative() {
				continue
			}
			return &d
		}
	}
	return nil
}

type purchaseRow interface {
	record(store matcher.Store) matcher.PurchaseRecord
}

func appendRecentPurchases[T purchaseRow](ctx context.Context, db *gorm.DB, store matcher.Store, since time.Time, out *[]matcher.PurchaseRecord) error {
	var rows []T
	// Rows with no purchase date are excluded here, not patched up: the date
	// is what bounds the lookback window.
	err := db.WithContext(ctx).
		Where("purchase_date IS NOT NULL AND purchase_date >= ?", since.Format("2006-01-02")).
		Order("purchase_date DESC, purchase_time DESC").
		Find(&rows).Error
	if err != nil {
		return err
	}
	for _, row := range rows {
		rec := row.record(store)
		// The SQL filter is date-granular; re-check with time-of-day folded in.
		if rec.PurchasedAt.Before(since) {
			continue
		}
		*out = append(*out, rec)
	}
	return nil
}

// ListRecentPurchases reads every retailer's purchase table and returns the
// union of purchases at or after the cutoff, normalized into PurchaseRecords.
func ListRecentPurchases(ctx context.Context, db *gorm.DB, since time.Time) ([]matcher.PurchaseRecord, error) {
	var purchases []matcher.PurchaseRecord
	for _, store := range PurchaseStoreOrder {
		var err error
		switch store {
		case matcher.StoreCostco:
			err = appendRecentPurchases[CostcoPurchase](ctx, db, store, since, &purchases)
		case matcher.StoreWalmart:
			err = appendRecentPurchases[WalmartPurchase](ctx, db, store, since, &purchases)
		case matcher.StoreCvs:
			err = appendRecentPurchases[CvsPurchase](ctx, db, store, since, &purchases)
		case matcher.StorePublix:
			err = appendRecentPurchases[PublixPurchase](ctx, db, store, since, &purchases)
		case matcher.StoreOther:
			err = appendRecentPurchases[OtherPurchase](ctx, db, store, since, &purchases)
		}
		if err != nil {
			return nil, err
		}
	}
	return purchases, nil
}
