package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grocerygenie/grocery_backend/matcher"
	"github.com/grocerygenie/grocery_backend/utils"
	"gorm.io/gorm"
)

// One list table per store, same shape everywhere. Rows are created by the
// user-facing list surface; this engine only reads them, flips is_checked, or
// deletes them on a cross-store purge.

type CostcoList struct {
	ID             int        `gorm:"primary_key" json:"id"`
	ItemName       string     `gorm:"size:300;not null;index" json:"item_name"`
	QuantityNeeded int        `gorm:"default:1" json:"quantity_needed"`
	IsChecked      *bool      `gorm:"not null;default:false;index" json:"is_checked"`
	Priority       string     `gorm:"size:20;default:'medium'" json:"priority"`
	Category       string     `gorm:"size:100" json:"category"`
	Notes          string     `gorm:"type:text" json:"notes"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CheckedAt      *time.Time `gorm:"default:null" json:"checked_at"`
}

func (CostcoList) TableName() string { return "costco_list" }

type WalmartList struct {
	ID             int        `gorm:"primary_key" json:"id"`
	ItemName       string     `gorm:"size:300;not null;index" json:"item_name"`
	QuantityNeeded int        `gorm:"default:1" json:"quantity_needed"`
	IsChecked      *bool      `gorm:"not null;default:false;index" json:"is_checked"`
	Priority       string     `gorm:"size:20;default:'medium'" json:"priority"`
	Category       string     `gorm:"size:100" json:"category"`
	Notes          string     `gorm:"type:text" json:"notes"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CheckedAt      *time.Time `gorm:"default:null" json:"checked_at"`
}

func (WalmartList) TableName() string { return "walmart_list" }

type CvsList struct {
	ID             int        `gorm:"primary_key" json:"id"`
	ItemName       string     `gorm:"size:300;not null;index" json:"item_name"`
	QuantityNeeded int        `gorm:"default:1" json:"quantity_needed"`
	IsChecked      *bool      `gorm:"not null;default:false;index" json:"is_checked"`
	Priority       string     `gorm:"size:20;default:'medium'" json:"priority"`
	Category       string     `gorm:"size:100" json:"category"`
	Notes          string     `gorm:"type:text" json:"notes"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CheckedAt      *time.Time `gorm:"default:null" json:"checked_at"`
}

func (CvsList) TableName() string { return "cvs_list" }

type PublixList struct {
	ID             int        `gorm:"primary_key" json:"id"`
	ItemName       string     `gorm:"size:300;not null;index" json:"item_name"`
	QuantityNeeded int        `gorm:"default:1" json:"quantity_needed"`
	IsChecked      *bool      `gorm:"not null;default:false;index" json:"is_checked"`
	Priority       string     `gorm:"size:20;default:'medium'" json:"priority"`
	Category       string     `gorm:"size:100" json:"category"`
	Notes          string     `gorm:"type:text" json:"notes"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CheckedAt      *time.Time `gorm:"default:null" json:"checked_at"`
}

func (PublixList) TableName() string { return "publix_list" }

func (r CostcoList) entryFields() (int, string, bool)  { return r.ID, r.ItemName, r.IsChecked != nil && *r.IsChecked }
func (r WalmartList) entryFields() (int, string, bool) { return r.ID, r.ItemName, r.IsChecked != nil && *r.IsChecked }
func (r CvsList) entryFields() (int, string, bool)     { return r.ID, r.ItemName, r.IsChecked != nil && *r.IsChecked }
func (r PublixList) entryFields() (int, string, bool)  { return r.ID, r.ItemName, r.IsChecked != nil && *r.IsChecked }

type listRow interface {
	entryFields() (id int, itemName string, isChecked bool)
}

func appendListEntries[T listRow](ctx context.Context, db *gorm.DB, store matcher.Store, out *[]matcher.ListEntry) error {
	var rows []T
	// Ascending id keeps the resolver's first-encountered tie-break stable.
	if err := db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return err
	}
	table := ListTableName(store)
	for _, row := range rows {
		id, name, checked := row.entryFields()
		*out = append(*out, matcher.ListEntry{
			ID:          id,
			ItemName:    strings.TrimSpace(name),
			Store:       store,
			IsChecked:   checked,
			SourceTable: table,
		})
	}
	return nil
}

// ListAllEntries returns every row of every store list, checked or not, in
// ListStoreOrder then ascending id. Checked filtering belongs to the
// resolver's candidate step, not here.
func ListAllEntries(ctx context.Context, db *gorm.DB) ([]matcher.ListEntry, error) {
	var entries []matcher.ListEntry
	for _, store := range ListStoreOrder {
		var err error
		switch store {
		case matcher.StoreCostco:
			err = appendListEntries[CostcoList](ctx, db, store, &entries)
		case matcher.StoreWalmart:
			err = appendListEntries[WalmartList](ctx, db, store, &entries)
		case matcher.StoreCvs:
			err = appendListEntries[CvsList](ctx, db, store, &entries)
		case matcher.StorePublix:
			err = appendListEntries[PublixList](ctx, db, store, &entries)
		}
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// MarkEntryChecked flips is_checked on one list row by primary key. Returns
// false without error when the row is already checked or gone; the update is
// keyed narrowly to keep the lost-update window against the user-facing
// surface small.
func MarkEntryChecked(ctx context.Context, db *gorm.DB, table string, id int) (bool, error) {
	if !IsListTable(table) {
		return false, fmt.Errorf("%w: %s", utils.ErrorUnknownListTable, table)
	}
	now := time.Now()
	res := db.WithContext(ctx).Table(table).
		Where("id = ? AND is_checked = ?", id, utils.NewFalse()).
		Updates(map[string]interface{}{
			"is_checked": utils.NewTrue(),
			"checked_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteMatchingEntries removes, from every store list, rows whose normalized
// name substring-matches the purchased name in either direction. Deliberately
// broader than the single matched candidate: it scrubs duplicate wants that
// exist on several lists for the same real-world item.
func DeleteMatchingEntries(ctx context.Context, db *gorm.DB, itemName string) (int64, error) {
	name := strings.ToLower(strings.TrimSpace(itemName))
	if name == "" {
		return 0, nil
	}

	var total int64
	for _, store := range ListStoreOrder {
		table := ListTableName(store)
		res := db.WithContext(ctx).Exec(
			"DELETE FROM "+table+
				" WHERE LOWER(item_name) LIKE ? OR ? LIKE CONCAT('%', LOWER(item_name), '%')",
			"%"+escapeLike(name)+"%", name,
		)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
	}
	return total, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// escapeLike neutralizes LIKE metacharacters in a purchased name, so
// "100% juice" matches literally instead of wildcarding across the lists.
// Only the pattern side needs it; on the reversed comparison the name is the
// subject and item_name supplies the pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
