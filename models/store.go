package models

import (
	"github.com/grocerygenie/grocery_backend/matcher"
)

// Table registry for the per-retailer purchase and list tables. Slices, not
// maps: fetch order must be fixed so the resolver's first-encountered-on-tie
// rule stays deterministic across runs.

// PurchaseStoreOrder is the enumeration order for purchase tables.
var PurchaseStoreOrder = []matcher.Store{
	matcher.StoreCostco,
	matcher.StoreWalmart,
	matcher.StoreCvs,
	matcher.StorePublix,
	matcher.StoreOther,
}

// ListStoreOrder is the enumeration order for list tables. There is no list
// for "other" purchases.
var ListStoreOrder = []matcher.Store{
	matcher.StoreCostco,
	matcher.StoreWalmart,
	matcher.StoreCvs,
	matcher.StorePublix,
}

var purchaseTables = map[matcher.Store]string{
	matcher.StoreCostco:  "costco_purchases",
	matcher.StoreWalmart: "walmart_purchases",
	matcher.StoreCvs:     "cvs_purchases",
	matcher.StorePublix:  "publix_purchases",
	matcher.StoreOther:   "other_purchases",
}

var listTables = map[matcher.Store]string{
	matcher.StoreCostco:  "costco_list",
	matcher.StoreWalmart: "walmart_list",
	matcher.StoreCvs:     "cvs_list",
	matcher.StorePublix:  "publix_list",
}

func PurchaseTableName(store matcher.Store) string {
	return purchaseTables[store]
}

func ListTableName(store matcher.Store) string {
	return listTables[store]
}

// IsListTable guards dynamic table names before they reach SQL: only the
// registered list tables are ever updated or deleted from.
func IsListTable(table string) bool {
	for _, store := range ListStoreOrder {
		if listTables[store] == table {
			return true
		}
	}
	return false
}
