package models

import (
	"log"

	"github.com/grocerygenie/grocery_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&CostcoPurchase{}, &WalmartPurchase{}, &CvsPurchase{}, &PublixPurchase{}, &OtherPurchase{},
		&CostcoList{}, &WalmartList{}, &CvsList{}, &PublixList{},
		&Inventory{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
