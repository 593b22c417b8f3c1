package models

import (
	"log"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Party{}, &Document{},
		&DrugBatch{}, &DrugUnit{}, &CustodyEntry{},
		&Shipment{}, &ShipmentUnit{},
		&SalesRecord{},
		&NotarizationRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
