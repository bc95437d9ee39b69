package models

import (
	"log"

	"github.com/pulsaku/voucher_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&History{},
		&IdempotencyKey{},
		&Product{},
		&User{},
		&Voucher{},
		&VoucherEvent{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
