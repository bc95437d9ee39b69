// seed-admin creates or resets the admin console user and, optionally, a demo product
// with a handful of vouchers so a fresh environment can be exercised end to end.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	  go run ./cmd/seed-admin --password='...' [--demo-product]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/pulsaku/voucher_backend/config"
	"github.com/pulsaku/voucher_backend/models"
	"github.com/pulsaku/voucher_backend/utils"
	"github.com/shopspring/decimal"
)

const (
	demoProductName  = "Pulsa Demo 10K"
	demoVoucherCount = 10
)

func main() {
	username := flag.String("username", "voucherAdmin", "Admin username")
	password := flag.String("password", os.Getenv("SEED_ADMIN_PASSWORD"), "Admin password (or SEED_ADMIN_PASSWORD)")
	name := flag.String("name", "Voucher Admin", "Display name")
	demoProduct := flag.Bool("demo-product", false, "Also create a demo product with sample vouchers")
	flag.Parse()

	if strings.TrimSpace(*password) == "" {
		fmt.Fprintln(os.Stderr, "--password or SEED_ADMIN_PASSWORD is required")
		os.Exit(1)
	}

	ctx := context.Background()
	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "Seed")

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	user, err := models.CreateUser(ctx, &models.NewUser{
		Username: *username,
		Name:     *name,
		Password: *password,
		Role:     models.UserRoleAdmin,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed admin user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Seeded admin user: id=%d username=%q role=%s\n", user.ID, user.Username, user.Role)

	if !*demoProduct {
		return
	}
	product, err := models.FindProductByName(ctx, demoProductName)
	if errors.Is(err, models.ErrProductNotFound) {
		product, err = models.CreateProduct(ctx, &models.NewProduct{
			Name:     demoProductName,
			Operator: "Demo",
			Price:    decimal.NewFromInt(10000),
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed demo product: %v\n", err)
		os.Exit(1)
	}

	codes := make([]string, 0, demoVoucherCount)
	for i := 1; i <= demoVoucherCount; i++ {
		codes = append(codes, fmt.Sprintf("DEMO-%d-%04d", product.ID, i))
	}
	res, err := models.BulkCreateVouchers(ctx, product.ID, codes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed demo vouchers: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Seeded demo product id=%d: inserted=%d skipped=%d\n", product.ID, res.Inserted, res.Skipped)
}
