// voucher-import loads voucher codes from a .txt, .csv or .xlsx file into a product's pool.
//
// Usage:
//
//	go run ./cmd/voucher-import --product-id=12 --file=codes.csv [--dry-run=false]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pulsaku/voucher_backend/config"
	"github.com/pulsaku/voucher_backend/models"
	"github.com/pulsaku/voucher_backend/utils"
	"github.com/sirupsen/logrus"
)

func main() {
	productID := flag.Int("product-id", 0, "Required: target product id")
	file := flag.String("file", "", "Required: path to .txt, .csv or .xlsx file")
	dryRun := flag.Bool("dry-run", true, "Parse and count codes only (no writes)")
	archive := flag.Bool("archive", true, "Archive the file to GCS_BUCKET when configured")
	flag.Parse()

	if *productID <= 0 || strings.TrimSpace(*file) == "" {
		fmt.Fprintln(os.Stderr, "--product-id and --file are required")
		os.Exit(1)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", *file, err)
		os.Exit(1)
	}
	codes, err := models.ParseVoucherImportFile(*file, data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse %s: %v\n", *file, err)
		os.Exit(1)
	}
	unique := utils.UniqueSlice(codes)
	fmt.Printf("parsed %d codes (%d unique) from %s\n", len(codes), len(unique), *file)
	if *dryRun {
		return
	}

	ctx := utils.SetUserIdInContext(context.Background(), 0)
	ctx = utils.SetUserNameInContext(ctx, "voucher-import")

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	res, err := models.ImportVoucherCodes(ctx, *productID, codes)
	if err != nil {
		config.LogError(logger, "voucher-import", "main", "ImportVoucherCodes", res, err)
		fmt.Fprintf(os.Stderr, "import stopped after %d batches (inserted=%d skipped=%d): %v\n", res.Batches, res.Inserted, res.Skipped, err)
		os.Exit(1)
	}
	logger.WithFields(logrus.Fields{
		"field":      "voucher-import",
		"product_id": *productID,
		"inserted":   res.Inserted,
		"skipped":    res.Skipped,
		"invalid":    res.Invalid,
		"batches":    res.Batches,
	}).Info("voucher import finished")

	if *archive && utils.ImportArchiveEnabled() {
		objectName := utils.ImportArchiveObjectName(*productID, *file, time.Now())
		if err := utils.UploadBytesToGCS(ctx, objectName, data, "application/octet-stream"); err != nil {
			logger.WithFields(logrus.Fields{"field": "voucher-import"}).Warn("archive failed: " + err.Error())
		} else {
			fmt.Printf("archived to %s\n", objectName)
		}
	}
	fmt.Printf("inserted=%d skipped=%d invalid=%d batches=%d\n", res.Inserted, res.Skipped, res.Invalid, res.Batches)
}
