// reservation-release returns expired reservations to the available pool. It runs the same
// sweep as the in-process sweeper, for deployments that set VOUCHER_SWEEPER_ENABLED=false.
//
// Usage:
//
//	go run ./cmd/reservation-release [--ttl-seconds=900] [--dry-run=false]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pulsaku/voucher_backend/config"
	"github.com/pulsaku/voucher_backend/models"
	"github.com/pulsaku/voucher_backend/utils"
	"github.com/pulsaku/voucher_backend/workflow"
)

func main() {
	ttlSeconds := flag.Int("ttl-seconds", int(config.ReservationTTL().Seconds()), "Release reservations older than this")
	batchSize := flag.Int("batch-size", config.SweeperBatchSize(), "Rows per transaction")
	dryRun := flag.Bool("dry-run", true, "Count expired reservations only (no writes)")
	withLock := flag.Bool("lock", true, "Take the sweeper's Redis lock (skip if another sweeper holds it)")
	flag.Parse()

	if *ttlSeconds <= 0 || *batchSize <= 0 {
		fmt.Fprintln(os.Stderr, "--ttl-seconds and --batch-size must be positive")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	ttl := time.Duration(*ttlSeconds) * time.Second
	cutoff := time.Now().UTC().Add(-ttl)

	if *dryRun {
		var n int64
		if err := db.Model(&models.Voucher{}).
			Where("status = ? AND reserved_at < ?", models.VoucherStatusReserved, cutoff).
			Count(&n).Error; err != nil {
			fmt.Fprintf(os.Stderr, "count failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("expired reservations older than %s: %d\n", ttl, n)
		return
	}

	if *withLock {
		config.ConnectRedisWithRetry()
	}
	ctx := utils.SetUserIdInContext(context.Background(), 0)
	ctx = utils.SetUserNameInContext(ctx, "reservation-release")

	sweeper := workflow.NewReservationSweeper(config.GetLogger())
	sweeper.TTL = ttl
	sweeper.BatchSize = *batchSize
	if !*withLock {
		sweeper.Locker = nil
	}
	released, err := sweeper.SweepOnce(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed after releasing %d: %v\n", released, err)
		os.Exit(1)
	}
	fmt.Printf("released %d expired reservations\n", released)
}
