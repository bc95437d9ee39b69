package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pulsaku/voucher_backend/config"
	"github.com/pulsaku/voucher_backend/models"
	"github.com/pulsaku/voucher_backend/utils"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// setupVoucherDB starts a throwaway MySQL 8 and migrates it. Redis is left unset so product
// lookups always hit the database.
func setupVoucherDB(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "voucher_test")

	config.SetRedisDB(nil)
	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	ctx := utils.SetUserIdInContext(context.Background(), 1)
	return utils.SetUserNameInContext(ctx, "Test")
}

func newTestProduct(t *testing.T, ctx context.Context, name string, active bool) *models.Product {
	t.Helper()
	isActive := active
	p, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:     name,
		Operator: "Telkomsel",
		Price:    decimal.NewFromInt(10000),
		IsActive: &isActive,
	})
	if err != nil {
		t.Fatalf("create product %s: %v", name, err)
	}
	return p
}

func seedCodes(t *testing.T, ctx context.Context, productId int, prefix string, n int) []string {
	t.Helper()
	codes := make([]string, n)
	for i := range codes {
		codes[i] = fmt.Sprintf("%s-%04d", prefix, i+1)
	}
	res, err := models.BulkCreateVouchers(ctx, productId, codes)
	if err != nil {
		t.Fatalf("seed codes: %v", err)
	}
	if res.Inserted != n {
		t.Fatalf("seed codes: inserted %d want %d", res.Inserted, n)
	}
	return codes
}

func mustStock(t *testing.T, ctx context.Context, productId int) *models.VoucherStock {
	t.Helper()
	s, err := models.CountVouchersByStatus(ctx, productId)
	if err != nil {
		t.Fatalf("count stock: %v", err)
	}
	if s.Total != s.Available+s.Reserved+s.Sold {
		t.Fatalf("stock buckets do not add up: %+v", s)
	}
	return s
}

func TestVoucherInventory_Integration(t *testing.T) {
	ctx := setupVoucherDB(t)

	t.Run("concurrent claims never share a voucher", func(t *testing.T) {
		p := newTestProduct(t, ctx, "Pulsa 10K race", true)
		seedCodes(t, ctx, p.ID, "RACE", 20)

		const buyers = 50
		var (
			mu         sync.Mutex
			seen       = map[int]string{}
			outOfStock int64
		)
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < buyers; i++ {
			trx := fmt.Sprintf("race-trx-%d", i)
			g.Go(func() error {
				v, err := models.ClaimVoucher(gctx, p.ID, trx, models.ClaimOptions{})
				if err != nil {
					return err
				}
				if v == nil {
					atomic.AddInt64(&outOfStock, 1)
					return nil
				}
				mu.Lock()
				defer mu.Unlock()
				if other, dup := seen[v.ID]; dup {
					return fmt.Errorf("voucher %d handed to %s and %s", v.ID, other, trx)
				}
				seen[v.ID] = trx
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}
		if len(seen) != 20 || outOfStock != buyers-20 {
			t.Fatalf("claimed=%d out_of_stock=%d", len(seen), outOfStock)
		}
		s := mustStock(t, ctx, p.ID)
		if s.Sold != 20 || s.Available != 0 || s.Reserved != 0 {
			t.Fatalf("unexpected stock %+v", s)
		}
	})

	t.Run("reserve and release under contention loses nothing", func(t *testing.T) {
		p := newTestProduct(t, ctx, "Pulsa 20K churn", true)
		seedCodes(t, ctx, p.ID, "CHURN", 10)

		var g errgroup.Group
		for i := 0; i < 30; i++ {
			g.Go(func() error {
				v, err := models.ReserveVoucher(ctx, p.ID)
				if err != nil || v == nil {
					return err
				}
				_, err = models.ReleaseVoucher(ctx, v.ID)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}
		s := mustStock(t, ctx, p.ID)
		if s.Available != 10 || s.Total != 10 {
			t.Fatalf("unexpected stock %+v", s)
		}
	})

	t.Run("allocation follows insertion order", func(t *testing.T) {
		p := newTestProduct(t, ctx, "Pulsa 25K fifo", true)
		for _, code := range []string{"FIFO-C", "FIFO-A", "FIFO-B"} {
			if _, err := models.CreateVoucher(ctx, p.ID, code); err != nil {
				t.Fatalf("create %s: %v", code, err)
			}
		}
		avail, err := models.FindAvailableVouchers(ctx, p.ID)
		if err != nil {
			t.Fatal(err)
		}
		for i, want := range []string{"FIFO-C", "FIFO-A", "FIFO-B"} {
			if avail[i].Code != want {
				t.Fatalf("available[%d]=%s want %s", i, avail[i].Code, want)
			}
		}
		first, err := models.ReserveVoucher(ctx, p.ID)
		if err != nil || first == nil || first.Code != "FIFO-C" {
			t.Fatalf("first reserve: %+v %v", first, err)
		}
		second, err := models.ClaimVoucher(ctx, p.ID, "fifo-trx", models.ClaimOptions{})
		if err != nil || second == nil || second.Code != "FIFO-A" {
			t.Fatalf("second claim: %+v %v", second, err)
		}
	})

	t.Run("batch insert skips duplicates", func(t *testing.T) {
		p := newTestProduct(t, ctx, "Pulsa 50K batch", true)
		if _, err := models.CreateVoucher(ctx, p.ID, "X001"); err != nil {
			t.Fatal(err)
		}
		res, err := models.BulkCreateVouchers(ctx, p.ID, []string{"X001", "X002", "X002", "X003"})
		if err != nil {
			t.Fatal(err)
		}
		if res.Inserted != 2 || res.Skipped != 2 {
			t.Fatalf("got %+v want inserted=2 skipped=2", res)
		}
		if s := mustStock(t, ctx, p.ID); s.Available != 3 {
			t.Fatalf("unexpected stock %+v", s)
		}
	})

	t.Run("codes are globally unique and case sensitive", func(t *testing.T) {
		a := newTestProduct(t, ctx, "Pulsa 5K a", true)
		b := newTestProduct(t, ctx, "Pulsa 5K b", true)
		if _, err := models.CreateVoucher(ctx, a.ID, "UNIQ-01"); err != nil {
			t.Fatal(err)
		}
		if _, err := models.CreateVoucher(ctx, b.ID, "UNIQ-01"); !errors.Is(err, models.ErrDuplicateCode) {
			t.Fatalf("expected ErrDuplicateCode, got %v", err)
		}
		if _, err := models.CreateVoucher(ctx, b.ID, "uniq-01"); err != nil {
			t.Fatalf("lowercase variant should be distinct: %v", err)
		}

		page, err := models.ListVouchers(ctx, models.VoucherFilter{ProductId: &b.ID, Search: "UNIQ"})
		if err != nil {
			t.Fatal(err)
		}
		if page.Total != 1 || len(page.Items) != 1 || page.Items[0].Code != "uniq-01" {
			t.Fatalf("search should ignore case, got %+v", page)
		}
	})

	t.Run("sold is terminal", func(t *testing.T) {
		p := newTestProduct(t, ctx, "Pulsa 100K terminal", true)
		seedCodes(t, ctx, p.ID, "TERM", 1)
		v, err := models.ClaimVoucher(ctx, p.ID, "term-trx", models.ClaimOptions{})
		if err != nil || v == nil {
			t.Fatalf("claim: %+v %v", v, err)
		}
		if _, err := models.ReleaseVoucher(ctx, v.ID); !errors.Is(err, models.ErrInvalidVoucherState) {
			t.Fatalf("release sold: %v", err)
		}
		if _, err := models.SetVoucherStatus(ctx, v.ID, models.VoucherStatusAvailable, nil); !errors.Is(err, models.ErrInvalidVoucherState) {
			t.Fatalf("set status on sold: %v", err)
		}
		if err := models.DeleteVoucher(ctx, v.ID); !errors.Is(err, models.ErrInvalidVoucherState) {
			t.Fatalf("delete sold: %v", err)
		}
		if _, err := models.UpdateVoucherCode(ctx, v.ID, "TERM-NEW"); !errors.Is(err, models.ErrInvalidVoucherState) {
			t.Fatalf("edit sold: %v", err)
		}
		got, err := models.GetVoucher(ctx, v.ID)
		if err != nil || got.Status != models.VoucherStatusSold || got.TransactionId == nil || *got.TransactionId != "term-trx" {
			t.Fatalf("sold voucher changed: %+v %v", got, err)
		}
	})

	t.Run("release is idempotent", func(t *testing.T) {
		p := newTestProduct(t, ctx, "Pulsa 15K release", true)
		seedCodes(t, ctx, p.ID, "REL", 1)
		v, err := models.ReserveVoucher(ctx, p.ID)
		if err != nil || v == nil {
			t.Fatalf("reserve: %+v %v", v, err)
		}
		for i := 0; i < 2; i++ {
			got, err := models.ReleaseVoucher(ctx, v.ID)
			if err != nil || got.Status != models.VoucherStatusAvailable || got.ReservedAt != nil {
				t.Fatalf("release #%d: %+v %v", i+1, got, err)
			}
		}
		if _, err := models.ReleaseVoucher(ctx, 99999999); !errors.Is(err, models.ErrVoucherNotFound) {
			t.Fatalf("release unknown: %v", err)
		}
	})

	t.Run("replayed claim returns the same voucher", func(t *testing.T) {
		p := newTestProduct(t, ctx, "Pulsa 30K replay", true)
		seedCodes(t, ctx, p.ID, "REPLAY", 3)
		first, err := models.ClaimVoucher(ctx, p.ID, "replay-trx", models.ClaimOptions{})
		if err != nil || first == nil {
			t.Fatalf("claim: %+v %v", first, err)
		}
		again, err := models.ClaimVoucher(ctx, p.ID, "replay-trx", models.ClaimOptions{})
		if err != nil || again == nil || again.ID != first.ID {
			t.Fatalf("replay: %+v %v", again, err)
		}
		if s := mustStock(t, ctx, p.ID); s.Sold != 1 || s.Available != 2 {
			t.Fatalf("unexpected stock %+v", s)
		}
	})

	t.Run("confirm reservation records the buyer phone", func(t *testing.T) {
		p := newTestProduct(t, ctx, "Pulsa 40K confirm", true)
		seedCodes(t, ctx, p.ID, "CONF", 1)
		v, err := models.ReserveVoucher(ctx, p.ID)
		if err != nil || v == nil {
			t.Fatalf("reserve: %+v %v", v, err)
		}
		sold, err := models.ConfirmReservedVoucher(ctx, v.ID, "conf-trx", models.ClaimOptions{Phone: "081234567890"})
		if err != nil || sold.Status != models.VoucherStatusSold {
			t.Fatalf("confirm: %+v %v", sold, err)
		}
		again, err := models.ConfirmReservedVoucher(ctx, v.ID, "conf-trx", models.ClaimOptions{})
		if err != nil || again.ID != v.ID {
			t.Fatalf("confirm replay: %+v %v", again, err)
		}

		var ev models.VoucherEvent
		err = config.GetDB().Where("voucher_id = ? AND event_type = ?", v.ID, models.VoucherEventSold).First(&ev).Error
		if err != nil {
			t.Fatalf("sold event: %v", err)
		}
		if ev.Phone != "+6281234567890" || ev.Code != "CONF-0001" || ev.PublishStatus != models.OutboxPublishStatusPending {
			t.Fatalf("unexpected event %+v", ev)
		}
	})

	t.Run("expired reservations return to the pool", func(t *testing.T) {
		p := newTestProduct(t, ctx, "Pulsa 75K expiry", true)
		seedCodes(t, ctx, p.ID, "EXP", 2)
		for i := 0; i < 2; i++ {
			if v, err := models.ReserveVoucher(ctx, p.ID); err != nil || v == nil {
				t.Fatalf("reserve: %+v %v", v, err)
			}
		}
		n, err := models.ReleaseExpiredReservations(ctx, time.Now().UTC().Add(time.Minute), 10)
		if err != nil {
			t.Fatal(err)
		}
		if n < 2 {
			t.Fatalf("released %d want >= 2", n)
		}
		if s := mustStock(t, ctx, p.ID); s.Available != 2 || s.Reserved != 0 {
			t.Fatalf("unexpected stock %+v", s)
		}
	})

	t.Run("product gate and empty pool", func(t *testing.T) {
		inactive := newTestProduct(t, ctx, "Pulsa retired", false)
		if _, err := models.ReserveVoucher(ctx, inactive.ID); !errors.Is(err, models.ErrProductInactive) {
			t.Fatalf("inactive product: %v", err)
		}
		if _, err := models.ClaimVoucher(ctx, 88888888, "ghost-trx", models.ClaimOptions{}); !errors.Is(err, models.ErrProductNotFound) {
			t.Fatalf("unknown product: %v", err)
		}
		empty := newTestProduct(t, ctx, "Pulsa empty", true)
		v, err := models.ReserveVoucher(ctx, empty.ID)
		if err != nil || v != nil {
			t.Fatalf("empty pool should be nil, nil: %+v %v", v, err)
		}
	})

	t.Run("allocation ignores a stale cached product", func(t *testing.T) {
		redisName, redisPort := startRedisContainer(t)
		t.Cleanup(func() { _ = dockerRmForce(redisName) })
		config.SetRedisDB(redis.NewClient(&redis.Options{Addr: "127.0.0.1:" + redisPort}))
		t.Cleanup(func() { config.SetRedisDB(nil) })

		p := newTestProduct(t, ctx, "Pulsa stale cache", true)
		seedCodes(t, ctx, p.ID, "STALE", 1)
		cached, err := utils.RetrieveRedis[models.Product](p.ID)
		if err != nil || cached == nil || cached.IsActive == nil || !*cached.IsActive {
			t.Fatalf("expected an active cached copy, got %+v %v", cached, err)
		}

		// The catalog retires the product behind the cache's back.
		if err := config.GetDB().Model(&models.Product{}).Where("id = ?", p.ID).Update("is_active", false).Error; err != nil {
			t.Fatal(err)
		}
		if _, err := models.ClaimVoucher(ctx, p.ID, "stale-trx", models.ClaimOptions{}); !errors.Is(err, models.ErrProductInactive) {
			t.Fatalf("claim on retired product: %v", err)
		}
		if _, err := models.ReserveVoucher(ctx, p.ID); !errors.Is(err, models.ErrProductInactive) {
			t.Fatalf("reserve on retired product: %v", err)
		}
		if s := mustStock(t, ctx, p.ID); s.Available != 1 || s.Sold != 0 {
			t.Fatalf("unexpected stock %+v", s)
		}
	})

	t.Run("bulk insert skips short codes", func(t *testing.T) {
		p := newTestProduct(t, ctx, "Pulsa short codes", true)
		res, err := models.BulkCreateVouchers(ctx, p.ID, []string{"AB1", "VALID-0001", "VALID-0002"})
		if err != nil {
			t.Fatalf("bulk: %v", err)
		}
		if res.Inserted != 2 || res.Skipped != 1 || res.Invalid != 1 {
			t.Fatalf("unexpected result %+v", res)
		}
	})

	t.Run("replayed claim for another product is rejected", func(t *testing.T) {
		a := newTestProduct(t, ctx, "Pulsa owner A", true)
		b := newTestProduct(t, ctx, "Pulsa owner B", true)
		seedCodes(t, ctx, a.ID, "OWNA", 1)
		seedCodes(t, ctx, b.ID, "OWNB", 1)
		if v, err := models.ClaimVoucher(ctx, a.ID, "owner-trx", models.ClaimOptions{}); err != nil || v == nil {
			t.Fatalf("claim: %+v %v", v, err)
		}
		if _, err := models.ClaimVoucher(ctx, b.ID, "owner-trx", models.ClaimOptions{}); !errors.Is(err, models.ErrInvalidVoucherState) {
			t.Fatalf("cross-product replay: %v", err)
		}
		if s := mustStock(t, ctx, b.ID); s.Available != 1 {
			t.Fatalf("unexpected stock %+v", s)
		}
	})

	t.Run("available vouchers can be corrected and deleted", func(t *testing.T) {
		p := newTestProduct(t, ctx, "Pulsa admin", true)
		v, err := models.CreateVoucher(ctx, p.ID, "ADM-0001")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := models.UpdateVoucherCode(ctx, v.ID, "ADM-0002"); err != nil {
			t.Fatalf("edit: %v", err)
		}
		if _, err := models.SetVoucherStatus(ctx, v.ID, models.VoucherStatusSold, nil); !errors.Is(err, models.ErrInvalidVoucherState) {
			t.Fatalf("sell without transaction id: %v", err)
		}
		if _, err := models.SetVoucherStatus(ctx, v.ID, models.VoucherStatusReserved, nil); err != nil {
			t.Fatalf("reserve via correction: %v", err)
		}
		if err := models.DeleteVoucher(ctx, v.ID); !errors.Is(err, models.ErrInvalidVoucherState) {
			t.Fatalf("delete reserved: %v", err)
		}
		if _, err := models.SetVoucherStatus(ctx, v.ID, models.VoucherStatusAvailable, nil); err != nil {
			t.Fatalf("release via correction: %v", err)
		}
		if err := models.DeleteVoucher(ctx, v.ID); err != nil {
			t.Fatalf("delete available: %v", err)
		}
		if _, err := models.GetVoucher(ctx, v.ID); !errors.Is(err, models.ErrVoucherNotFound) {
			t.Fatalf("deleted voucher still readable: %v", err)
		}
		hist, err := models.GetHistories(ctx, "vouchers", v.ID)
		if err != nil || len(hist) < 4 {
			t.Fatalf("expected audit trail, got %d rows: %v", len(hist), err)
		}
	})
}
