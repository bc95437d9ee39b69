package config

import (
	"strings"
	"testing"
	"time"
)

func TestDatabaseDSN(t *testing.T) {
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_HOST", "10.0.0.5")
	t.Setenv("DB_PORT", "3306")
	t.Setenv("DB_NAME", "vouchers")

	dsn := DatabaseDSN()
	if !strings.HasPrefix(dsn, "app:pw@tcp(10.0.0.5:3306)/vouchers?") {
		t.Fatalf("unexpected dsn %q", dsn)
	}
	for _, want := range []string{"parseTime=true", "loc=UTC", "transaction_isolation=%27READ-COMMITTED%27"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q missing %s", dsn, want)
		}
	}

	t.Setenv("DB_HOST", "/cloudsql/proj:region:inst")
	if dsn := DatabaseDSN(); !strings.Contains(dsn, "@unix(/cloudsql/proj:region:inst)/") {
		t.Fatalf("expected unix socket dsn, got %q", dsn)
	}
}

func TestRetryBackoffCaps(t *testing.T) {
	if got := retryBackoff(1); got != 2*time.Second {
		t.Fatalf("attempt 1: %s", got)
	}
	if got := retryBackoff(10); got != 30*time.Second {
		t.Fatalf("attempt 10: %s", got)
	}
}

func TestVoucherSettingsDefaults(t *testing.T) {
	t.Setenv("VOUCHER_RESERVATION_TTL_SECONDS", "")
	t.Setenv("VOUCHER_SWEEPER_BATCH_SIZE", "-3")
	t.Setenv("SMS_COUNTRY_CODE", " id ")
	if ReservationTTL() != 15*time.Minute {
		t.Fatalf("ttl %s", ReservationTTL())
	}
	if SweeperBatchSize() != 100 {
		t.Fatalf("batch %d", SweeperBatchSize())
	}
	if SmsCountryCode() != "ID" {
		t.Fatalf("country %q", SmsCountryCode())
	}
	t.Setenv("VOUCHER_SWEEPER_ENABLED", "no")
	if SweeperEnabled() {
		t.Fatal("sweeper should be disabled")
	}
}

func TestPaymentConcurrency_StaysUnderPool(t *testing.T) {
	t.Setenv("DB_MAX_OPEN_CONNS", "")
	t.Setenv("PAYMENT_MAX_CONCURRENCY", "")
	if got := PaymentConcurrency(); got != 12 {
		t.Fatalf("default %d", got)
	}
	t.Setenv("PAYMENT_MAX_CONCURRENCY", "40")
	if got := PaymentConcurrency(); got != 25 {
		t.Fatalf("override above half the pool: %d", got)
	}
	t.Setenv("DB_MAX_OPEN_CONNS", "3")
	t.Setenv("PAYMENT_MAX_CONCURRENCY", "")
	if got := PaymentConcurrency(); got != 1 {
		t.Fatalf("tiny pool: %d", got)
	}
}
