package config

import (
	"os"
	"strings"
	"time"
)

// ReservationTTL is how long a reserved voucher may wait for payment before the sweeper
// hands it back to the available pool.
//
// Set via env:
// - VOUCHER_RESERVATION_TTL_SECONDS=900
func ReservationTTL() time.Duration {
	secs := intFromEnv("VOUCHER_RESERVATION_TTL_SECONDS", 900)
	if secs <= 0 {
		secs = 900
	}
	return time.Duration(secs) * time.Second
}

// SweeperEnabled toggles the in-process reservation sweeper.
// Disable it on instances where the sweeper runs as a separate job (cmd/reservation-release).
func SweeperEnabled() bool {
	return boolFromEnv("VOUCHER_SWEEPER_ENABLED", true)
}

func SweeperInterval() time.Duration {
	secs := intFromEnv("VOUCHER_SWEEPER_INTERVAL_SECONDS", 30)
	if secs <= 0 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

func SweeperBatchSize() int {
	n := intFromEnv("VOUCHER_SWEEPER_BATCH_SIZE", 100)
	if n <= 0 {
		return 100
	}
	return n
}

// SmsCountryCode is the default region used to normalize buyer phone numbers.
func SmsCountryCode() string {
	v := strings.ToUpper(strings.TrimSpace(os.Getenv("SMS_COUNTRY_CODE")))
	if v == "" {
		return "ID"
	}
	return v
}

// InternalAPIKey guards the orchestrator-facing /internal routes.
func InternalAPIKey() string {
	return strings.TrimSpace(os.Getenv("INTERNAL_API_KEY"))
}

// PaymentConcurrency caps payment notifications processed at once on this instance. Each one
// pins a pooled connection for its advisory lock and needs a second for its work, so the cap
// never exceeds half of DB_MAX_OPEN_CONNS.
//
// Set via env:
// - PAYMENT_MAX_CONCURRENCY (default DB_MAX_OPEN_CONNS/4)
func PaymentConcurrency() int {
	maxOpen := intFromEnv("DB_MAX_OPEN_CONNS", 50)
	if maxOpen <= 0 {
		// unlimited pool
		return max(intFromEnv("PAYMENT_MAX_CONCURRENCY", 12), 1)
	}
	limit := maxOpen / 4
	if n := intFromEnv("PAYMENT_MAX_CONCURRENCY", 0); n > 0 {
		limit = n
	}
	return min(max(limit, 1), max(maxOpen/2, 1))
}
