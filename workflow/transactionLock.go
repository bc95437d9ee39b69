package workflow

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/pulsaku/voucher_backend/config"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

var (
	paymentSlotsOnce sync.Once
	paymentSlots     *semaphore.Weighted
)

// sharedPaymentSlots bounds lock holders per process; see config.PaymentConcurrency.
func sharedPaymentSlots() *semaphore.Weighted {
	paymentSlotsOnce.Do(func() {
		paymentSlots = semaphore.NewWeighted(int64(config.PaymentConcurrency()))
	})
	return paymentSlots
}

// MySQL caps advisory lock names at 64 characters; transaction ids may be that long on their own.
func transactionLockName(transactionId string) string {
	sum := sha1.Sum([]byte(transactionId))
	return "payment:" + hex.EncodeToString(sum[:])
}

// AcquireTransactionLock serializes work on one payment transaction across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so release must happen on the same connection.
func AcquireTransactionLock(conn *gorm.DB, transactionId string) error {
	var ok int
	if err := conn.Raw("SELECT GET_LOCK(?, 30)", transactionLockName(transactionId)).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire payment lock for transaction_id=%s", transactionId)
	}
	return nil
}

func ReleaseTransactionLock(conn *gorm.DB, transactionId string) {
	var _ok int
	_ = conn.Raw("SELECT RELEASE_LOCK(?)", transactionLockName(transactionId)).Scan(&_ok).Error
}

// withTransactionLock pins one pooled connection to hold the lock while fn runs.
// fn's own queries use other connections, so callers must bound how many run at once.
func withTransactionLock(ctx context.Context, db *gorm.DB, transactionId string, fn func() error) error {
	return db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := AcquireTransactionLock(conn, transactionId); err != nil {
			return err
		}
		defer ReleaseTransactionLock(conn, transactionId)
		return fn()
	})
}
