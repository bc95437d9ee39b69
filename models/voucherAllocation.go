package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pulsaku/voucher_backend/config"
	"github.com/pulsaku/voucher_backend/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("github.com/pulsaku/voucher_backend/models")

// ClaimOptions carries buyer data that travels with the SOLD event.
type ClaimOptions struct {
	Phone string
}

func startAllocationSpan(ctx context.Context, name string, productId int) (context.Context, trace.Span, time.Time) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attribute.Int("voucher.product_id", productId)))
	return ctx, span, time.Now()
}

func endAllocationSpan(span trace.Span, operation string, start time.Time, v *Voucher, err error) {
	outcome := allocationOutcome(v, err)
	voucherAllocations.WithLabelValues(operation, outcome).Inc()
	voucherAllocationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("voucher.outcome", outcome))
	if v != nil {
		span.SetAttributes(attribute.Int("voucher.id", v.ID))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TryLockOneAvailable locks the oldest available voucher of productId that no other
// transaction holds. Rows locked elsewhere are skipped, never waited on. Returns nil when
// nothing is available. Must run inside tx; the lock lives until tx ends.
func TryLockOneAvailable(tx *gorm.DB, productId int) (*Voucher, error) {
	var vouchers []Voucher
	err := tx.
		Where("product_id = ? AND status = ?", productId, VoucherStatusAvailable).
		Order("id ASC").
		Limit(1).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Find(&vouchers).Error
	if err != nil {
		return nil, err
	}
	if len(vouchers) == 0 {
		return nil, nil
	}
	return &vouchers[0], nil
}

// allocate runs the lock-and-mark protocol in one transaction. nil, nil means out of stock.
func allocate(ctx context.Context, productId int, next VoucherStatus, transactionId *string, phone string) (*Voucher, error) {
	db := config.GetDB()
	var result *Voucher
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := TryLockOneAvailable(tx, productId)
		if err != nil {
			return err
		}
		if v == nil {
			return nil
		}
		updates, err := applyStatus(v, next, transactionId, time.Now().UTC())
		if err != nil {
			return err
		}
		res := tx.Model(&Voucher{}).
			Where("id = ? AND status = ?", v.ID, VoucherStatusAvailable).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: voucher %d left available state under lock", ErrInvalidVoucherState, v.ID)
		}
		if err := enqueueVoucherEvent(tx, eventTypeForStatus(next), v, phone); err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReserveVoucher holds the oldest available voucher of productId for a pending payment.
func ReserveVoucher(ctx context.Context, productId int) (v *Voucher, err error) {
	ctx, span, start := startAllocationSpan(ctx, "ReserveVoucher", productId)
	defer func() { endAllocationSpan(span, "reserve", start, v, err) }()

	if _, err := requireActiveProduct(ctx, productId); err != nil {
		return nil, err
	}
	return allocate(ctx, productId, VoucherStatusReserved, nil, "")
}

func normalizeTransactionId(transactionId string) (string, error) {
	transactionId = strings.TrimSpace(transactionId)
	if transactionId == "" || len(transactionId) > MaxTransactionIdSize {
		return "", fmt.Errorf("%w: transaction id must be 1 to %d characters", ErrInvalidVoucherState, MaxTransactionIdSize)
	}
	return transactionId, nil
}

func normalizeBuyerPhone(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", nil
	}
	normalized, err := utils.NormalizePhoneNumber(phone, config.SmsCountryCode())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}
	return normalized, nil
}

// ownedVoucher returns the voucher already sold to transactionId, or nil.
func ownedVoucher(ctx context.Context, transactionId string) (*Voucher, error) {
	v, err := GetVoucherByTransactionId(ctx, transactionId)
	if errors.Is(err, ErrVoucherNotFound) {
		return nil, nil
	}
	return v, err
}

// replayedClaim hands back the voucher a transaction already owns, provided it is of productId.
func replayedClaim(owned *Voucher, productId int, transactionId string) (*Voucher, error) {
	if owned.ProductId != productId {
		return nil, fmt.Errorf("%w: transaction %s already owns a voucher of product %d", ErrInvalidVoucherState, transactionId, owned.ProductId)
	}
	return owned, nil
}

// ClaimVoucher sells the oldest available voucher of productId to transactionId.
// A transaction owns at most one voucher: replays for the same product return the voucher it
// already owns.
func ClaimVoucher(ctx context.Context, productId int, transactionId string, opts ClaimOptions) (v *Voucher, err error) {
	ctx, span, start := startAllocationSpan(ctx, "ClaimVoucher", productId)
	defer func() { endAllocationSpan(span, "claim", start, v, err) }()

	transactionId, err = normalizeTransactionId(transactionId)
	if err != nil {
		return nil, err
	}
	phone, err := normalizeBuyerPhone(opts.Phone)
	if err != nil {
		return nil, err
	}
	if _, err := requireActiveProduct(ctx, productId); err != nil {
		return nil, err
	}

	owned, err := ownedVoucher(ctx, transactionId)
	if err != nil {
		return nil, err
	}
	if owned != nil {
		return replayedClaim(owned, productId, transactionId)
	}

	v, err = allocate(ctx, productId, VoucherStatusSold, &transactionId, phone)
	if err != nil && isDuplicateKeyErr(err) {
		// A concurrent claim for the same transaction committed first; its voucher wins and ours rolled back.
		if owned, lookupErr := ownedVoucher(ctx, transactionId); lookupErr == nil && owned != nil {
			return replayedClaim(owned, productId, transactionId)
		}
	}
	return v, err
}

// ConfirmReservedVoucher completes a reservation: reserved -> sold for transactionId.
func ConfirmReservedVoucher(ctx context.Context, voucherId int, transactionId string, opts ClaimOptions) (v *Voucher, err error) {
	ctx, span, start := startAllocationSpan(ctx, "ConfirmReservedVoucher", 0)
	defer func() { endAllocationSpan(span, "confirm", start, v, err) }()

	transactionId, err = normalizeTransactionId(transactionId)
	if err != nil {
		return nil, err
	}
	phone, err := normalizeBuyerPhone(opts.Phone)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockVoucher(tx, voucherId)
		if err != nil {
			return err
		}
		if locked.Status == VoucherStatusSold {
			if locked.TransactionId != nil && *locked.TransactionId == transactionId {
				v = locked
				return nil
			}
			return fmt.Errorf("%w: voucher %d is already sold", ErrInvalidVoucherState, voucherId)
		}
		if locked.Status != VoucherStatusReserved {
			return fmt.Errorf("%w: voucher %d is %s, not reserved", ErrInvalidVoucherState, voucherId, locked.Status)
		}
		updates, err := applyStatus(locked, VoucherStatusSold, &transactionId, time.Now().UTC())
		if err != nil {
			return err
		}
		if err := tx.Model(&Voucher{}).Where("id = ?", voucherId).Updates(updates).Error; err != nil {
			if isDuplicateKeyErr(err) {
				return fmt.Errorf("%w: transaction %s already owns a voucher", ErrInvalidVoucherState, transactionId)
			}
			return err
		}
		if err := enqueueVoucherEvent(tx, VoucherEventSold, locked, phone); err != nil {
			return err
		}
		v = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ReleaseVoucher returns a reserved voucher to the pool. Releasing an available voucher is a
// no-op; releasing a sold one fails.
func ReleaseVoucher(ctx context.Context, id int) (v *Voucher, err error) {
	ctx, span, start := startAllocationSpan(ctx, "ReleaseVoucher", 0)
	defer func() { endAllocationSpan(span, "release", start, v, err) }()

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockVoucher(tx, id)
		if err != nil {
			return err
		}
		switch locked.Status {
		case VoucherStatusAvailable:
			v = locked
			return nil
		case VoucherStatusSold:
			return fmt.Errorf("%w: voucher %d is sold", ErrInvalidVoucherState, id)
		}
		updates, err := applyStatus(locked, VoucherStatusAvailable, nil, time.Now().UTC())
		if err != nil {
			return err
		}
		if err := tx.Model(&Voucher{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		if err := enqueueVoucherEvent(tx, VoucherEventReleased, locked, ""); err != nil {
			return err
		}
		v = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ReleaseExpiredReservations hands back up to limit reservations made before cutoff.
// Rows another transaction holds are skipped and picked up on a later pass.
func ReleaseExpiredReservations(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	db := config.GetDB()
	released := 0
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var expired []Voucher
		err := tx.
			Where("status = ? AND reserved_at IS NOT NULL AND reserved_at <= ?", VoucherStatusReserved, cutoff).
			Order("reserved_at ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&expired).Error
		if err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}

		ids := make([]int, 0, len(expired))
		for i := range expired {
			ids = append(ids, expired[i].ID)
		}
		res := tx.Model(&Voucher{}).
			Where("id IN ? AND status = ?", ids, VoucherStatusReserved).
			Updates(map[string]interface{}{"status": VoucherStatusAvailable, "reserved_at": nil})
		if res.Error != nil {
			return res.Error
		}
		for i := range expired {
			expired[i].Status = VoucherStatusAvailable
			expired[i].ReservedAt = nil
			if err := enqueueVoucherEvent(tx, VoucherEventExpired, &expired[i], ""); err != nil {
				return err
			}
		}
		released = int(res.RowsAffected)
		return nil
	})
	if err != nil {
		return 0, err
	}
	voucherExpired.Add(float64(released))
	return released, nil
}
