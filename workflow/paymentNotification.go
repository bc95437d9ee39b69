package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pulsaku/voucher_backend/config"
	"github.com/pulsaku/voucher_backend/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

const PaymentHandlerName = "payment_notification"

type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
	PaymentStatusExpired PaymentStatus = "EXPIRED"
)

// PaymentNotification is the payload the payment gateway adapter pushes through Pub/Sub.
type PaymentNotification struct {
	TransactionId string        `json:"transaction_id"`
	Status        PaymentStatus `json:"status"`
	ProductId     int           `json:"product_id"`
	VoucherId     *int          `json:"voucher_id,omitempty"`
	Phone         string        `json:"phone,omitempty"`
	CorrelationId string        `json:"correlation_id,omitempty"`
}

var (
	ErrInvalidPaymentNotification = errors.New("invalid payment notification")
	// ErrPaidWithoutStock means money was taken but no voucher could be handed out.
	ErrPaidWithoutStock = errors.New("payment succeeded but product is out of stock")
)

func (n PaymentNotification) Validate() error {
	if strings.TrimSpace(n.TransactionId) == "" {
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidPaymentNotification)
	}
	switch n.Status {
	case PaymentStatusPaid:
		if n.VoucherId == nil && n.ProductId <= 0 {
			return fmt.Errorf("%w: paid notification needs voucher_id or product_id", ErrInvalidPaymentNotification)
		}
	case PaymentStatusFailed, PaymentStatusExpired:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidPaymentNotification, n.Status)
	}
	return nil
}

// VoucherAllocator is the part of the allocation protocol payment handling drives.
type VoucherAllocator interface {
	ClaimVoucher(ctx context.Context, productId int, transactionId string, opts models.ClaimOptions) (*models.Voucher, error)
	ConfirmReservedVoucher(ctx context.Context, voucherId int, transactionId string, opts models.ClaimOptions) (*models.Voucher, error)
	ReleaseVoucher(ctx context.Context, id int) (*models.Voucher, error)
}

type storeAllocator struct{}

func (storeAllocator) ClaimVoucher(ctx context.Context, productId int, transactionId string, opts models.ClaimOptions) (*models.Voucher, error) {
	return models.ClaimVoucher(ctx, productId, transactionId, opts)
}

func (storeAllocator) ConfirmReservedVoucher(ctx context.Context, voucherId int, transactionId string, opts models.ClaimOptions) (*models.Voucher, error) {
	return models.ConfirmReservedVoucher(ctx, voucherId, transactionId, opts)
}

func (storeAllocator) ReleaseVoucher(ctx context.Context, id int) (*models.Voucher, error) {
	return models.ReleaseVoucher(ctx, id)
}

// StoreAllocator drives the MySQL-backed allocation protocol.
func StoreAllocator() VoucherAllocator {
	return storeAllocator{}
}

// ApplyPaymentNotification routes a payment outcome to the allocation protocol:
// PAID confirms the reservation (or claims directly when none was made),
// FAILED and EXPIRED give the reservation back.
func ApplyPaymentNotification(ctx context.Context, alloc VoucherAllocator, n PaymentNotification) (*models.Voucher, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	opts := models.ClaimOptions{Phone: n.Phone}

	switch n.Status {
	case PaymentStatusPaid:
		if n.VoucherId != nil {
			return alloc.ConfirmReservedVoucher(ctx, *n.VoucherId, n.TransactionId, opts)
		}
		v, err := alloc.ClaimVoucher(ctx, n.ProductId, n.TransactionId, opts)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, ErrPaidWithoutStock
		}
		return v, nil
	default:
		if n.VoucherId == nil {
			return nil, nil
		}
		return alloc.ReleaseVoucher(ctx, *n.VoucherId)
	}
}

// IsPermanentPaymentError reports errors a redelivery cannot fix. They are acked, not retried.
func IsPermanentPaymentError(err error) bool {
	return errors.Is(err, ErrInvalidPaymentNotification) ||
		errors.Is(err, ErrPaidWithoutStock) ||
		errors.Is(err, models.ErrInvalidVoucherState) ||
		errors.Is(err, models.ErrVoucherNotFound) ||
		errors.Is(err, models.ErrProductNotFound) ||
		errors.Is(err, models.ErrProductInactive) ||
		errors.Is(err, models.ErrInvalidPhone)
}

// PaymentProcessor applies each Pub/Sub message at most once using durable idempotency keys.
type PaymentProcessor struct {
	DB        *gorm.DB
	Allocator VoucherAllocator
	Logger    *logrus.Logger
	// Slots bounds concurrent Process calls. nil means unbounded.
	Slots *semaphore.Weighted
}

func NewPaymentProcessor(db *gorm.DB, logger *logrus.Logger) *PaymentProcessor {
	return &PaymentProcessor{DB: db, Allocator: StoreAllocator(), Logger: logger, Slots: sharedPaymentSlots()}
}

// Process returns nil when the message should be acked. A non-nil error asks Pub/Sub to redeliver.
// Notifications for the same payment transaction are serialized across instances.
func (p *PaymentProcessor) Process(ctx context.Context, messageId string, n PaymentNotification) error {
	if p.Slots != nil {
		if err := p.Slots.Acquire(ctx, 1); err != nil {
			return err
		}
		defer p.Slots.Release(1)
	}
	return withTransactionLock(ctx, p.DB, n.TransactionId, func() error {
		return p.process(ctx, messageId, n)
	})
}

func (p *PaymentProcessor) process(ctx context.Context, messageId string, n PaymentNotification) error {
	db := p.DB.WithContext(ctx)
	var skip bool
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		skip, err = BeginIdempotency(tx, PaymentHandlerName, messageId)
		return err
	})
	if err != nil {
		return err
	}
	if skip {
		paymentNotifications.WithLabelValues(string(n.Status), "duplicate").Inc()
		return nil
	}

	v, applyErr := ApplyPaymentNotification(ctx, p.Allocator, n)
	fields := logrus.Fields{
		"field":          "PaymentProcessor",
		"message_id":     messageId,
		"transaction_id": n.TransactionId,
		"status":         n.Status,
	}
	if v != nil {
		fields["voucher_id"] = v.ID
	}

	if applyErr == nil {
		paymentNotifications.WithLabelValues(string(n.Status), "applied").Inc()
		return MarkIdempotencySucceeded(db, PaymentHandlerName, messageId)
	}

	if markErr := MarkIdempotencyFailed(db, PaymentHandlerName, messageId, applyErr); markErr != nil && p.Logger != nil {
		config.LogError(p.Logger, "workflow", "PaymentProcessor.Process", "MarkIdempotencyFailed", messageId, markErr)
	}
	if IsPermanentPaymentError(applyErr) {
		paymentNotifications.WithLabelValues(string(n.Status), "rejected").Inc()
		if p.Logger != nil {
			p.Logger.WithFields(fields).Error("payment notification rejected: " + applyErr.Error())
		}
		return nil
	}
	paymentNotifications.WithLabelValues(string(n.Status), "retry").Inc()
	return applyErr
}
