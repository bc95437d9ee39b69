package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pulsaku/voucher_backend/config"
	"github.com/pulsaku/voucher_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type VoucherEventType string

const (
	VoucherEventReserved VoucherEventType = "RESERVED"
	VoucherEventSold     VoucherEventType = "SOLD"
	VoucherEventReleased VoucherEventType = "RELEASED"
	VoucherEventExpired  VoucherEventType = "EXPIRED"
)

// VoucherEvent is the transactional outbox row. It is written in the same transaction as the
// voucher change and published after commit by the outbox dispatcher.
type VoucherEvent struct {
	ID            int              `gorm:"primary_key;index:idx_voucher_event_dispatch,priority:3" json:"id"`
	EventType     VoucherEventType `gorm:"size:20;not null" json:"event_type"`
	VoucherId     int              `gorm:"index;not null" json:"voucher_id"`
	ProductId     int              `gorm:"not null" json:"product_id"`
	Code          string           `gorm:"size:100" json:"code"`
	TransactionId string           `gorm:"size:64;index" json:"transaction_id"`
	Phone         string           `gorm:"size:20" json:"phone"`
	CorrelationId string           `gorm:"size:64;index" json:"correlation_id"`
	OccurredAt    time.Time        `gorm:"not null" json:"occurred_at"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_voucher_event_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_voucher_event_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func eventTypeForStatus(to VoucherStatus) VoucherEventType {
	switch to {
	case VoucherStatusReserved:
		return VoucherEventReserved
	case VoucherStatusSold:
		return VoucherEventSold
	default:
		return VoucherEventReleased
	}
}

func enqueueVoucherEvent(tx *gorm.DB, eventType VoucherEventType, v *Voucher, phone string) error {
	correlationId, _ := utils.GetCorrelationIdFromContext(tx.Statement.Context)
	event := VoucherEvent{
		EventType:     eventType,
		VoucherId:     v.ID,
		ProductId:     v.ProductId,
		Phone:         phone,
		CorrelationId: correlationId,
		OccurredAt:    time.Now().UTC(),
		PublishStatus: OutboxPublishStatusPending,
	}
	// Codes only travel on SOLD; the SMS deliverer is the only consumer that needs them.
	if eventType == VoucherEventSold {
		event.Code = v.Code
	}
	if v.TransactionId != nil {
		event.TransactionId = *v.TransactionId
	}
	return tx.Create(&event).Error
}

// ToMessage converts an outbox row into its Pub/Sub payload.
func (e VoucherEvent) ToMessage() config.VoucherEventMessage {
	return config.VoucherEventMessage{
		EventId:       e.ID,
		EventType:     string(e.EventType),
		VoucherId:     e.VoucherId,
		ProductId:     e.ProductId,
		Code:          e.Code,
		TransactionId: e.TransactionId,
		Phone:         e.Phone,
		OccurredAt:    e.OccurredAt,
		CorrelationId: e.CorrelationId,
	}
}

// ReplayVoucherEvent puts a FAILED or DEAD event back in the dispatcher's queue.
// SENT events are left alone; consumers already have them.
func ReplayVoucherEvent(ctx context.Context, id int) (*VoucherEvent, error) {
	db := config.GetDB()
	var event VoucherEvent
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&event).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if event.PublishStatus == OutboxPublishStatusSent {
			return fmt.Errorf("%w: event %d already sent", ErrInvalidVoucherState, id)
		}
		now := time.Now().UTC()
		updates := map[string]interface{}{
			"publish_status":     OutboxPublishStatusFailed,
			"publish_attempts":   0,
			"next_attempt_at":    &now,
			"locked_at":          nil,
			"locked_by":          nil,
			"last_publish_error": nil,
		}
		if err := tx.Model(&event).Updates(updates).Error; err != nil {
			return err
		}
		event.PublishStatus = OutboxPublishStatusFailed
		event.PublishAttempts = 0
		event.NextAttemptAt = &now
		event.LockedAt = nil
		event.LockedBy = nil
		event.LastPublishError = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}
