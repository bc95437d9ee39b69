package models

import (
	"errors"
	"fmt"
	"strings"
)

type VoucherStatus string

const (
	VoucherStatusAvailable VoucherStatus = "available"
	VoucherStatusReserved  VoucherStatus = "reserved"
	VoucherStatusSold      VoucherStatus = "sold"
)

func (s VoucherStatus) Valid() bool {
	switch s {
	case VoucherStatusAvailable, VoucherStatusReserved, VoucherStatusSold:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether next is a legal successor of s.
// Legal: available->reserved, available->sold, reserved->sold, reserved->available.
// sold is terminal.
func (s VoucherStatus) CanTransitionTo(next VoucherStatus) bool {
	switch s {
	case VoucherStatusAvailable:
		return next == VoucherStatusReserved || next == VoucherStatusSold
	case VoucherStatusReserved:
		return next == VoucherStatusSold || next == VoucherStatusAvailable
	case VoucherStatusSold:
		return false
	default:
		return false
	}
}

func ParseVoucherStatus(v string) (VoucherStatus, error) {
	s := VoucherStatus(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidVoucherState, v)
	}
	return s, nil
}

var (
	ErrDuplicateCode       = errors.New("voucher code already exists")
	ErrVoucherNotFound     = errors.New("voucher not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrProductInactive     = errors.New("product is inactive")
	ErrInvalidVoucherState = errors.New("invalid voucher state")
	ErrBatchTooLarge       = errors.New("voucher batch too large")
	ErrEmptyBatch          = errors.New("voucher batch is empty")
	ErrInvalidVoucherCode  = errors.New("invalid voucher code")
	ErrInvalidPhone        = errors.New("invalid buyer phone number")
)
