package models

import (
	"errors"
	"testing"
)

func TestVoucherStatus_Transitions(t *testing.T) {
	cases := []struct {
		from, to VoucherStatus
		ok       bool
	}{
		{VoucherStatusAvailable, VoucherStatusReserved, true},
		{VoucherStatusAvailable, VoucherStatusSold, true},
		{VoucherStatusReserved, VoucherStatusSold, true},
		{VoucherStatusReserved, VoucherStatusAvailable, true},
		{VoucherStatusAvailable, VoucherStatusAvailable, false},
		{VoucherStatusReserved, VoucherStatusReserved, false},
		{VoucherStatusSold, VoucherStatusAvailable, false},
		{VoucherStatusSold, VoucherStatusReserved, false},
		{VoucherStatusSold, VoucherStatusSold, false},
		{VoucherStatus("lost"), VoucherStatusAvailable, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestParseVoucherStatus(t *testing.T) {
	s, err := ParseVoucherStatus(" Reserved ")
	if err != nil || s != VoucherStatusReserved {
		t.Fatalf("got %q, %v", s, err)
	}
	if _, err := ParseVoucherStatus("refunded"); !errors.Is(err, ErrInvalidVoucherState) {
		t.Fatalf("expected ErrInvalidVoucherState, got %v", err)
	}
}
