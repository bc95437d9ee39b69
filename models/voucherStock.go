package models

import (
	"context"

	"github.com/pulsaku/voucher_backend/config"
)

type VoucherStock struct {
	ProductId int   `json:"product_id"`
	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
	Sold      int64 `json:"sold"`
	Total     int64 `json:"total"`
}

type voucherStatusCount struct {
	ProductId int
	Status    VoucherStatus
	Count     int64
}

func (s *VoucherStock) add(status VoucherStatus, n int64) {
	switch status {
	case VoucherStatusAvailable:
		s.Available += n
	case VoucherStatusReserved:
		s.Reserved += n
	case VoucherStatusSold:
		s.Sold += n
	default:
		return
	}
	s.Total += n
}

// CountVouchersByStatus reads all three buckets in one statement so they come from a
// single snapshot. Never cached.
func CountVouchersByStatus(ctx context.Context, productId int) (*VoucherStock, error) {
	db := config.GetDB()
	var rows []voucherStatusCount
	err := db.WithContext(ctx).Model(&Voucher{}).
		Select("product_id, status, COUNT(*) AS count").
		Where("product_id = ?", productId).
		Group("product_id, status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stock := &VoucherStock{ProductId: productId}
	for _, r := range rows {
		stock.add(r.Status, r.Count)
	}
	return stock, nil
}

// CountVouchersByStatusForProducts is the multi-product variant used by the admin overview.
// Products without vouchers are reported with zero counts.
func CountVouchersByStatusForProducts(ctx context.Context, productIds []int) ([]*VoucherStock, error) {
	results := make([]*VoucherStock, 0, len(productIds))
	if len(productIds) == 0 {
		return results, nil
	}
	db := config.GetDB()
	var rows []voucherStatusCount
	err := db.WithContext(ctx).Model(&Voucher{}).
		Select("product_id, status, COUNT(*) AS count").
		Where("product_id IN ?", productIds).
		Group("product_id, status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	byProduct := make(map[int]*VoucherStock, len(productIds))
	for _, id := range productIds {
		if _, ok := byProduct[id]; ok {
			continue
		}
		s := &VoucherStock{ProductId: id}
		byProduct[id] = s
		results = append(results, s)
	}
	for _, r := range rows {
		if s, ok := byProduct[r.ProductId]; ok {
			s.add(r.Status, r.Count)
		}
	}
	return results, nil
}
