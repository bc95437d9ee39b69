package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pulsaku/voucher_backend/config"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	MaxVoucherBatchSize  = 500
	MinVoucherCodeLength = 4
	MaxVoucherCodeLength = 100
	MaxTransactionIdSize = 64
)

type Voucher struct {
	ID            int           `gorm:"primary_key;index:idx_voucher_alloc,priority:3" json:"id"`
	ProductId     int           `gorm:"not null;index:idx_voucher_alloc,priority:1" json:"product_id"`
	Code          string        `gorm:"type:varchar(100) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin;not null;uniqueIndex:uniq_voucher_code" json:"code"`
	Status        VoucherStatus `gorm:"type:enum('available','reserved','sold');not null;default:available;index:idx_voucher_alloc,priority:2;index:idx_voucher_reserved,priority:1" json:"status"`
	TransactionId *string       `gorm:"size:64;uniqueIndex:uniq_voucher_transaction" json:"transaction_id"`
	ReservedAt    *time.Time    `gorm:"index:idx_voucher_reserved,priority:2" json:"reserved_at"`
	SoldAt        *time.Time    `json:"sold_at"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Voucher) TableName() string { return "vouchers" }

// BatchResult counts a bulk insert. Skipped covers duplicates and invalid codes; Invalid
// is the subset rejected by ValidateVoucherCode.
type BatchResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Invalid  int `json:"invalid"`
}

type VoucherFilter struct {
	ProductId *int
	Status    *VoucherStatus
	Search    string
	Page      int
	Limit     int
}

type VoucherPage struct {
	Items []*Voucher `json:"items"`
	Total int64      `json:"total"`
	Page  int        `json:"page"`
	Limit int        `json:"limit"`
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// ValidateVoucherCode trims code and checks its length bounds.
func ValidateVoucherCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	n := utf8.RuneCountInString(code)
	if n < MinVoucherCodeLength || n > MaxVoucherCodeLength {
		return "", fmt.Errorf("%w: %q must be %d to %d characters", ErrInvalidVoucherCode, code, MinVoucherCodeLength, MaxVoucherCodeLength)
	}
	return code, nil
}

func CreateVoucher(ctx context.Context, productId int, code string) (*Voucher, error) {
	code, err := ValidateVoucherCode(code)
	if err != nil {
		return nil, err
	}
	if _, err := requireActiveProduct(ctx, productId); err != nil {
		return nil, err
	}
	voucher := Voucher{
		ProductId: productId,
		Code:      code,
		Status:    VoucherStatusAvailable,
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&voucher).Error; err != nil {
			if isDuplicateKeyErr(err) {
				return ErrDuplicateCode
			}
			return err
		}
		return SaveHistoryCreate(tx, voucher.ID, &voucher, fmt.Sprintf("Created voucher for product %d.", productId))
	})
	if err != nil {
		return nil, err
	}
	return &voucher, nil
}

// InsertVoucherBatch inserts codes for productId, skipping codes that repeat inside the batch
// or already exist anywhere in the store. Existing rows are never modified.
func InsertVoucherBatch(ctx context.Context, productId int, codes []string) (*BatchResult, error) {
	if len(codes) > MaxVoucherBatchSize {
		return nil, fmt.Errorf("%w: %d codes (max %d)", ErrBatchTooLarge, len(codes), MaxVoucherBatchSize)
	}
	result := &BatchResult{}
	if len(codes) == 0 {
		return result, nil
	}

	seen := make(map[string]struct{}, len(codes))
	rows := make([]Voucher, 0, len(codes))
	for _, code := range codes {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		rows = append(rows, Voucher{ProductId: productId, Code: code, Status: VoucherStatusAvailable})
	}

	db := config.GetDB()
	var inserted int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected
		if inserted == 0 {
			return nil
		}
		return createHistory(tx, "CREATE", productId, "voucher_batches", nil,
			map[string]interface{}{"product_id": productId, "inserted": inserted, "submitted": len(codes)},
			fmt.Sprintf("Imported %d vouchers for product %d.", inserted, productId))
	})
	if err != nil {
		return nil, err
	}
	result.Inserted = int(inserted)
	result.Skipped = len(codes) - result.Inserted
	return result, nil
}

// FindAvailableVouchers lists a product's available vouchers, oldest first. No locks are taken.
func FindAvailableVouchers(ctx context.Context, productId int) ([]*Voucher, error) {
	db := config.GetDB()
	var results []*Voucher
	err := db.WithContext(ctx).
		Where("product_id = ? AND status = ?", productId, VoucherStatusAvailable).
		Order("id ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func GetVoucher(ctx context.Context, id int) (*Voucher, error) {
	db := config.GetDB()
	var result Voucher
	if err := db.WithContext(ctx).First(&result, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVoucherNotFound
		}
		return nil, err
	}
	return &result, nil
}

func GetVoucherByTransactionId(ctx context.Context, transactionId string) (*Voucher, error) {
	db := config.GetDB()
	var result Voucher
	err := db.WithContext(ctx).Where("transaction_id = ?", transactionId).First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVoucherNotFound
		}
		return nil, err
	}
	return &result, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func ListVouchers(ctx context.Context, filter VoucherFilter) (*VoucherPage, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Voucher{})
	if filter.ProductId != nil && *filter.ProductId > 0 {
		dbCtx = dbCtx.Where("product_id = ?", *filter.ProductId)
	}
	if filter.Status != nil {
		dbCtx = dbCtx.Where("status = ?", *filter.Status)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		dbCtx = dbCtx.Where("code COLLATE utf8mb4_general_ci LIKE ?", "%"+escapeLike(search)+"%")
	}

	page := VoucherPage{Page: filter.Page, Limit: filter.Limit}
	if err := dbCtx.Count(&page.Total).Error; err != nil {
		return nil, err
	}
	err := dbCtx.Order("id DESC").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&page.Items).Error
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// lockVoucher reads one voucher FOR UPDATE inside tx.
func lockVoucher(tx *gorm.DB, id int) (*Voucher, error) {
	var v Voucher
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&v, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVoucherNotFound
		}
		return nil, err
	}
	return &v, nil
}

func UpdateVoucherCode(ctx context.Context, id int, code string) (*Voucher, error) {
	code, err := ValidateVoucherCode(code)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var result *Voucher
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		oldObj, err := lockVoucher(tx, id)
		if err != nil {
			return err
		}
		if oldObj.Status == VoucherStatusSold {
			return fmt.Errorf("%w: sold voucher %d cannot be edited", ErrInvalidVoucherState, id)
		}
		if oldObj.Code == code {
			result = oldObj
			return nil
		}
		before := *oldObj
		if err := tx.Model(oldObj).Update("code", code).Error; err != nil {
			if isDuplicateKeyErr(err) {
				return ErrDuplicateCode
			}
			return err
		}
		if err := SaveHistoryUpdate(tx, id, &before, oldObj, "Updated voucher code."); err != nil {
			return err
		}
		result = oldObj
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyStatus moves v to next and returns the columns to persist.
// transactionId is required for sold and must be absent otherwise.
func applyStatus(v *Voucher, next VoucherStatus, transactionId *string, now time.Time) (map[string]interface{}, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidVoucherState, next)
	}
	if !v.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: voucher %d cannot move from %s to %s", ErrInvalidVoucherState, v.ID, v.Status, next)
	}

	switch next {
	case VoucherStatusSold:
		if transactionId == nil || strings.TrimSpace(*transactionId) == "" {
			return nil, fmt.Errorf("%w: transaction id is required to sell voucher %d", ErrInvalidVoucherState, v.ID)
		}
		txId := strings.TrimSpace(*transactionId)
		if len(txId) > MaxTransactionIdSize {
			return nil, fmt.Errorf("%w: transaction id longer than %d", ErrInvalidVoucherState, MaxTransactionIdSize)
		}
		v.Status = VoucherStatusSold
		v.TransactionId = &txId
		v.SoldAt = &now
		v.ReservedAt = nil
	case VoucherStatusReserved:
		if transactionId != nil {
			return nil, fmt.Errorf("%w: transaction id is only set on sold vouchers", ErrInvalidVoucherState)
		}
		v.Status = VoucherStatusReserved
		v.ReservedAt = &now
	case VoucherStatusAvailable:
		if transactionId != nil {
			return nil, fmt.Errorf("%w: transaction id is only set on sold vouchers", ErrInvalidVoucherState)
		}
		v.Status = VoucherStatusAvailable
		v.ReservedAt = nil
	}

	return map[string]interface{}{
		"status":         v.Status,
		"transaction_id": v.TransactionId,
		"reserved_at":    v.ReservedAt,
		"sold_at":        v.SoldAt,
	}, nil
}

// SetVoucherStatus is the manual correction path. It enforces the same transition rules as
// the allocation protocol and leaves an audit record.
func SetVoucherStatus(ctx context.Context, id int, status VoucherStatus, transactionId *string) (*Voucher, error) {
	db := config.GetDB()
	var result *Voucher
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := lockVoucher(tx, id)
		if err != nil {
			return err
		}
		before := *v
		updates, err := applyStatus(v, status, transactionId, time.Now().UTC())
		if err != nil {
			return err
		}
		if err := tx.Model(&Voucher{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			if isDuplicateKeyErr(err) {
				return fmt.Errorf("%w: transaction id already owns a voucher", ErrInvalidVoucherState)
			}
			return err
		}
		if err := enqueueVoucherEvent(tx, eventTypeForStatus(v.Status), v, ""); err != nil {
			return err
		}
		if err := SaveHistoryUpdate(tx, id, &before, v, fmt.Sprintf("Changed voucher status from %s to %s.", before.Status, v.Status)); err != nil {
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

func DeleteVoucher(ctx context.Context, id int) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := lockVoucher(tx, id)
		if err != nil {
			return err
		}
		if v.Status != VoucherStatusAvailable {
			return fmt.Errorf("%w: only available vouchers can be deleted (voucher %d is %s)", ErrInvalidVoucherState, id, v.Status)
		}
		res := tx.Delete(v)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: voucher %d changed state during delete", ErrInvalidVoucherState, id)
		}
		return SaveHistoryDelete(tx, id, v, "Deleted voucher.")
	})
}
