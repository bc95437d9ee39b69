package config

import (
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	guardedVoucherTable  = "vouchers"
	voucherStatusSold    = "sold"
	voucherStatusAvail   = "available"
	voucherStatusColName = "status"
)

// SoldVoucherGuardPlugin makes sold vouchers immutable at the ORM layer:
// every UPDATE on vouchers gets `status <> 'sold'` and every DELETE gets `status = 'available'`.
//
// NOTE:
// - This does NOT apply to Raw/Exec SQL. Those must carry the status predicate manually.
// - Callers still check status before mutating; the guard only turns a missed check into a 0-row write.
type SoldVoucherGuardPlugin struct{}

func NewSoldVoucherGuardPlugin() *SoldVoucherGuardPlugin { return &SoldVoucherGuardPlugin{} }

func (p *SoldVoucherGuardPlugin) Name() string { return "sold_voucher_guard" }

func (p *SoldVoucherGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Update().Before("gorm:update").Register("sold_voucher_guard:update", soldGuardUpdateCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("sold_voucher_guard:delete", soldGuardDeleteCallback); err != nil {
		return err
	}
	return nil
}

func soldGuardUpdateCallback(db *gorm.DB) {
	if !isGuardedVoucherStatement(db) {
		return
	}
	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Neq{
				Column: clause.Column{Table: db.Statement.Table, Name: voucherStatusColName},
				Value:  voucherStatusSold,
			},
		},
	})
}

func soldGuardDeleteCallback(db *gorm.DB) {
	if !isGuardedVoucherStatement(db) {
		return
	}
	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: voucherStatusColName},
				Value:  voucherStatusAvail,
			},
		},
	})
}

func isGuardedVoucherStatement(db *gorm.DB) bool {
	if db == nil || db.Statement == nil || db.Error != nil {
		return false
	}
	if db.Statement.Table != guardedVoucherTable {
		return false
	}
	return hasScope(db)
}

// hasScope reports whether the statement already targets specific rows. Adding the guard's
// WHERE to an unscoped statement would hide gorm's missing-where-clause protection.
func hasScope(db *gorm.DB) bool {
	if _, ok := db.Statement.Clauses["WHERE"]; ok || db.AllowGlobalUpdate {
		return true
	}
	sch := db.Statement.Schema
	if sch == nil || sch.PrioritizedPrimaryField == nil {
		return false
	}
	rv := db.Statement.ReflectValue
	switch rv.Kind() {
	case reflect.Struct:
		_, zero := sch.PrioritizedPrimaryField.ValueOf(db.Statement.Context, rv)
		return !zero
	case reflect.Slice, reflect.Array:
		return rv.Len() > 0
	default:
		return false
	}
}
