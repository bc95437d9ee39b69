package config

import (
	"strings"
	"testing"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

type guardedVoucher struct {
	ID     int
	Code   string
	Status string
}

func (guardedVoucher) TableName() string { return "vouchers" }

type unguardedRow struct {
	ID     int
	Status string
}

func (unguardedRow) TableName() string { return "products" }

// dryRunDB builds SQL without a server. Writes skip the implicit transaction so no
// connection is ever opened.
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	d, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "user:pw@tcp(127.0.0.1:1)/guard_test",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open dry-run db: %v", err)
	}
	if err := d.Use(NewSoldVoucherGuardPlugin()); err != nil {
		t.Fatalf("install guard: %v", err)
	}
	return d
}

func TestSoldVoucherGuard_DeleteOnlyTouchesAvailableRows(t *testing.T) {
	d := dryRunDB(t)
	stmt := d.Delete(&guardedVoucher{ID: 7}).Statement
	sql := stmt.SQL.String()
	if !strings.Contains(sql, "`status` = ?") {
		t.Fatalf("expected status predicate in delete, got %q", sql)
	}
	found := false
	for _, v := range stmt.Vars {
		if v == "available" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected 'available' bind var, got %v", stmt.Vars)
	}
}

func TestSoldVoucherGuard_UpdateNeverTouchesSoldRows(t *testing.T) {
	d := dryRunDB(t)
	stmt := d.Model(&guardedVoucher{ID: 7}).Update("code", "NEW-CODE").Statement
	sql := stmt.SQL.String()
	if !strings.Contains(sql, "`status` <> ?") {
		t.Fatalf("expected sold exclusion in update, got %q", sql)
	}
}

func TestSoldVoucherGuard_IgnoresOtherTables(t *testing.T) {
	d := dryRunDB(t)
	sql := d.Delete(&unguardedRow{ID: 3}).Statement.SQL.String()
	if strings.Contains(sql, "status") {
		t.Fatalf("guard leaked into products delete: %q", sql)
	}
}

func TestSoldVoucherGuard_KeepsMissingWhereProtection(t *testing.T) {
	d := dryRunDB(t)
	err := d.Delete(&guardedVoucher{}).Error
	if err == nil || !strings.Contains(err.Error(), "WHERE") {
		t.Fatalf("expected missing where clause error, got %v", err)
	}
}
