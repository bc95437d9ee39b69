package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pulsaku/voucher_backend/config"
	"github.com/pulsaku/voucher_backend/utils"
	"gorm.io/gorm"
)

type History struct {
	ID            int       `gorm:"primary_key" json:"id"`
	ActionType    string    `gorm:"size:10;not null" json:"action_type"`
	Before        string    `gorm:"type:text" json:"before"`
	After         string    `gorm:"type:text" json:"after"`
	Description   string    `gorm:"type:text;not null" json:"description"`
	ReferenceID   int       `gorm:"index:idx_history_reference,priority:2" json:"reference_id"`
	ReferenceType string    `gorm:"size:255;index:idx_history_reference,priority:1" json:"reference_type"`
	UserId        int       `gorm:"index;not null" json:"user_id"`
	UserName      string    `gorm:"size:100" json:"user_name"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

const systemActor = "System"

func createHistory(tx *gorm.DB,
	actionType string,
	referenceId int,
	referenceType string,
	before interface{},
	after interface{},
	description string) (err error) {

	var history History

	b, _ := json.Marshal(before)
	a, _ := json.Marshal(after)

	// workers and internal callers run without a user; they are recorded as System
	ctx := tx.Statement.Context
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, ok := utils.GetUserNameFromContext(ctx)
	if !ok || userName == "" {
		userName = systemActor
	}

	history.ActionType = actionType
	history.Before = string(b)
	history.After = string(a)
	history.Description = description
	history.ReferenceID = referenceId
	history.ReferenceType = referenceType
	history.UserId = userId
	history.UserName = userName

	return tx.Create(&history).Error
}

func SaveHistoryCreate(tx *gorm.DB, id int, obj interface{}, description string) error {
	return createHistory(tx, "CREATE", id, "vouchers", nil, obj, description)
}

func SaveHistoryUpdate(tx *gorm.DB, id int, before interface{}, after interface{}, description string) error {
	return createHistory(tx, "UPDATE", id, "vouchers", before, after, description)
}

func SaveHistoryDelete(tx *gorm.DB, id int, obj interface{}, description string) error {
	return createHistory(tx, "DELETE", id, "vouchers", obj, nil, description)
}

func GetHistories(ctx context.Context, referenceType string, referenceId int) ([]*History, error) {
	db := config.GetDB()
	var results []*History

	dbCtx := db.WithContext(ctx)
	if referenceType != "" {
		dbCtx = dbCtx.Where("reference_type = ?", referenceType)
	}
	if referenceId > 0 {
		dbCtx = dbCtx.Where("reference_id = ?", referenceId)
	}
	err := dbCtx.Order("created_at DESC, id DESC").Limit(200).Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
