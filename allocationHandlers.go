package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pulsaku/voucher_backend/models"
	"github.com/pulsaku/voucher_backend/workflow"
)

// voucherAllocator is what the order orchestrator drives through /internal/vouchers.
type voucherAllocator interface {
	ReserveVoucher(ctx context.Context, productId int) (*models.Voucher, error)
	workflow.VoucherAllocator
}

type storeVoucherAllocator struct {
	workflow.VoucherAllocator
}

func (storeVoucherAllocator) ReserveVoucher(ctx context.Context, productId int) (*models.Voucher, error) {
	return models.ReserveVoucher(ctx, productId)
}

func newStoreVoucherAllocator() voucherAllocator {
	return storeVoucherAllocator{VoucherAllocator: workflow.StoreAllocator()}
}

type reserveVoucherRequest struct {
	ProductId int `json:"product_id" binding:"required,gt=0"`
}

type claimVoucherRequest struct {
	ProductId     int    `json:"product_id" binding:"required,gt=0"`
	TransactionId string `json:"transaction_id" binding:"required,max=64"`
	Phone         string `json:"phone"`
}

type confirmVoucherRequest struct {
	VoucherId     int    `json:"voucher_id" binding:"required,gt=0"`
	TransactionId string `json:"transaction_id" binding:"required,max=64"`
	Phone         string `json:"phone"`
}

type releaseVoucherRequest struct {
	VoucherId int `json:"voucher_id" binding:"required,gt=0"`
}

func reserveVoucherHandler(alloc voucherAllocator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reserveVoucherRequest
		if !bindJSON(c, &req) {
			return
		}
		v, err := alloc.ReserveVoucher(c.Request.Context(), req.ProductId)
		if err != nil {
			respondError(c, "reserveVoucherHandler", err)
			return
		}
		if v == nil {
			respondOutOfStock(c, req.ProductId)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func claimVoucherHandler(alloc voucherAllocator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req claimVoucherRequest
		if !bindJSON(c, &req) {
			return
		}
		v, err := alloc.ClaimVoucher(c.Request.Context(), req.ProductId, req.TransactionId, models.ClaimOptions{Phone: req.Phone})
		if err != nil {
			respondError(c, "claimVoucherHandler", err)
			return
		}
		if v == nil {
			respondOutOfStock(c, req.ProductId)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func confirmVoucherHandler(alloc voucherAllocator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req confirmVoucherRequest
		if !bindJSON(c, &req) {
			return
		}
		v, err := alloc.ConfirmReservedVoucher(c.Request.Context(), req.VoucherId, req.TransactionId, models.ClaimOptions{Phone: req.Phone})
		if err != nil {
			respondError(c, "confirmVoucherHandler", err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func releaseVoucherHandler(alloc voucherAllocator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req releaseVoucherRequest
		if !bindJSON(c, &req) {
			return
		}
		v, err := alloc.ReleaseVoucher(c.Request.Context(), req.VoucherId)
		if err != nil {
			respondError(c, "releaseVoucherHandler", err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}
