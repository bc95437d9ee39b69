package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pulsaku/voucher_backend/config"
	"github.com/pulsaku/voucher_backend/middlewares"
	"github.com/pulsaku/voucher_backend/models"
	"github.com/pulsaku/voucher_backend/utils"
)

type createVoucherRequest struct {
	ProductId int    `json:"product_id" binding:"required,gt=0"`
	Code      string `json:"code" binding:"required"`
}

// bulkVoucherRequest accepts codes as a list, as pasted text, or both.
type bulkVoucherRequest struct {
	ProductId int      `json:"product_id" binding:"required,gt=0"`
	Codes     []string `json:"codes"`
	Text      string   `json:"text"`
}

type updateVoucherCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

type setVoucherStatusRequest struct {
	Status        string  `json:"status" binding:"required"`
	TransactionId *string `json:"transaction_id"`
}

type replayVoucherEventRequest struct {
	EventId int `json:"event_id" binding:"required,gt=0"`
}

type voucherListItem struct {
	*models.Voucher
	ProductName string `json:"product_name"`
}

type voucherListResponse struct {
	Items []voucherListItem `json:"items"`
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

func paramId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		respondBadRequest(c, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// bulkCodes merges the list and the pasted text, keeping input order.
func (r bulkVoucherRequest) bulkCodes() []string {
	codes := make([]string, 0, len(r.Codes))
	for _, code := range r.Codes {
		if code = strings.TrimSpace(code); code != "" {
			codes = append(codes, code)
		}
	}
	return append(codes, models.NormalizeVoucherCodes(r.Text)...)
}

func parseVoucherFilter(c *gin.Context) (models.VoucherFilter, bool) {
	filter := models.VoucherFilter{Search: c.Query("search")}
	if v := c.Query("product_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			respondBadRequest(c, "product_id must be an integer")
			return filter, false
		}
		filter.ProductId = &id
	}
	if v := c.Query("status"); v != "" {
		status, err := models.ParseVoucherStatus(v)
		if err != nil {
			respondBadRequest(c, err.Error())
			return filter, false
		}
		filter.Status = &status
	}
	filter.Page, _ = strconv.Atoi(c.Query("page"))
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))
	return filter, true
}

// productNames resolves display names through the request loader. Lookup failures are
// logged and leave the name blank; unknown products are expected and stay quiet.
func productNames(ctx context.Context, productIds []int) map[int]string {
	uniqueIds := utils.UniqueSlice(productIds)
	products, errs := middlewares.GetProducts(ctx, uniqueIds)
	for i, err := range errs {
		if err != nil && !errors.Is(err, models.ErrProductNotFound) {
			config.LogError(config.GetLogger(), "main", "productNames", "GetProducts", uniqueIds[i], err)
		}
	}
	names := make(map[int]string, len(products))
	for _, p := range products {
		if p != nil {
			names[p.ID] = p.Name
		}
	}
	return names
}

func listVouchersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, ok := parseVoucherFilter(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		page, err := models.ListVouchers(ctx, filter)
		if err != nil {
			respondError(c, "listVouchersHandler", err)
			return
		}

		productIds := make([]int, 0, len(page.Items))
		for _, v := range page.Items {
			productIds = append(productIds, v.ProductId)
		}
		names := productNames(ctx, productIds)

		resp := voucherListResponse{
			Items: make([]voucherListItem, 0, len(page.Items)),
			Total: page.Total,
			Page:  page.Page,
			Limit: page.Limit,
		}
		for _, v := range page.Items {
			resp.Items = append(resp.Items, voucherListItem{Voucher: v, ProductName: names[v.ProductId]})
		}
		c.JSON(http.StatusOK, resp)
	}
}

func getVoucherHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c, "id")
		if !ok {
			return
		}
		v, err := models.GetVoucher(c.Request.Context(), id)
		if err != nil {
			respondError(c, "getVoucherHandler", err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func voucherHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c, "id")
		if !ok {
			return
		}
		histories, err := models.GetHistories(c.Request.Context(), "vouchers", id)
		if err != nil {
			respondError(c, "voucherHistoryHandler", err)
			return
		}
		c.JSON(http.StatusOK, histories)
	}
}

func createVoucherHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createVoucherRequest
		if !bindJSON(c, &req) {
			return
		}
		v, err := models.CreateVoucher(c.Request.Context(), req.ProductId, req.Code)
		if err != nil {
			respondError(c, "createVoucherHandler", err)
			return
		}
		c.JSON(http.StatusCreated, v)
	}
}

func bulkCreateVouchersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req bulkVoucherRequest
		if !bindJSON(c, &req) {
			return
		}
		result, err := models.BulkCreateVouchers(c.Request.Context(), req.ProductId, req.bulkCodes())
		if err != nil {
			respondError(c, "bulkCreateVouchersHandler", err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func updateVoucherCodeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c, "id")
		if !ok {
			return
		}
		var req updateVoucherCodeRequest
		if !bindJSON(c, &req) {
			return
		}
		v, err := models.UpdateVoucherCode(c.Request.Context(), id, req.Code)
		if err != nil {
			respondError(c, "updateVoucherCodeHandler", err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func setVoucherStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c, "id")
		if !ok {
			return
		}
		var req setVoucherStatusRequest
		if !bindJSON(c, &req) {
			return
		}
		status, err := models.ParseVoucherStatus(req.Status)
		if err != nil {
			respondBadRequest(c, err.Error())
			return
		}
		v, err := models.SetVoucherStatus(c.Request.Context(), id, status, req.TransactionId)
		if err != nil {
			respondError(c, "setVoucherStatusHandler", err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func deleteVoucherHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c, "id")
		if !ok {
			return
		}
		if err := models.DeleteVoucher(c.Request.Context(), id); err != nil {
			respondError(c, "deleteVoucherHandler", err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func productStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		if _, err := middlewares.GetProduct(ctx, id); err != nil {
			respondError(c, "productStockHandler", err)
			return
		}
		stock, err := models.CountVouchersByStatus(ctx, id)
		if err != nil {
			respondError(c, "productStockHandler", err)
			return
		}
		c.JSON(http.StatusOK, stock)
	}
}

// stockOverviewHandler serves GET /admin/stock?product_ids=1,2,3.
func stockOverviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := utils.SplitAndTrim(c.Query("product_ids"))
		if len(raw) == 0 {
			respondBadRequest(c, "product_ids is required")
			return
		}
		ids := make([]int, 0, len(raw))
		for _, s := range raw {
			id, err := strconv.Atoi(s)
			if err != nil || id <= 0 {
				respondBadRequest(c, "product_ids must be positive integers")
				return
			}
			ids = append(ids, id)
		}
		stocks, err := models.CountVouchersByStatusForProducts(c.Request.Context(), utils.UniqueSlice(ids))
		if err != nil {
			respondError(c, "stockOverviewHandler", err)
			return
		}
		c.JSON(http.StatusOK, stocks)
	}
}

// voucherEventReplayHandler requeues a FAILED or DEAD voucher event for the dispatcher.
func voucherEventReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req replayVoucherEventRequest
		if !bindJSON(c, &req) {
			return
		}
		event, err := models.ReplayVoucherEvent(c.Request.Context(), req.EventId)
		if err != nil {
			respondError(c, "voucherEventReplayHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"event_id":        event.ID,
			"publish_status":  event.PublishStatus,
			"next_attempt_at": event.NextAttemptAt,
		})
	}
}
