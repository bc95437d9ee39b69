package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/pulsaku/voucher_backend/config"
	"github.com/pulsaku/voucher_backend/models"
	"github.com/pulsaku/voucher_backend/utils"
	"github.com/pulsaku/voucher_backend/workflow"
)

// errorStatus maps domain errors to an HTTP status and a stable machine-readable code.
func errorStatus(err error) (int, string) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, models.ErrVoucherNotFound),
		errors.Is(err, models.ErrProductNotFound),
		errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrDuplicateCode):
		return http.StatusConflict, "duplicate_code"
	case errors.Is(err, models.ErrInvalidVoucherState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, models.ErrProductInactive):
		return http.StatusConflict, "product_inactive"
	case errors.Is(err, models.ErrBatchTooLarge),
		errors.Is(err, models.ErrEmptyBatch),
		errors.Is(err, models.ErrInvalidVoucherCode),
		errors.Is(err, models.ErrInvalidPhone),
		errors.Is(err, workflow.ErrInvalidPaymentNotification),
		errors.As(err, &validationErrs):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized, "unauthorized"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondError writes the mapped error. Only unmapped errors are logged; their message
// stays out of the response body.
func respondError(c *gin.Context, funcName string, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.LogError(config.GetLogger(), "server", funcName, c.Request.Method+" "+c.FullPath(), cid, err)
		c.AbortWithStatusJSON(status, gin.H{"error": code})
		return
	}

	body := gin.H{"error": code, "message": err.Error()}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		body["fields"] = utils.ProcessValidationErrors(err)
	}
	c.AbortWithStatusJSON(status, body)
}

// respondOutOfStock is distinct from every failure response: nothing went wrong, the pool is empty.
func respondOutOfStock(c *gin.Context, productId int) {
	c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "out_of_stock", "product_id": productId})
}

func respondBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": message})
}

// bindJSON decodes the body into req. Any decode or binding failure is the caller's fault.
func bindJSON(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		respondError(c, "bindJSON", err)
		return false
	}
	respondBadRequest(c, "malformed request body")
	return false
}
