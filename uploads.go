package main

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pulsaku/voucher_backend/config"
	"github.com/pulsaku/voucher_backend/models"
	"github.com/pulsaku/voucher_backend/utils"
	"github.com/sirupsen/logrus"
)

type voucherImportResponse struct {
	*models.ImportResult
	ArchiveObject string `json:"archive_object,omitempty"`
}

var importContentTypes = map[string]string{
	".csv":  "text/csv",
	".txt":  "text/plain",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func archiveImportFile(ctx context.Context, productId int, fileName string, data []byte) string {
	if !utils.ImportArchiveEnabled() {
		return ""
	}
	objectName := utils.ImportArchiveObjectName(productId, fileName, time.Now())
	contentType := importContentTypes[strings.ToLower(filepath.Ext(fileName))]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := utils.UploadBytesToGCS(ctx, objectName, data, contentType); err != nil {
		config.GetLogger().WithFields(logrus.Fields{
			"field":      "archiveImportFile",
			"product_id": productId,
			"file_name":  fileName,
		}).Warn("failed to archive voucher import: " + err.Error())
		return ""
	}
	return objectName
}

// importVouchersHandler accepts multipart form fields product_id and file (.txt, .csv, .xlsx).
func importVouchersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		productId, err := strconv.Atoi(c.PostForm("product_id"))
		if err != nil || productId <= 0 {
			respondBadRequest(c, "product_id must be a positive integer")
			return
		}
		header, err := c.FormFile("file")
		if err != nil {
			respondBadRequest(c, "file is required")
			return
		}
		if header.Size > models.MaxVoucherImportFileSize {
			respondBadRequest(c, "file size exceeds 5MB limit")
			return
		}

		f, err := header.Open()
		if err != nil {
			respondError(c, "importVouchersHandler", err)
			return
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, models.MaxVoucherImportFileSize+1))
		if err != nil {
			respondError(c, "importVouchersHandler", err)
			return
		}

		codes, err := models.ParseVoucherImportFile(header.Filename, data)
		if err != nil {
			respondBadRequest(c, err.Error())
			return
		}

		result, err := models.ImportVoucherCodes(ctx, productId, codes)
		if err != nil {
			status, code := errorStatus(err)
			if status == http.StatusInternalServerError || result.Batches == 0 {
				respondError(c, "importVouchersHandler", err)
				return
			}
			c.AbortWithStatusJSON(status, gin.H{"error": code, "message": err.Error(), "result": result})
			return
		}
		c.JSON(http.StatusOK, voucherImportResponse{
			ImportResult:  result,
			ArchiveObject: archiveImportFile(ctx, productId, header.Filename, data),
		})
	}
}
