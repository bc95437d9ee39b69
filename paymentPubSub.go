package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pulsaku/voucher_backend/config"
	"github.com/pulsaku/voucher_backend/utils"
	"github.com/pulsaku/voucher_backend/workflow"
	"github.com/sirupsen/logrus"
)

// PubSubMessage is the push-subscription envelope.
type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type paymentProcessor interface {
	Process(ctx context.Context, messageId string, n workflow.PaymentNotification) error
}

// paymentPubSubHandler acks (2xx) everything a retry cannot fix and answers 500 to ask
// Pub/Sub for redelivery otherwise.
func paymentPubSubHandler(processor paymentProcessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg PubSubMessage
		logger := config.GetLogger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server", "paymentPubSubHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}

		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "server", "paymentPubSubHandler", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}
		if msg.Message.ID == "" {
			config.LogError(logger, "server", "paymentPubSubHandler", "missing message id", string(body), errors.New("message.id is required"))
			c.Status(http.StatusNoContent)
			return
		}

		var n workflow.PaymentNotification
		if err := json.Unmarshal(msg.Message.Data, &n); err != nil {
			config.LogError(logger, "server", "paymentPubSubHandler", "Unmarshal payment notification", string(msg.Message.Data), err)
			c.Status(http.StatusNoContent)
			return
		}
		if err := n.Validate(); err != nil {
			config.LogError(logger, "server", "paymentPubSubHandler", "Validate", n, err)
			c.Status(http.StatusNoContent)
			return
		}

		correlationID := n.CorrelationId
		if correlationID == "" {
			correlationID = msg.Message.ID
		}
		ctx := utils.SetUserIdInContext(c.Request.Context(), 0)
		ctx = utils.SetUserNameInContext(ctx, "Payment")
		ctx = utils.SetCorrelationIdInContext(ctx, correlationID)

		if err := processor.Process(ctx, msg.Message.ID, n); err != nil {
			logger.WithFields(logrus.Fields{
				"field":          "paymentPubSubHandler",
				"message_id":     msg.Message.ID,
				"transaction_id": n.TransactionId,
				"status":         n.Status,
				"correlation_id": correlationID,
			}).Error("payment notification failed: " + err.Error())
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
