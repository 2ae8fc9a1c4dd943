// Package notify is the fire-and-forget outbound side of a payment
// transition: an SMS to the payer and a payment event on Kafka. Every
// failure here is logged and swallowed; by the time a dispatcher runs,
// the financial state is already committed.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"shop-svc/kafka"
	"shop-svc/models"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

const senderName = "Emergent Payment"

type Dispatcher struct {
	smsURL     string
	httpClient *http.Client
	producer   sarama.SyncProducer
	topic      string
	logger     *zap.Logger
}

func NewDispatcher(producer sarama.SyncProducer, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		smsURL:     getEnv("SMS_URL", "https://emergentsms.com/api/sms/send-sms"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		producer:   producer,
		topic:      getEnv("KAFKA_PAYMENT_TOPIC", "payment_events"),
		logger:     logger,
	}
}

// PaymentCompleted notifies the payer of a successful payment. mobile
// may be empty (poll-driven transitions have no callback number); the
// Kafka event is published either way.
func (d *Dispatcher) PaymentCompleted(ctx context.Context, p models.Payment, mobile string) {
	if mobile != "" {
		msg := fmt.Sprintf("Your payment of GHS %.2f for order #%d was successful. Transaction ID %s. Thank you!",
			p.AmountPaid, p.OrderID, p.TransactionID)
		d.sendSMS(ctx, mobile, msg)
	}
	d.publish(ctx, p, "payment_completed")
}

// PaymentUnsuccessful notifies the payer of a failed payment attempt.
func (d *Dispatcher) PaymentUnsuccessful(ctx context.Context, p models.Payment, mobile string) {
	if mobile != "" {
		msg := fmt.Sprintf("Your payment of GHS %.2f for order #%d failed. Transaction ID %s. Please try again. Thank you!",
			p.AmountPaid, p.OrderID, p.TransactionID)
		d.sendSMS(ctx, mobile, msg)
	}
	d.publish(ctx, p, "payment_unsuccessful")
}

type smsRequest struct {
	Destination string `json:"destination"`
	Message     string `json:"message"`
	Name        string `json:"name"`
	Source      string `json:"source"`
}

func (d *Dispatcher) sendSMS(ctx context.Context, mobile, message string) {
	body, err := json.Marshal(smsRequest{
		Destination: mobile,
		Message:     message,
		Name:        senderName,
		Source:      senderName,
	})
	if err != nil {
		d.logger.Error("Failed to marshal SMS request", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.smsURL, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("Failed to build SMS request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Error("Failed to send SMS", zap.String("mobile", mobile), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		d.logger.Error("SMS provider returned error",
			zap.String("mobile", mobile),
			zap.Int("status", resp.StatusCode),
		)
		return
	}
	d.logger.Info("SMS sent", zap.String("mobile", mobile))
}

func (d *Dispatcher) publish(ctx context.Context, p models.Payment, eventType string) {
	if d.producer == nil {
		return
	}
	event := models.PaymentEvent{
		PaymentID:     p.ID,
		TransactionID: p.TransactionID,
		OrderID:       p.OrderID,
		CustomerID:    p.CustomerID,
		Amount:        p.AmountPaid,
		Status:        p.Status,
		EventType:     eventType,
	}
	if err := kafka.PublishPaymentEvent(ctx, d.producer, d.topic, event, d.logger); err != nil {
		d.logger.Error("Failed to publish payment event", zap.Error(err))
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
