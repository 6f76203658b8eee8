package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Service delivers webhook calls on behalf of the call_webhook executor.
type Service interface {
	Deliver(ctx context.Context, d Delivery) error
}

type ServiceImpl struct {
	Logs       DeliveryLogRepository
	HttpClient *http.Client
	Logger     *zap.Logger
}

func NewService(logs DeliveryLogRepository, logger *zap.Logger) Service {
	return &ServiceImpl{
		Logs: logs,
		HttpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		Logger: logger,
	}
}

func (s *ServiceImpl) Deliver(ctx context.Context, d Delivery) error {
	if d.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	method := d.Method
	if method == "" {
		method = http.MethodPost
	}

	body, err := json.Marshal(d.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.URL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Go-Automation-Webhook")
	req.Header.Set("X-Automation-Event", d.Event)
	if d.DedupKey != "" {
		req.Header.Set("X-Idempotency-Key", d.DedupKey)
	}
	for key, value := range d.Headers {
		req.Header.Set(key, value)
	}

	if d.Secret != "" {
		mac := hmac.New(sha256.New, []byte(d.Secret))
		mac.Write(body)
		req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	start := time.Now()
	logEntry := &DeliveryLog{
		URL:     d.URL,
		Event:   d.Event,
		Request: d.Payload,
	}

	resp, err := s.HttpClient.Do(req)
	logEntry.Duration = time.Since(start).Milliseconds()
	if err != nil {
		logEntry.Response = err.Error()
		s.writeLog(logEntry)
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	logEntry.StatusCode = resp.StatusCode
	logEntry.Response = string(respBody)
	logEntry.Success = resp.StatusCode < 400
	s.writeLog(logEntry)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

func (s *ServiceImpl) writeLog(entry *DeliveryLog) {
	// Log writes must never fail a delivery result
	if err := s.Logs.Create(context.Background(), entry); err != nil {
		s.Logger.Warn("failed to write webhook log", zap.Error(err))
	}
}
