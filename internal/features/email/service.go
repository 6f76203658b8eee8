package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go-automation/internal/config"

	"go.uber.org/zap"
)

// EmailService sends messages. The engines depend on this interface so tests
// run with a fake sender.
type EmailService interface {
	Send(ctx context.Context, msg Email) error
	// SendMessage resolves a stored message template and sends it.
	SendMessage(ctx context.Context, messageID, to, dedupKey string) error
}

type EmailServiceImpl struct {
	cfg      *config.Config
	messages MessageRepository
	logger   *zap.Logger
}

func NewEmailService(cfg *config.Config, messages MessageRepository, logger *zap.Logger) EmailService {
	return &EmailServiceImpl{cfg: cfg, messages: messages, logger: logger}
}

func (s *EmailServiceImpl) Send(_ context.Context, msg Email) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("email recipient is required")
	}
	if msg.From == "" {
		msg.From = s.cfg.SMTPFrom
	}

	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)

	headers := map[string]string{
		"From":         msg.From,
		"To":           strings.Join(msg.To, ", "),
		"Subject":      msg.Subject,
		"MIME-Version": "1.0",
		"Content-Type": "text/html; charset=\"UTF-8\"",
	}
	if msg.DedupKey != "" {
		headers["X-Idempotency-Key"] = msg.DedupKey
	}

	raw := ""
	for k, v := range headers {
		raw += fmt.Sprintf("%s: %s\r\n", k, v)
	}
	raw += "\r\n" + msg.HtmlBody

	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	if err := smtp.SendMail(addr, auth, msg.From, msg.To, []byte(raw)); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}

	s.logger.Info("email sent", zap.Strings("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

func (s *EmailServiceImpl) SendMessage(ctx context.Context, messageID, to, dedupKey string) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to load message %s: %w", messageID, err)
	}
	if msg == nil {
		return fmt.Errorf("message %s not found", messageID)
	}

	return s.Send(ctx, Email{
		To:       []string{to},
		Subject:  msg.Subject,
		HtmlBody: msg.Body,
		DedupKey: dedupKey,
	})
}
