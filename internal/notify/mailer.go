package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/smtp"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/models"
)

// Service emails operators a digest of failed runs and errored articles.
// With no recipients configured the digest is silently skipped.
type Service struct {
	config common.NotifyConfig
	logger arbor.ILogger

	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewService(config common.NotifyConfig, logger arbor.ILogger) *Service {
	return &Service{
		config: config,
		logger: logger,
		send:   smtp.SendMail,
	}
}

// Enabled reports whether the digest can be delivered.
func (s *Service) Enabled() bool {
	return s.config.SMTPHost != "" && s.config.From != "" && len(s.config.Recipients) > 0
}

// SendFailureDigest builds and delivers the digest email. A run with nothing
// to report sends nothing.
func (s *Service) SendFailureDigest(ctx context.Context, runs []*models.PipelineRun, articles []*models.Article) error {
	if !s.Enabled() {
		s.logger.Debug().Msg("Failure digest disabled, no recipients configured")
		return nil
	}
	if len(runs) == 0 && len(articles) == 0 {
		s.logger.Debug().Msg("No failures to report, skipping digest")
		return nil
	}

	subject := fmt.Sprintf("Propago failure digest: %d failed runs, %d errored articles", len(runs), len(articles))
	markdown := buildDigest(runs, articles)
	htmlBody, err := renderHTML(markdown)
	if err != nil {
		return err
	}

	msg, err := composeMessage(s.config.From, s.config.Recipients, subject, markdown, htmlBody)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.SMTPHost, s.config.SMTPPort)
	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.SMTPHost)
	}

	if err := s.send(addr, auth, s.config.From, s.config.Recipients, msg); err != nil {
		return fmt.Errorf("failed to send failure digest: %w", err)
	}

	s.logger.Info().
		Int("failed_runs", len(runs)).
		Int("errored_articles", len(articles)).
		Int("recipients", len(s.config.Recipients)).
		Msg("Failure digest sent")
	return nil
}

// composeMessage builds a multipart/alternative MIME message with text and
// HTML parts.
func composeMessage(from string, recipients []string, subject, textBody, htmlBody string) ([]byte, error) {
	fromAddrs := []*mail.Address{{Name: "Propago", Address: from}}
	toAddrs := make([]*mail.Address, 0, len(recipients))
	for _, r := range recipients {
		toAddrs = append(toAddrs, &mail.Address{Address: r})
	}

	var header mail.Header
	header.SetDate(time.Now())
	header.SetAddressList("From", fromAddrs)
	header.SetAddressList("To", toAddrs)
	header.SetSubject(subject)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, header)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create inline part: %w", err)
	}

	var textHeader mail.InlineHeader
	textHeader.Set("Content-Type", "text/plain; charset=utf-8")
	pw, err := iw.CreatePart(textHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create text part: %w", err)
	}
	if _, err := io.WriteString(pw, textBody); err != nil {
		return nil, err
	}
	pw.Close()

	var htmlHeader mail.InlineHeader
	htmlHeader.Set("Content-Type", "text/html; charset=utf-8")
	pw, err = iw.CreatePart(htmlHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create html part: %w", err)
	}
	if _, err := io.WriteString(pw, htmlBody); err != nil {
		return nil, err
	}
	pw.Close()

	iw.Close()
	mw.Close()
	return buf.Bytes(), nil
}
