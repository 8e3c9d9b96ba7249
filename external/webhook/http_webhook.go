package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/foxseedlab/stagewarden/internal/errors"
	"github.com/foxseedlab/stagewarden/internal/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	noticeTimeout = 10 * time.Second
	userAgent     = "stagewarden-webhook/1"
)

// HTTPSender posts moderation notices as JSON. The trace context of the
// calling event travels in the request headers.
type HTTPSender struct {
	url    string
	client *http.Client
	tracer trace.Tracer
}

func NewHTTPSender(url string) webhook.Sender {
	return &HTTPSender{
		url:    url,
		client: &http.Client{Timeout: noticeTimeout},
		tracer: otel.Tracer("github.com/foxseedlab/stagewarden/external/webhook"),
	}
}

// SendNotice is a no-op without a configured URL. Network failures, 429 and
// 5xx answers are transient; other non-2xx answers are not.
func (s *HTTPSender) SendNotice(ctx context.Context, notice webhook.ModerationNotice) (err error) {
	if s.url == "" {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "webhook.notice", trace.WithAttributes(
		attribute.String("event", string(notice.Event)),
		attribute.String("user_id", notice.UserID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "notice failed")
		}
		span.End()
	}()

	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notice request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransient, "webhook unreachable", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperrors.New(apperrors.CodeTransient, fmt.Sprintf("webhook returned status %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}
