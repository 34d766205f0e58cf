package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-agent/internal/redact"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

var twilioTracer = otel.Tracer("clinic.internal.notify.twilio")

// SMSSender delivers one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioSender posts SMS messages using Twilio's REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	retryWait  func() time.Duration
}

// NewTwilioSender returns nil when credentials are missing.
func NewTwilioSender(accountSID, authToken, from string, logger *logging.Logger) *TwilioSender {
	if accountSID == "" || authToken == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    twilioBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		retryWait: func() time.Duration {
			return time.Duration(200+rand.Intn(300)) * time.Millisecond
		},
	}
}

// WithBaseURL points the sender at another API root (tests use httptest).
func (s *TwilioSender) WithBaseURL(base string) *TwilioSender {
	if base != "" {
		s.baseURL = strings.TrimRight(base, "/")
	}
	return s
}

// SendSMS dispatches a single SMS, retrying transient failures up to three times.
func (s *TwilioSender) SendSMS(ctx context.Context, to, body string) error {
	if s == nil {
		return errors.New("notify: twilio not configured")
	}
	if to == "" {
		return errors.New("notify: sms recipient required")
	}
	if s.from == "" {
		return errors.New("notify: sms from number required")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("notify: sms body required")
	}

	ctx, span := twilioTracer.Start(ctx, "notify.twilio.send")
	defer span.End()
	span.SetAttributes(attribute.String("sms.to", to))

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", s.from)
	payload.Set("Body", body)
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
		if err != nil {
			lastErr = err
			break
		}
		req.SetBasicAuth(s.accountSID, s.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				s.logger.Info("twilio sms sent", "to", redact.Address(to), "sid", messageSID(respBody))
				return nil
			}
			lastErr = fmt.Errorf("notify: twilio send failed: %s", formatTwilioError(resp.StatusCode, respBody))
			// Only 429 is worth retrying among 4xx.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				break
			}
		}

		if attempt < 3 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = 3
			case <-time.After(s.retryWait()):
			}
		}
	}

	span.RecordError(lastErr)
	return lastErr
}

func messageSID(body []byte) string {
	var parsed struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.SID
}

type twilioAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func formatTwilioError(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, trimmed)
}

// StubSMSSender logs instead of sending.
type StubSMSSender struct {
	logger *logging.Logger
}

func NewStubSMSSender(logger *logging.Logger) *StubSMSSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubSMSSender{logger: logger}
}

func (s *StubSMSSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info("stub sms sender: would send sms", "to", redact.Address(to), "length", len(body))
	return nil
}

var (
	_ SMSSender = (*TwilioSender)(nil)
	_ SMSSender = (*StubSMSSender)(nil)
)
