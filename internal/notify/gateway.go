package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-booking-agent/internal/redact"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// ErrNoAddress means the recipient has no address for the requested channel.
var ErrNoAddress = errors.New("notify: recipient has no address for channel")

// Recipient is whoever a message goes to. Either address may be empty.
type Recipient struct {
	Name  string
	Email string
	Phone string
}

// Content is channel-neutral message text. SMS uses Body only.
type Content struct {
	Subject string
	Body    string
}

// Gateway sends one message over one channel. A nil error means delivered.
type Gateway interface {
	Send(ctx context.Context, to Recipient, channel Channel, content Content) error
}

// DeliveryError reports a failed dispatch.
type DeliveryError struct {
	Channel Channel
	To      string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notify: %s delivery to %q failed: %v", e.Channel, redact.Address(e.To), e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Router fans a Send out to the email or SMS sender for the channel.
type Router struct {
	email  EmailSender
	sms    SMSSender
	logger *logging.Logger
}

// NewRouter accepts nil senders; sending on an unconfigured channel fails.
func NewRouter(email EmailSender, sms SMSSender, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{email: email, sms: sms, logger: logger}
}

func (r *Router) Send(ctx context.Context, to Recipient, channel Channel, content Content) error {
	switch channel {
	case ChannelEmail:
		addr := strings.TrimSpace(to.Email)
		if addr == "" {
			return &DeliveryError{Channel: channel, Err: ErrNoAddress}
		}
		if r.email == nil {
			return &DeliveryError{Channel: channel, To: addr, Err: errors.New("email sender not configured")}
		}
		err := r.email.SendEmail(ctx, EmailMessage{To: addr, ToName: to.Name, Subject: content.Subject, Body: content.Body})
		if err != nil {
			return &DeliveryError{Channel: channel, To: addr, Err: err}
		}
		return nil
	case ChannelSMS:
		addr := strings.TrimSpace(to.Phone)
		if addr == "" {
			return &DeliveryError{Channel: channel, Err: ErrNoAddress}
		}
		if r.sms == nil {
			return &DeliveryError{Channel: channel, To: addr, Err: errors.New("sms sender not configured")}
		}
		if err := r.sms.SendSMS(ctx, addr, content.Body); err != nil {
			return &DeliveryError{Channel: channel, To: addr, Err: err}
		}
		return nil
	default:
		return &DeliveryError{Channel: channel, Err: fmt.Errorf("unknown channel %q", channel)}
	}
}

// SendAll tries every channel the recipient has an address for. It succeeds when
// at least one channel delivered; otherwise it returns the joined failures.
func SendAll(ctx context.Context, gw Gateway, to Recipient, content Content) ([]Channel, error) {
	var (
		delivered []Channel
		errs      []error
	)
	for _, ch := range []Channel{ChannelEmail, ChannelSMS} {
		if ch == ChannelEmail && to.Email == "" || ch == ChannelSMS && to.Phone == "" {
			continue
		}
		if err := gw.Send(ctx, to, ch, content); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered = append(delivered, ch)
	}
	if len(delivered) > 0 {
		return delivered, nil
	}
	if len(errs) == 0 {
		return nil, &DeliveryError{Err: ErrNoAddress}
	}
	return nil, errors.Join(errs...)
}

var _ Gateway = (*Router)(nil)
