package channels

import (
	"context"

	"go.uber.org/zap"

	"github.com/beegy-labs/notification-service/internal/domain/notification"
)

// SMSProvider sends a single message and returns the provider-assigned
// id.
type SMSProvider interface {
	Name() string
	Send(ctx context.Context, to, body string) (string, error)
}

// SMSAdapter delivers through the configured SMS provider. One request
// is one message.
type SMSAdapter struct {
	provider SMSProvider
	logger   *zap.Logger
}

func NewSMSAdapter(provider SMSProvider, logger *zap.Logger) *SMSAdapter {
	return &SMSAdapter{provider: provider, logger: logger}
}

func (a *SMSAdapter) Channel() notification.Channel {
	return notification.ChannelSMS
}

func (a *SMSAdapter) Send(ctx context.Context, req *Request) Result {
	if a.provider == nil {
		return Result{Error: "sms not configured"}
	}
	to := req.Data[DataKeyPhoneNumber]
	if to == "" {
		return Result{Error: "no phone number"}
	}
	id, err := a.provider.Send(ctx, to, smsText(req.Title, req.Body))
	if err != nil {
		a.logger.Error("sms send failed",
			zap.String("provider", a.provider.Name()), zap.Error(err))
		return Result{Error: err.Error()}
	}
	return Result{Success: true, ExternalID: id}
}

func smsText(title, body string) string {
	switch {
	case body == "":
		return title
	case title == "":
		return body
	default:
		return title + "\n" + body
	}
}
