package channels

import (
	"context"

	"go.uber.org/zap"

	"github.com/beegy-labs/notification-service/internal/domain/notification"
	"github.com/beegy-labs/notification-service/internal/infrastructure/mailer"
)

const emailSourceService = "notification-service"

var emailTemplates = map[notification.Type]mailer.Template{
	notification.TypeAdminInvite:   mailer.TemplateAdminInvite,
	notification.TypePartnerInvite: mailer.TemplatePartnerInvite,
	notification.TypePasswordReset: mailer.TemplatePasswordReset,
	notification.TypeMFACode:       mailer.TemplateMFACode,
	notification.TypeAccountLocked: mailer.TemplateAccountLocked,
}

// TemplateFor maps a notification type to its email template. Unmapped
// types render with the provider default.
func TemplateFor(t notification.Type) mailer.Template {
	if tpl, ok := emailTemplates[t]; ok {
		return tpl
	}
	return mailer.TemplateUnspecified
}

// EmailAdapter forwards to the email sender, which owns rendering.
type EmailAdapter struct {
	sender      mailer.Sender
	defaultFrom string
	logger      *zap.Logger
}

func NewEmailAdapter(sender mailer.Sender, defaultFrom string, logger *zap.Logger) *EmailAdapter {
	return &EmailAdapter{sender: sender, defaultFrom: defaultFrom, logger: logger}
}

func (a *EmailAdapter) Channel() notification.Channel {
	return notification.ChannelEmail
}

func (a *EmailAdapter) Send(ctx context.Context, req *Request) Result {
	if a.sender == nil {
		return Result{Error: "email not configured"}
	}
	to := req.Data[DataKeyEmail]
	if to == "" {
		return Result{Error: "no email address"}
	}
	locale := req.Locale
	if locale == "" {
		locale = "en"
	}
	from := req.Data[DataKeyFromEmail]
	if from == "" {
		from = a.defaultFrom
	}

	resp, err := a.sender.SendEmail(ctx, &mailer.Request{
		TenantID:      req.TenantID,
		AccountID:     req.AccountID,
		ToEmail:       to,
		Template:      TemplateFor(req.Type),
		Locale:        locale,
		Variables:     req.Data,
		SourceService: emailSourceService,
		FromEmail:     from,
		Metadata: map[string]string{
			"notification_id":   req.NotificationID,
			"notification_type": req.Type.String(),
		},
	})
	if err != nil {
		a.logger.Error("email send failed",
			zap.String("provider", a.sender.Name()), zap.Error(err))
		return Result{Error: err.Error()}
	}
	if !resp.Success {
		return Result{Error: resp.Message}
	}
	return Result{Success: true, ExternalID: resp.EmailLogID}
}
