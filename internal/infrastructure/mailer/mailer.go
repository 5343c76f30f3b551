// Package mailer is the outbound email contract. Rendering is delegated
// to the provider: the dispatch pipeline hands over a template id and
// variables and gets back a log id.
package mailer

import "context"

// Template identifies a provider-side email template.
type Template string

const (
	TemplateUnspecified   Template = "UNSPECIFIED"
	TemplateAdminInvite   Template = "ADMIN_INVITE"
	TemplatePartnerInvite Template = "PARTNER_INVITE"
	TemplatePasswordReset Template = "PASSWORD_RESET"
	TemplateMFACode       Template = "MFA_CODE"
	TemplateAccountLocked Template = "ACCOUNT_LOCKED"
)

// Request carries one email for rendering and delivery.
type Request struct {
	TenantID      string            `json:"tenant_id"`
	AccountID     string            `json:"account_id"`
	ToEmail       string            `json:"to_email"`
	Template      Template          `json:"template"`
	Locale        string            `json:"locale"`
	Variables     map[string]string `json:"variables,omitempty"`
	SourceService string            `json:"source_service"`
	FromEmail     string            `json:"from_email"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type Response struct {
	Success    bool   `json:"success"`
	EmailLogID string `json:"email_log_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Sender delivers one rendered email.
type Sender interface {
	Name() string
	SendEmail(ctx context.Context, req *Request) (*Response, error)
}
