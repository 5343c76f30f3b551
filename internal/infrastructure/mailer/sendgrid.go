package mailer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridSender renders through SendGrid dynamic templates. Variables
// become dynamic template data; metadata rides along as custom args.
type SendGridSender struct {
	client    *sendgrid.Client
	fromName  string
	templates map[Template]string
}

func NewSendGridSender(apiKey, fromName string, templates map[Template]string) *SendGridSender {
	return &SendGridSender{
		client:    sendgrid.NewSendClient(apiKey),
		fromName:  fromName,
		templates: templates,
	}
}

func (s *SendGridSender) Name() string { return "sendgrid" }

func (s *SendGridSender) SendEmail(ctx context.Context, req *Request) (*Response, error) {
	id, ok := s.templates[req.Template]
	if !ok || id == "" {
		id = s.templates[TemplateUnspecified]
	}
	if id == "" {
		return nil, fmt.Errorf("no sendgrid template configured for %q", req.Template)
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(s.fromName, req.FromEmail))
	m.SetTemplateID(id)

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", req.ToEmail))
	p.SetDynamicTemplateData("locale", req.Locale)
	for k, v := range req.Variables {
		p.SetDynamicTemplateData(k, v)
	}
	for k, v := range req.Metadata {
		p.SetCustomArg(k, v)
	}
	m.AddPersonalizations(p)

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &Response{Success: false, Message: fmt.Sprintf("sendgrid status %d", resp.StatusCode)}, nil
	}
	out := &Response{Success: true, Message: "queued"}
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		out.EmailLogID = ids[0]
	}
	return out, nil
}
