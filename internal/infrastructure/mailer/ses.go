package mailer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESSender renders through SES stored templates.
type SESSender struct {
	client    *sesv2.Client
	templates map[Template]string
}

func NewSESSender(client *sesv2.Client, templates map[Template]string) *SESSender {
	return &SESSender{client: client, templates: templates}
}

func (s *SESSender) Name() string { return "ses" }

func (s *SESSender) SendEmail(ctx context.Context, req *Request) (*Response, error) {
	name, ok := s.templates[req.Template]
	if !ok || name == "" {
		name = s.templates[TemplateUnspecified]
	}
	if name == "" {
		return nil, fmt.Errorf("no ses template configured for %q", req.Template)
	}

	data := make(map[string]string, len(req.Variables)+1)
	data["locale"] = req.Locale
	for k, v := range req.Variables {
		data[k] = v
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal template data: %w", err)
	}

	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(req.FromEmail),
		Destination:      &types.Destination{ToAddresses: []string{req.ToEmail}},
		Content: &types.EmailContent{
			Template: &types.Template{
				TemplateName: aws.String(name),
				TemplateData: aws.String(string(payload)),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ses send: %w", err)
	}
	return &Response{Success: true, EmailLogID: aws.ToString(out.MessageId), Message: "queued"}, nil
}
