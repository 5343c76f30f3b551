package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMProvider sends through Firebase Cloud Messaging.
type FCMProvider struct {
	client *messaging.Client
}

// NewFCMProvider builds a messaging client for the configured project.
// With an empty credentials file the SDK falls back to application
// default credentials.
func NewFCMProvider(ctx context.Context, projectID, credentialsFile string) (*FCMProvider, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init fcm client: %w", err)
	}
	return &FCMProvider{client: client}, nil
}

func (p *FCMProvider) Name() string { return "fcm" }

func (p *FCMProvider) SendMulticast(ctx context.Context, msg *Message) (*MulticastResult, error) {
	mm := &messaging.MulticastMessage{
		Tokens: msg.Tokens,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Android: &messaging.AndroidConfig{
			Priority: msg.AndroidPriority,
			Notification: &messaging.AndroidNotification{
				ChannelID: msg.AndroidChannel,
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": msg.APNSPriority},
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title:              msg.Title,
				Body:               msg.Body,
				RequireInteraction: msg.WebRequireInteraction,
			},
		},
	}
	if msg.WebLink != "" {
		mm.Webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: msg.WebLink}
	}

	br, err := p.client.SendEachForMulticast(ctx, mm)
	if err != nil {
		return nil, fmt.Errorf("fcm multicast: %w", err)
	}
	out := &MulticastResult{
		SuccessCount: br.SuccessCount,
		FailureCount: br.FailureCount,
		Results:      make([]SendResult, 0, len(br.Responses)),
	}
	for _, r := range br.Responses {
		out.Results = append(out.Results, SendResult{
			MessageID: r.MessageID,
			Code:      classify(r.Error),
			Err:       r.Error,
		})
	}
	return out, nil
}

func classify(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case messaging.IsUnregistered(err):
		return CodeNotRegistered
	case errorutils.IsInvalidArgument(err):
		return CodeInvalidToken
	case messaging.IsQuotaExceeded(err):
		return CodeRateLimited
	case errorutils.IsUnavailable(err), errorutils.IsInternal(err):
		return CodeTransient
	default:
		return CodeFatal
	}
}
