package channels

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/beegy-labs/notification-service/internal/domain/device"
	"github.com/beegy-labs/notification-service/internal/domain/notification"
	"github.com/beegy-labs/notification-service/internal/infrastructure/metrics"
	"github.com/beegy-labs/notification-service/internal/infrastructure/push"
)

// PushAdapter fans one request out to every registered device through
// the batch push provider. Tokens the provider reports dead are evicted
// before the result returns.
type PushAdapter struct {
	devices  device.Registry
	provider push.Provider
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewPushAdapter(devices device.Registry, provider push.Provider, m *metrics.Metrics, logger *zap.Logger) *PushAdapter {
	return &PushAdapter{devices: devices, provider: provider, metrics: m, logger: logger}
}

func (a *PushAdapter) Channel() notification.Channel {
	return notification.ChannelPush
}

func (a *PushAdapter) Send(ctx context.Context, req *Request) Result {
	if a.provider == nil {
		return Result{Error: "push not configured"}
	}
	tokens, err := a.devices.ActiveTokens(ctx, req.TenantID, req.AccountID)
	if err != nil {
		a.logger.Error("device token lookup failed",
			zap.String("account_id", req.AccountID), zap.Error(err))
		return Result{Error: "device lookup failed"}
	}
	if len(tokens) == 0 {
		return Result{Error: "no registered devices"}
	}
	return a.deliver(ctx, tokens, req.Title, req.Body, pushData(req), req.Priority)
}

// SendToTokens bypasses the registry lookup for callers that already
// hold the target tokens.
func (a *PushAdapter) SendToTokens(ctx context.Context, tokens []string, title, body string, data map[string]string, priority notification.Priority) Result {
	if a.provider == nil {
		return Result{Error: "push not configured"}
	}
	if len(tokens) == 0 {
		return Result{Error: "no tokens"}
	}
	if priority == "" {
		priority = notification.PriorityNormal
	}
	return a.deliver(ctx, tokens, title, body, data, priority)
}

func (a *PushAdapter) deliver(ctx context.Context, tokens []string, title, body string, data map[string]string, priority notification.Priority) Result {
	msg := &push.Message{
		Tokens:                tokens,
		Title:                 title,
		Body:                  body,
		Data:                  data,
		AndroidPriority:       androidPriority(priority),
		AndroidChannel:        androidChannel(priority),
		APNSPriority:          apnsPriority(priority),
		WebRequireInteraction: priority.AtLeast(notification.PriorityHigh),
		WebLink:               data[DataKeyLink],
	}
	res, err := a.provider.SendMulticast(ctx, msg)
	if err != nil {
		a.logger.Error("push multicast failed",
			zap.Int("tokens", len(tokens)), zap.Error(err))
		return Result{Error: "push dispatch failed"}
	}

	for i, r := range res.Results {
		if i >= len(tokens) {
			break
		}
		if !r.Code.DeadToken() {
			continue
		}
		if everr := a.devices.EvictByToken(ctx, tokens[i]); everr != nil {
			a.logger.Warn("token eviction failed", zap.Error(everr))
			continue
		}
		a.metrics.RecordEviction()
		a.logger.Info("evicted dead device token", zap.String("code", r.Code.String()))
	}

	out := Result{Success: res.SuccessCount > 0}
	if len(res.Results) > 0 {
		out.ExternalID = res.Results[0].MessageID
	}
	if res.FailureCount > 0 {
		out.Error = fmt.Sprintf("%d device(s) failed", res.FailureCount)
	}
	return out
}

func pushData(req *Request) map[string]string {
	data := make(map[string]string, len(req.Data)+2)
	for k, v := range req.Data {
		data[k] = v
	}
	data["notification_id"] = req.NotificationID
	data["type"] = req.Type.String()
	return data
}

func androidPriority(p notification.Priority) string {
	if p.AtLeast(notification.PriorityHigh) {
		return "high"
	}
	return "normal"
}

func androidChannel(p notification.Priority) string {
	switch p {
	case notification.PriorityUrgent:
		return "urgent"
	case notification.PriorityHigh:
		return "high"
	default:
		return "default"
	}
}

func apnsPriority(p notification.Priority) string {
	if p.AtLeast(notification.PriorityHigh) {
		return "10"
	}
	return "5"
}
