// Package usecases wires the domain services: the channel router, the
// dispatch pipeline, and the administrative services for preferences
// and device tokens.
package usecases

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beegy-labs/notification-service/internal/domain/notification"
	"github.com/beegy-labs/notification-service/internal/domain/preference"
	"github.com/beegy-labs/notification-service/internal/infrastructure/channels"
	"github.com/beegy-labs/notification-service/internal/infrastructure/metrics"
)

// RouteResult pairs one effective channel with its adapter outcome.
type RouteResult struct {
	Channel notification.Channel `json:"channel"`
	Result  channels.Result      `json:"result"`
}

// ChannelRouter reduces the requested channel set to the effective one
// via preferences and quiet hours, then fans out to the adapters. Quiet
// hours are looked up lazily: urgent traffic never touches the store.
type ChannelRouter struct {
	registry *channels.Registry
	prefs    preference.Store
	metrics  *metrics.Metrics
	logger   *zap.Logger
	clock    func() time.Time
}

func NewChannelRouter(registry *channels.Registry, prefs preference.Store, m *metrics.Metrics, logger *zap.Logger) *ChannelRouter {
	return &ChannelRouter{
		registry: registry,
		prefs:    prefs,
		metrics:  m,
		logger:   logger,
		clock:    time.Now,
	}
}

// Route dispatches to every channel that survives the preference and
// quiet-hours filter. Results preserve the order of the effective set.
func (r *ChannelRouter) Route(ctx context.Context, req *channels.Request, requested []notification.Channel) []RouteResult {
	snap, err := preference.Resolve(ctx, r.prefs, req.TenantID, req.AccountID)
	if err != nil {
		r.logger.Warn("preference lookup failed, defaults apply",
			zap.String("tenant_id", req.TenantID),
			zap.String("account_id", req.AccountID),
			zap.Error(err))
	}
	enabled := snap.EnabledChannelsForType(req.Type, requested)
	if len(enabled) == 0 {
		return nil
	}

	if req.Priority != notification.PriorityUrgent && r.inQuietHours(ctx, req.TenantID, req.AccountID) {
		// Silent in-app delivery is the only channel that survives the
		// quiet window.
		if !containsChannel(enabled, notification.ChannelInApp) {
			return []RouteResult{}
		}
		enabled = []notification.Channel{notification.ChannelInApp}
	}
	return r.fanOut(ctx, req, enabled)
}

// SendToChannel dispatches directly to one adapter, bypassing the
// preference and quiet-hours policy.
func (r *ChannelRouter) SendToChannel(ctx context.Context, c notification.Channel, req *channels.Request) RouteResult {
	adapter, ok := r.registry.Get(c)
	if !ok {
		return RouteResult{Channel: c, Result: channels.Result{Error: "channel not configured"}}
	}
	return r.dispatch(ctx, c, adapter, req)
}

// SendToAll dispatches to every registered channel, bypassing policy.
func (r *ChannelRouter) SendToAll(ctx context.Context, req *channels.Request) []RouteResult {
	return r.fanOut(ctx, req, r.registry.Channels())
}

func (r *ChannelRouter) inQuietHours(ctx context.Context, tenantID, accountID string) bool {
	q, err := r.prefs.GetQuietHours(ctx, tenantID, accountID)
	if errors.Is(err, preference.ErrNotFound) {
		return false
	}
	if err != nil {
		// A failed read counts as no quiet window.
		r.logger.Warn("quiet hours lookup failed, treating window as clear",
			zap.String("tenant_id", tenantID),
			zap.String("account_id", accountID),
			zap.Error(err))
		return false
	}
	return q.Contains(r.clock())
}

func (r *ChannelRouter) fanOut(ctx context.Context, req *channels.Request, enabled []notification.Channel) []RouteResult {
	results := make([]RouteResult, len(enabled))
	var wg sync.WaitGroup
	for i, c := range enabled {
		adapter, ok := r.registry.Get(c)
		if !ok {
			results[i] = RouteResult{Channel: c, Result: channels.Result{Error: "channel not configured"}}
			continue
		}
		wg.Add(1)
		go func(i int, c notification.Channel, a channels.Adapter) {
			defer wg.Done()
			results[i] = r.dispatch(ctx, c, a, req)
		}(i, c, adapter)
	}
	wg.Wait()
	return results
}

func (r *ChannelRouter) dispatch(ctx context.Context, c notification.Channel, a channels.Adapter, req *channels.Request) RouteResult {
	start := time.Now()
	res := a.Send(ctx, req)
	r.metrics.RecordDelivery(string(c), res.Success, time.Since(start).Seconds())
	if !res.Success {
		r.logger.Warn("channel delivery failed",
			zap.String("notification_id", req.NotificationID),
			zap.String("channel", string(c)),
			zap.String("error", res.Error))
	}
	return RouteResult{Channel: c, Result: res}
}

func containsChannel(set []notification.Channel, c notification.Channel) bool {
	for _, s := range set {
		if s == c {
			return true
		}
	}
	return false
}
