package usecases

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beegy-labs/notification-service/internal/domain/notification"
	"github.com/beegy-labs/notification-service/internal/domain/preference"
	"github.com/beegy-labs/notification-service/internal/infrastructure/audit"
	"github.com/beegy-labs/notification-service/internal/infrastructure/channels"
	"github.com/beegy-labs/notification-service/internal/infrastructure/repository"
)

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeAuditor struct {
	mu     sync.Mutex
	events []*audit.Event
	err    error
}

func (f *fakeAuditor) Record(_ context.Context, ev *audit.Event) (*audit.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	if f.err != nil {
		return nil, f.err
	}
	return &audit.Response{Success: true}, nil
}

func (f *fakeAuditor) recorded() []*audit.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*audit.Event(nil), f.events...)
}

func failAdapter(c notification.Channel, msg string) *recordingAdapter {
	return &recordingAdapter{channel: c, result: channels.Result{Error: msg}}
}

type dispatchEnv struct {
	repo    *repository.MemoryNotificationRepository
	store   *fakeStore
	auditor *fakeAuditor
	svc     *DispatchService
}

func newDispatchEnv(t *testing.T, adapters ...channels.Adapter) *dispatchEnv {
	t.Helper()
	repo := repository.NewMemoryNotificationRepository()
	inApp := channels.NewInAppAdapter(repo, zap.NewNop())
	all := append([]channels.Adapter{inApp}, adapters...)
	store := &fakeStore{}
	auditor := &fakeAuditor{}
	router := NewChannelRouter(channels.NewRegistry(all...), store, nil, zap.NewNop())
	router.clock = func() time.Time { return fixedNow }
	svc := NewDispatchService(repo, router, inApp, auditor, nil, zap.NewNop()).(*DispatchService)
	svc.clock = func() time.Time { return fixedNow }
	return &dispatchEnv{repo: repo, store: store, auditor: auditor, svc: svc}
}

func sendRequest(channelList ...notification.Channel) *notification.SendRequest {
	return &notification.SendRequest{
		TenantID:  "t1",
		AccountID: "a1",
		Type:      notification.TypeSystem,
		Channels:  channelList,
		Title:     "maintenance tonight",
		Body:      "back at 02:00",
	}
}

func TestSendHappyPath(t *testing.T) {
	env := newDispatchEnv(t, okAdapter(notification.ChannelEmail))

	resp, err := env.svc.Send(context.Background(), sendRequest(notification.ChannelInApp, notification.ChannelEmail))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.NotificationID)
	assert.Equal(t, "Sent to 2 channel(s)", resp.Message)

	n, err := env.repo.GetByID(context.Background(), resp.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusDelivered, n.Status)
	assert.Equal(t, notification.ChannelInApp, n.Channel)
	require.NotNil(t, n.DeliveredAt)

	// System traffic is not security classified.
	assert.Empty(t, env.auditor.recorded())
}

func TestSendFinalizesWinningChannel(t *testing.T) {
	env := newDispatchEnv(t, okAdapter(notification.ChannelEmail))

	resp, err := env.svc.Send(context.Background(), sendRequest(notification.ChannelEmail))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "Sent to 1 channel(s)", resp.Message)

	n, err := env.repo.GetByID(context.Background(), resp.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, n.Status)
	assert.Equal(t, notification.ChannelEmail, n.Channel)
	assert.Equal(t, "ext-email", n.ExternalID)
	require.NotNil(t, n.SentAt)
}

func TestSendAllChannelsFail(t *testing.T) {
	env := newDispatchEnv(t, failAdapter(notification.ChannelEmail, "smtp down"))

	resp, err := env.svc.Send(context.Background(), sendRequest(notification.ChannelEmail))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "Failed to send: email: smtp down", resp.Message)
	assert.NotEmpty(t, resp.NotificationID)

	n, err := env.repo.GetByID(context.Background(), resp.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, n.Status)
	assert.Equal(t, "email: smtp down", n.Error)
}

func TestSendNoEligibleChannels(t *testing.T) {
	env := newDispatchEnv(t, okAdapter(notification.ChannelEmail))
	env.store.prefs = &preference.Preferences{
		Channels: []preference.ChannelPreference{
			{Channel: notification.ChannelEmail, Enabled: false},
		},
	}

	resp, err := env.svc.Send(context.Background(), sendRequest(notification.ChannelEmail))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "Failed to send: no eligible channels", resp.Message)

	n, err := env.repo.GetByID(context.Background(), resp.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, n.Status)
	assert.Equal(t, "no eligible channels", n.Error)
}

func TestSendExpiry(t *testing.T) {
	env := newDispatchEnv(t, okAdapter(notification.ChannelEmail))

	t.Run("past deadline drops the request", func(t *testing.T) {
		req := sendRequest(notification.ChannelEmail)
		past := fixedNow.Add(-time.Hour)
		req.ExpiresAt = &past

		resp, err := env.svc.Send(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, "notification expired", resp.Message)
		assert.Empty(t, resp.NotificationID)

		page, err := env.repo.List(context.Background(), notification.Filter{TenantID: "t1", AccountID: "a1", Page: 1, PageSize: 10})
		require.NoError(t, err)
		assert.Zero(t, page.TotalCount)
	})

	t.Run("future deadline sends", func(t *testing.T) {
		req := sendRequest(notification.ChannelEmail)
		future := fixedNow.Add(time.Hour)
		req.ExpiresAt = &future

		resp, err := env.svc.Send(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, resp.Success)
	})
}

func TestSendValidation(t *testing.T) {
	env := newDispatchEnv(t)

	req := sendRequest()
	req.Title = "  "
	_, err := env.svc.Send(context.Background(), req)
	assert.ErrorIs(t, err, notification.ErrMissingTitle)

	req = sendRequest("fax")
	_, err = env.svc.Send(context.Background(), req)
	assert.ErrorIs(t, err, notification.ErrValidation)
}

func TestSendIdempotentReplay(t *testing.T) {
	email := okAdapter(notification.ChannelEmail)
	env := newDispatchEnv(t, email)

	req := sendRequest(notification.ChannelEmail)
	req.IdempotencyKey = "key-1"
	first, err := env.svc.Send(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.Success)
	assert.Equal(t, "key-1", first.NotificationID)

	replayReq := sendRequest(notification.ChannelEmail)
	replayReq.IdempotencyKey = "key-1"
	second, err := env.svc.Send(context.Background(), replayReq)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, "key-1", second.NotificationID)
	assert.Equal(t, "idempotent", second.Message)

	// The adapter ran exactly once across both calls.
	assert.Equal(t, 1, email.callCount())
}

// racingRepo makes the first GetByID miss so the insert conflict path
// runs, as if a concurrent winner claimed the row in between.
type racingRepo struct {
	*repository.MemoryNotificationRepository
	mu         sync.Mutex
	missedOnce bool
}

func (r *racingRepo) GetByID(ctx context.Context, id string) (*notification.Notification, error) {
	r.mu.Lock()
	if !r.missedOnce {
		r.missedOnce = true
		r.mu.Unlock()
		return nil, notification.ErrNotFound
	}
	r.mu.Unlock()
	return r.MemoryNotificationRepository.GetByID(ctx, id)
}

func TestSendIdempotentRaceLoser(t *testing.T) {
	base := repository.NewMemoryNotificationRepository()
	require.NoError(t, base.Create(context.Background(), &notification.Notification{
		ID:        "key-2",
		TenantID:  "t1",
		AccountID: "a1",
		Status:    notification.StatusDelivered,
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}))
	repo := &racingRepo{MemoryNotificationRepository: base}

	email := okAdapter(notification.ChannelEmail)
	inApp := channels.NewInAppAdapter(repo, zap.NewNop())
	router := NewChannelRouter(channels.NewRegistry(inApp, email), &fakeStore{}, nil, zap.NewNop())
	svc := NewDispatchService(repo, router, inApp, &fakeAuditor{}, nil, zap.NewNop()).(*DispatchService)
	svc.clock = func() time.Time { return fixedNow }

	req := sendRequest(notification.ChannelEmail)
	req.IdempotencyKey = "key-2"
	resp, err := svc.Send(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "key-2", resp.NotificationID)
	assert.Equal(t, "idempotent", resp.Message)
	assert.Equal(t, 0, email.callCount())
}

func TestSendAudit(t *testing.T) {
	t.Run("security types record an event", func(t *testing.T) {
		sms := okAdapter(notification.ChannelSMS)
		env := newDispatchEnv(t, sms)

		req := sendRequest(notification.ChannelSMS)
		req.Type = notification.TypeMFACode
		resp, err := env.svc.Send(context.Background(), req)
		require.NoError(t, err)
		require.True(t, resp.Success)

		events := env.auditor.recorded()
		require.Len(t, events, 1)
		ev := events[0]
		assert.Equal(t, audit.EventMFAVerified, ev.EventType)
		assert.Equal(t, "user", ev.AccountType)
		assert.Equal(t, "a1", ev.AccountID)
		assert.Equal(t, "notification-service", ev.IPAddress)
		assert.Equal(t, "notification-service", ev.UserAgent)
		assert.Equal(t, audit.ResultSuccess, ev.Result)
		assert.Equal(t, "NOTIFICATION_SENT", ev.Metadata["action"])
		assert.Equal(t, resp.NotificationID, ev.Metadata["notification_id"])
		assert.Equal(t, "sms", ev.Metadata["channels"])
		assert.Equal(t, "mfa_code", ev.Metadata["notification_type"])
	})

	t.Run("failed dispatch records a failure result", func(t *testing.T) {
		env := newDispatchEnv(t, failAdapter(notification.ChannelSMS, "twilio down"))

		req := sendRequest(notification.ChannelSMS)
		req.Type = notification.TypeAccountLocked
		resp, err := env.svc.Send(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, resp.Success)

		events := env.auditor.recorded()
		require.Len(t, events, 1)
		assert.Equal(t, audit.EventAccountLocked, events[0].EventType)
		assert.Equal(t, audit.ResultFailure, events[0].Result)
	})

	t.Run("audit failure never fails the send", func(t *testing.T) {
		env := newDispatchEnv(t, okAdapter(notification.ChannelEmail))
		env.auditor.err = errors.New("audit service down")

		req := sendRequest(notification.ChannelEmail)
		req.Type = notification.TypePasswordReset
		resp, err := env.svc.Send(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, resp.Success)
	})
}

func TestSendBulk(t *testing.T) {
	env := newDispatchEnv(t, okAdapter(notification.ChannelEmail))

	t.Run("mixed outcomes", func(t *testing.T) {
		resp, err := env.svc.SendBulk(context.Background(), &notification.BulkRequest{
			TenantID: "t1",
			Notifications: []notification.BulkItem{
				{AccountID: "a1", Title: "hello", Channels: []notification.Channel{notification.ChannelEmail}},
				{AccountID: "a2", Title: "", Channels: []notification.Channel{notification.ChannelEmail}},
			},
		})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, 2, resp.TotalCount)
		assert.Equal(t, 1, resp.SentCount)
		assert.Equal(t, 1, resp.FailedCount)
		require.Len(t, resp.Results, 2)
		assert.True(t, resp.Results[0].Success)
		assert.NotEmpty(t, resp.Results[0].NotificationID)
		assert.Equal(t, "a2", resp.Results[1].AccountID)
		assert.Contains(t, resp.Results[1].Error, "title")
	})

	t.Run("all delivered", func(t *testing.T) {
		resp, err := env.svc.SendBulk(context.Background(), &notification.BulkRequest{
			TenantID: "t1",
			Notifications: []notification.BulkItem{
				{AccountID: "a3", Title: "hi", Channels: []notification.Channel{notification.ChannelEmail}},
			},
		})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, 1, resp.SentCount)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := env.svc.SendBulk(context.Background(), &notification.BulkRequest{
			Notifications: []notification.BulkItem{{AccountID: "a1", Title: "x"}},
		})
		assert.ErrorIs(t, err, notification.ErrMissingTenant)

		_, err = env.svc.SendBulk(context.Background(), &notification.BulkRequest{TenantID: "t1"})
		assert.ErrorIs(t, err, notification.ErrValidation)
	})
}

func TestList(t *testing.T) {
	env := newDispatchEnv(t)
	for _, id := range []string{"n1", "n2"} {
		require.NoError(t, env.repo.Create(context.Background(), &notification.Notification{
			ID: id, TenantID: "t1", AccountID: "a1",
			Channel: notification.ChannelInApp, Status: notification.StatusDelivered,
			CreatedAt: fixedNow, UpdatedAt: fixedNow,
		}))
	}

	resp, err := env.svc.List(context.Background(), &notification.ListRequest{TenantID: "t1", AccountID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.TotalCount)
	assert.Equal(t, int64(2), resp.UnreadCount)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 20, resp.PageSize)

	_, err = env.svc.List(context.Background(), &notification.ListRequest{AccountID: "a1"})
	assert.ErrorIs(t, err, notification.ErrMissingTenant)

	_, err = env.svc.List(context.Background(), &notification.ListRequest{TenantID: "t1", AccountID: "a1", Channel: "fax"})
	assert.ErrorIs(t, err, notification.ErrValidation)
}

func TestMarkRead(t *testing.T) {
	env := newDispatchEnv(t)
	require.NoError(t, env.repo.Create(context.Background(), &notification.Notification{
		ID: "n1", TenantID: "t1", AccountID: "a1",
		Channel: notification.ChannelInApp, Status: notification.StatusDelivered,
		CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}))

	resp, err := env.svc.MarkRead(context.Background(), &notification.MarkReadRequest{
		TenantID: "t1", AccountID: "a1", NotificationIDs: []string{"n1", "ghost"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, int64(1), resp.UpdatedCount)

	_, err = env.svc.MarkRead(context.Background(), &notification.MarkReadRequest{TenantID: "t1", AccountID: "a1"})
	assert.ErrorIs(t, err, notification.ErrValidation)
}

func TestStatus(t *testing.T) {
	env := newDispatchEnv(t)
	sentAt := fixedNow.Add(-time.Minute)
	require.NoError(t, env.repo.Create(context.Background(), &notification.Notification{
		ID: "n1", TenantID: "t1", AccountID: "a1",
		Channel: notification.ChannelEmail, Status: notification.StatusSent,
		ExternalID: "sg-9", SentAt: &sentAt,
		CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}))

	t.Run("found", func(t *testing.T) {
		resp, err := env.svc.Status(context.Background(), "n1")
		require.NoError(t, err)
		assert.Equal(t, notification.StatusSent, resp.Status)
		assert.Equal(t, notification.ChannelEmail, resp.Channel)
		assert.Equal(t, "sg-9", resp.ExternalID)
		require.NotNil(t, resp.SentAt)
		assert.Equal(t, sentAt.Unix(), *resp.SentAt)
		assert.Nil(t, resp.DeliveredAt)
	})

	t.Run("unknown id is not an error", func(t *testing.T) {
		resp, err := env.svc.Status(context.Background(), "ghost")
		require.NoError(t, err)
		assert.Equal(t, "ghost", resp.NotificationID)
		assert.Equal(t, notification.StatusUnspecified, resp.Status)
		assert.Equal(t, "Notification not found", resp.Error)
	})

	t.Run("blank id", func(t *testing.T) {
		_, err := env.svc.Status(context.Background(), "   ")
		assert.ErrorIs(t, err, notification.ErrValidation)
	})
}
