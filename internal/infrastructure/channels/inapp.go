package channels

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/beegy-labs/notification-service/internal/domain/notification"
)

// InAppAdapter owns the notification rows: delivery inserts plus the
// list, mark-read, status, and bookkeeping operations the query surface
// delegates here.
type InAppAdapter struct {
	repo   notification.Repository
	now    func() time.Time
	logger *zap.Logger
}

func NewInAppAdapter(repo notification.Repository, logger *zap.Logger) *InAppAdapter {
	return &InAppAdapter{repo: repo, now: time.Now, logger: logger}
}

func (a *InAppAdapter) Channel() notification.Channel {
	return notification.ChannelInApp
}

// Send inserts the delivery row with status delivered. When the id was
// already claimed as pending by the dispatch pipeline, the claim is
// promoted in place; any other existing row makes the write a no-op
// returning the stored id.
func (a *InAppAdapter) Send(ctx context.Context, req *Request) Result {
	now := a.now().UTC()
	n := &notification.Notification{
		ID:          req.NotificationID,
		TenantID:    req.TenantID,
		AccountID:   req.AccountID,
		Type:        req.Type,
		Channel:     notification.ChannelInApp,
		Title:       req.Title,
		Body:        req.Body,
		Data:        req.Data,
		Priority:    req.Priority,
		Status:      notification.StatusDelivered,
		SentAt:      &now,
		DeliveredAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := a.repo.Create(ctx, n)
	if err == nil {
		return Result{Success: true, ExternalID: n.ID}
	}
	if !errors.Is(err, notification.ErrAlreadyExists) {
		a.logger.Error("in-app insert failed",
			zap.String("notification_id", req.NotificationID), zap.Error(err))
		return Result{Error: "storage failure"}
	}

	existing, gerr := a.repo.GetByID(ctx, req.NotificationID)
	if gerr != nil {
		a.logger.Error("in-app claim lookup failed",
			zap.String("notification_id", req.NotificationID), zap.Error(gerr))
		return Result{Error: "storage failure"}
	}
	if existing.Status != notification.StatusPending {
		return Result{Success: true, ExternalID: existing.ID}
	}
	existing.Channel = notification.ChannelInApp
	existing.Status = notification.StatusDelivered
	existing.SentAt = &now
	existing.DeliveredAt = &now
	existing.UpdatedAt = now
	if uerr := a.repo.Update(ctx, existing); uerr != nil {
		a.logger.Error("in-app claim promote failed",
			zap.String("notification_id", req.NotificationID), zap.Error(uerr))
		return Result{Error: "storage failure"}
	}
	return Result{Success: true, ExternalID: existing.ID}
}

// List returns one page of stored notifications for an account.
func (a *InAppAdapter) List(ctx context.Context, f notification.Filter) (*notification.Page, error) {
	f.Normalize()
	return a.repo.List(ctx, f)
}

// MarkAsRead transitions the account's unread rows among ids to read
// and reports how many changed.
func (a *InAppAdapter) MarkAsRead(ctx context.Context, tenantID, accountID string, ids []string) (int64, error) {
	return a.repo.MarkRead(ctx, tenantID, accountID, ids, a.now().UTC())
}

// Status returns the stored delivery record for any channel.
func (a *InAppAdapter) Status(ctx context.Context, notificationID string) (*notification.Notification, error) {
	return a.repo.GetByID(ctx, notificationID)
}

// UpdateStatus records delivery progress reported by other channels.
// A non-empty channel rebinds the row to the channel that actually
// delivered. Sent and delivered transitions stamp their timestamps
// once; read rows are never touched.
func (a *InAppAdapter) UpdateStatus(ctx context.Context, notificationID string, channel notification.Channel, status notification.Status, externalID, errMsg string) error {
	n, err := a.repo.GetByID(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.Status == notification.StatusRead {
		return nil
	}
	now := a.now().UTC()
	if channel != "" {
		n.Channel = channel
	}
	n.Status = status
	switch status {
	case notification.StatusSent:
		if n.SentAt == nil {
			n.SentAt = &now
		}
	case notification.StatusDelivered:
		if n.DeliveredAt == nil {
			n.DeliveredAt = &now
		}
	}
	if externalID != "" {
		n.ExternalID = externalID
	}
	if errMsg != "" {
		n.Error = errMsg
	}
	n.UpdatedAt = now
	return a.repo.Update(ctx, n)
}
