package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/beegy-labs/notification-service/internal/domain/notification"
	"github.com/beegy-labs/notification-service/internal/infrastructure/audit"
	"github.com/beegy-labs/notification-service/internal/infrastructure/channels"
	"github.com/beegy-labs/notification-service/internal/infrastructure/metrics"
)

const sourceServiceTag = "notification-service"

// DispatchService is the public entry point for sends and the query
// surface over stored notifications. It owns notification identity:
// every send claims its row id up front so that concurrent sends with
// the same idempotency key serialize on the insert.
type DispatchService struct {
	repo    notification.Repository
	router  *ChannelRouter
	inApp   *channels.InAppAdapter
	auditor audit.Recorder
	metrics *metrics.Metrics
	logger  *zap.Logger
	clock   func() time.Time
}

func NewDispatchService(
	repo notification.Repository,
	router *ChannelRouter,
	inApp *channels.InAppAdapter,
	auditor audit.Recorder,
	m *metrics.Metrics,
	logger *zap.Logger,
) notification.Service {
	return &DispatchService{
		repo:    repo,
		router:  router,
		inApp:   inApp,
		auditor: auditor,
		metrics: m,
		logger:  logger,
		clock:   time.Now,
	}
}

// Send validates, claims the notification row, routes to the effective
// channels, finalizes the row, and audits security-classified types.
func (s *DispatchService) Send(ctx context.Context, req *notification.SendRequest) (*notification.SendResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	if req.ExpiresAt != nil && now.After(*req.ExpiresAt) {
		s.logger.Info("dropping expired notification",
			zap.String("tenant_id", req.TenantID),
			zap.String("account_id", req.AccountID),
			zap.Time("expires_at", *req.ExpiresAt))
		return &notification.SendResponse{Message: "notification expired"}, nil
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repo.GetByID(ctx, req.IdempotencyKey)
		if err == nil {
			s.metrics.RecordIdempotentReplay()
			return &notification.SendResponse{
				Success:        true,
				NotificationID: existing.ID,
				Message:        "idempotent",
			}, nil
		}
		if !errors.Is(err, notification.ErrNotFound) {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	id := req.IdempotencyKey
	if id == "" {
		id = uuid.New().String()
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("notification.id", id),
		attribute.String("notification.type", string(req.Type)),
		attribute.String("notification.priority", string(req.Priority)),
	)
	requested := req.Channels
	if len(requested) == 0 {
		requested = notification.RecommendedChannels(req.Type, req.Priority)
	}

	claim := &notification.Notification{
		ID:            id,
		TenantID:      req.TenantID,
		AccountID:     req.AccountID,
		Type:          req.Type,
		Channel:       requested[0],
		Title:         req.Title,
		Body:          req.Body,
		Data:          req.Data,
		Priority:      req.Priority,
		Status:        notification.StatusPending,
		SourceService: req.SourceService,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, claim); err != nil {
		if errors.Is(err, notification.ErrAlreadyExists) {
			// Lost the race to a concurrent send with the same key. The
			// winner dispatches; this caller replays.
			existing, gerr := s.repo.GetByID(ctx, id)
			if gerr != nil {
				return nil, fmt.Errorf("idempotency lookup after conflict: %w", gerr)
			}
			s.metrics.RecordIdempotentReplay()
			return &notification.SendResponse{
				Success:        true,
				NotificationID: existing.ID,
				Message:        "idempotent",
			}, nil
		}
		return nil, fmt.Errorf("claim notification %s: %w", id, err)
	}

	normalized := &channels.Request{
		NotificationID: id,
		TenantID:       req.TenantID,
		AccountID:      req.AccountID,
		Type:           req.Type,
		Title:          req.Title,
		Body:           req.Body,
		Data:           req.Data,
		Locale:         req.Locale,
		Priority:       req.Priority,
	}
	results := s.router.Route(ctx, normalized, requested)
	anySuccess := false
	for _, r := range results {
		if r.Result.Success {
			anySuccess = true
			break
		}
	}

	s.finalize(ctx, id, results)
	s.metrics.RecordDispatch(string(req.Type), anySuccess)
	if req.Type.SecurityClassified() {
		s.recordAudit(ctx, req, id, results, anySuccess)
	}

	if anySuccess {
		return &notification.SendResponse{
			Success:        true,
			NotificationID: id,
			Message:        fmt.Sprintf("Sent to %d channel(s)", successCount(results)),
		}, nil
	}
	return &notification.SendResponse{
		NotificationID: id,
		Message:        "Failed to send: " + joinedErrors(results),
	}, nil
}

// finalize settles the claimed row after routing. A successful in-app
// delivery already promoted it; otherwise the row records the first
// successful channel as sent, or the failure reasons.
func (s *DispatchService) finalize(ctx context.Context, id string, results []RouteResult) {
	for _, r := range results {
		if r.Channel == notification.ChannelInApp && r.Result.Success {
			return
		}
	}
	var err error
	if winner, ok := firstSuccess(results); ok {
		err = s.inApp.UpdateStatus(ctx, id, winner.Channel, notification.StatusSent, winner.Result.ExternalID, "")
	} else {
		err = s.inApp.UpdateStatus(ctx, id, "", notification.StatusFailed, "", joinedErrors(results))
	}
	if err != nil {
		s.logger.Error("failed to finalize notification row",
			zap.String("notification_id", id), zap.Error(err))
	}
}

func (s *DispatchService) recordAudit(ctx context.Context, req *notification.SendRequest, id string, results []RouteResult, anySuccess bool) {
	result := audit.ResultFailure
	if anySuccess {
		result = audit.ResultSuccess
	}
	attempted := make([]string, 0, len(results))
	for _, r := range results {
		attempted = append(attempted, string(r.Channel))
	}
	ev := &audit.Event{
		EventType:   audit.EventTypeFor(req.Type),
		AccountType: "user",
		AccountID:   req.AccountID,
		IPAddress:   sourceServiceTag,
		UserAgent:   sourceServiceTag,
		Result:      result,
		Metadata: map[string]string{
			"action":            "NOTIFICATION_SENT",
			"notification_id":   id,
			"channels":          strings.Join(attempted, ","),
			"notification_type": string(req.Type),
		},
	}
	if _, err := s.auditor.Record(ctx, ev); err != nil {
		s.metrics.RecordAuditFailure()
		s.logger.Error("audit record failed",
			zap.String("notification_id", id),
			zap.String("event_type", string(ev.EventType)),
			zap.Error(err))
	}
}

// SendBulk dispatches the items one by one so per-item idempotency
// keys keep their guarantees.
func (s *DispatchService) SendBulk(ctx context.Context, req *notification.BulkRequest) (*notification.BulkResponse, error) {
	req.TenantID = strings.TrimSpace(req.TenantID)
	if req.TenantID == "" {
		return nil, notification.ErrMissingTenant
	}
	if len(req.Notifications) == 0 {
		return nil, fmt.Errorf("%w: notifications are required", notification.ErrValidation)
	}

	resp := &notification.BulkResponse{TotalCount: len(req.Notifications)}
	for i := range req.Notifications {
		item := &req.Notifications[i]
		sendReq := &notification.SendRequest{
			TenantID:       req.TenantID,
			AccountID:      item.AccountID,
			Type:           item.Type,
			Channels:       item.Channels,
			Title:          item.Title,
			Body:           item.Body,
			Locale:         item.Locale,
			Data:           item.Data,
			SourceService:  req.SourceService,
			Priority:       item.Priority,
			IdempotencyKey: item.IdempotencyKey,
		}
		itemResult := notification.BulkItemResult{AccountID: item.AccountID}
		sendResp, err := s.Send(ctx, sendReq)
		switch {
		case err != nil:
			itemResult.Error = err.Error()
		case !sendResp.Success:
			itemResult.NotificationID = sendResp.NotificationID
			itemResult.Error = sendResp.Message
		default:
			itemResult.Success = true
			itemResult.NotificationID = sendResp.NotificationID
		}
		if itemResult.Success {
			resp.SentCount++
		} else {
			resp.FailedCount++
		}
		resp.Results = append(resp.Results, itemResult)
	}
	resp.Success = resp.FailedCount == 0
	return resp, nil
}

// List returns one page of the account's stored notifications.
func (s *DispatchService) List(ctx context.Context, req *notification.ListRequest) (*notification.ListResponse, error) {
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.TenantID == "" {
		return nil, notification.ErrMissingTenant
	}
	if req.AccountID == "" {
		return nil, notification.ErrMissingAccount
	}
	if req.Channel != "" && !req.Channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", notification.ErrValidation, req.Channel)
	}
	f := notification.Filter{
		TenantID:   req.TenantID,
		AccountID:  req.AccountID,
		Channel:    req.Channel,
		UnreadOnly: req.UnreadOnly,
		Page:       req.Page,
		PageSize:   req.PageSize,
	}
	f.Normalize()
	page, err := s.inApp.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return &notification.ListResponse{
		Notifications: page.Items,
		TotalCount:    page.TotalCount,
		UnreadCount:   page.UnreadCount,
		Page:          f.Page,
		PageSize:      f.PageSize,
	}, nil
}

func (s *DispatchService) MarkRead(ctx context.Context, req *notification.MarkReadRequest) (*notification.MarkReadResponse, error) {
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.TenantID == "" {
		return nil, notification.ErrMissingTenant
	}
	if req.AccountID == "" {
		return nil, notification.ErrMissingAccount
	}
	if len(req.NotificationIDs) == 0 {
		return nil, fmt.Errorf("%w: notification_ids are required", notification.ErrValidation)
	}
	updated, err := s.inApp.MarkAsRead(ctx, req.TenantID, req.AccountID, req.NotificationIDs)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return &notification.MarkReadResponse{Success: true, UpdatedCount: updated}, nil
}

// Status reports the stored delivery record. An unknown id is not an
// error; the response says so.
func (s *DispatchService) Status(ctx context.Context, notificationID string) (*notification.StatusResponse, error) {
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return nil, fmt.Errorf("%w: notification_id is required", notification.ErrValidation)
	}
	n, err := s.inApp.Status(ctx, notificationID)
	if errors.Is(err, notification.ErrNotFound) {
		return &notification.StatusResponse{
			NotificationID: notificationID,
			Status:         notification.StatusUnspecified,
			Error:          "Notification not found",
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("status lookup: %w", err)
	}
	resp := &notification.StatusResponse{
		NotificationID: n.ID,
		Status:         n.Status,
		Channel:        n.Channel,
		ExternalID:     n.ExternalID,
		Error:          n.Error,
		RetryCount:     n.RetryCount,
	}
	if n.SentAt != nil {
		secs := n.SentAt.Unix()
		resp.SentAt = &secs
	}
	if n.DeliveredAt != nil {
		secs := n.DeliveredAt.Unix()
		resp.DeliveredAt = &secs
	}
	return resp, nil
}

func firstSuccess(results []RouteResult) (RouteResult, bool) {
	for _, r := range results {
		if r.Result.Success {
			return r, true
		}
	}
	return RouteResult{}, false
}

func successCount(results []RouteResult) int {
	n := 0
	for _, r := range results {
		if r.Result.Success {
			n++
		}
	}
	return n
}

// joinedErrors flattens the per-channel failures for the response
// message and the stored error column.
func joinedErrors(results []RouteResult) string {
	if len(results) == 0 {
		return "no eligible channels"
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Result.Success {
			continue
		}
		msg := r.Result.Error
		if msg == "" {
			msg = "unknown error"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", r.Channel, msg))
	}
	return strings.Join(parts, "; ")
}
