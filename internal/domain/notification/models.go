package notification

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// AllChannels lists the supported channels in canonical order.
var AllChannels = []Channel{ChannelInApp, ChannelPush, ChannelSMS, ChannelEmail}

func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelPush, ChannelSMS, ChannelEmail:
		return true
	}
	return false
}

func (c Channel) String() string { return string(c) }

// ParseChannel converts a wire string into a Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown channel %q", ErrValidation, s)
	}
	return c, nil
}

// Type is the semantic category of a notification. It drives channel
// policy, email template selection, and audit classification.
type Type string

const (
	TypeUnspecified   Type = "unspecified"
	TypeSystem        Type = "system"
	TypeAdminInvite   Type = "admin_invite"
	TypePartnerInvite Type = "partner_invite"
	TypePasswordReset Type = "password_reset"
	TypeSecurityAlert Type = "security_alert"
	TypeMFACode       Type = "mfa_code"
	TypeAccountLocked Type = "account_locked"
	TypeLoginAlert    Type = "login_alert"
	TypeMarketing     Type = "marketing"
)

// AllTypes lists the concrete notification types in canonical order.
var AllTypes = []Type{
	TypeSystem,
	TypeAdminInvite,
	TypePartnerInvite,
	TypePasswordReset,
	TypeSecurityAlert,
	TypeMFACode,
	TypeAccountLocked,
	TypeLoginAlert,
	TypeMarketing,
}

func (t Type) Valid() bool {
	switch t {
	case TypeSystem, TypeAdminInvite, TypePartnerInvite, TypePasswordReset,
		TypeSecurityAlert, TypeMFACode, TypeAccountLocked, TypeLoginAlert,
		TypeMarketing:
		return true
	}
	return false
}

func (t Type) String() string { return string(t) }

// SecurityClassified reports whether a dispatch of this type must produce
// an audit event.
func (t Type) SecurityClassified() bool {
	switch t {
	case TypeSecurityAlert, TypeMFACode, TypeAccountLocked, TypeLoginAlert, TypePasswordReset:
		return true
	}
	return false
}

// Status is the delivery state of a stored notification.
type Status string

const (
	StatusUnspecified Status = "unspecified"
	StatusPending     Status = "pending"
	StatusSent        Status = "sent"
	StatusDelivered   Status = "delivered"
	StatusFailed      Status = "failed"
	StatusRead        Status = "read"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusFailed, StatusRead:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// IsFinal reports whether the status can no longer move forward through
// the delivery lifecycle. Read rows are never downgraded.
func (s Status) IsFinal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusRead:
		return true
	}
	return false
}

// Priority is the ordinal severity of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityNormal: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

func (p Priority) String() string { return string(p) }

// AtLeast reports whether p ranks at or above other.
func (p Priority) AtLeast(other Priority) bool {
	return priorityRank[p] >= priorityRank[other]
}

// Platform identifies the device platform of a push token.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return true
	}
	return false
}

func (p Platform) String() string { return string(p) }

// RecommendedChannels is the fallback channel set applied when a send
// request names no channels. High-severity and security traffic reaches
// every interactive channel; marketing stays on email.
func RecommendedChannels(t Type, p Priority) []Channel {
	switch {
	case p.AtLeast(PriorityHigh):
		return []Channel{ChannelInApp, ChannelPush, ChannelEmail}
	case t.SecurityClassified():
		return []Channel{ChannelInApp, ChannelPush, ChannelEmail}
	case t == TypeMarketing:
		return []Channel{ChannelEmail}
	default:
		return []Channel{ChannelInApp, ChannelEmail}
	}
}

// Notification is the record of one logical dispatch to one account.
// The id doubles as the idempotency key when the caller supplies one.
type Notification struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	AccountID     string            `json:"account_id"`
	Type          Type              `json:"type"`
	Channel       Channel           `json:"channel"`
	Title         string            `json:"title"`
	Body          string            `json:"body,omitempty"`
	Data          map[string]string `json:"data,omitempty"`
	Priority      Priority          `json:"priority"`
	Status        Status            `json:"status"`
	SourceService string            `json:"source_service,omitempty"`
	ExternalID    string            `json:"external_id,omitempty"`
	Error         string            `json:"error,omitempty"`
	RetryCount    int               `json:"retry_count"`
	SentAt        *time.Time        `json:"sent_at,omitempty"`
	DeliveredAt   *time.Time        `json:"delivered_at,omitempty"`
	ReadAt        *time.Time        `json:"read_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Clone returns a deep copy safe for concurrent readers.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	out := *n
	if n.Data != nil {
		out.Data = make(map[string]string, len(n.Data))
		for k, v := range n.Data {
			out.Data[k] = v
		}
	}
	out.SentAt = cloneTime(n.SentAt)
	out.DeliveredAt = cloneTime(n.DeliveredAt)
	out.ReadAt = cloneTime(n.ReadAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Filter selects stored notifications for one account.
type Filter struct {
	TenantID   string
	AccountID  string
	Channel    Channel
	UnreadOnly bool
	Page       int
	PageSize   int
}

// Normalize clamps pagination to sane bounds.
func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
}

// Page is one page of stored notifications. UnreadCount spans every
// channel for the account regardless of the filter.
type Page struct {
	Items       []*Notification
	TotalCount  int64
	UnreadCount int64
}

// Repository is the persistence contract for notifications. Create must
// be exclusive on id so concurrent sends with the same idempotency key
// serialize on the row insert.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id string) (*Notification, error)
	Update(ctx context.Context, n *Notification) error
	List(ctx context.Context, f Filter) (*Page, error)
	MarkRead(ctx context.Context, tenantID, accountID string, ids []string, at time.Time) (int64, error)
}

// SendRequest asks for one notification to be dispatched to one account.
type SendRequest struct {
	TenantID       string            `json:"tenant_id" validate:"required"`
	AccountID      string            `json:"account_id" validate:"required"`
	Type           Type              `json:"type"`
	Channels       []Channel         `json:"channels"`
	Title          string            `json:"title" validate:"required"`
	Body           string            `json:"body"`
	Locale         string            `json:"locale"`
	Data           map[string]string `json:"data"`
	SourceService  string            `json:"source_service"`
	Priority       Priority          `json:"priority"`
	IdempotencyKey string            `json:"idempotency_key"`
	ExpiresAt      *time.Time        `json:"expires_at"`
}

// Validate normalizes the request in place and rejects malformed input.
func (r *SendRequest) Validate() error {
	r.TenantID = strings.TrimSpace(r.TenantID)
	r.AccountID = strings.TrimSpace(r.AccountID)
	r.Title = strings.TrimSpace(r.Title)
	if r.TenantID == "" {
		return ErrMissingTenant
	}
	if r.AccountID == "" {
		return ErrMissingAccount
	}
	if r.Title == "" {
		return ErrMissingTitle
	}
	if r.Type == "" {
		r.Type = TypeUnspecified
	}
	if r.Type != TypeUnspecified && !r.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrValidation, r.Type)
	}
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	if !r.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, r.Priority)
	}
	for _, c := range r.Channels {
		if !c.Valid() {
			return fmt.Errorf("%w: unknown channel %q", ErrValidation, c)
		}
	}
	if r.Locale == "" {
		r.Locale = "en"
	}
	return nil
}

type SendResponse struct {
	Success        bool   `json:"success"`
	NotificationID string `json:"notification_id"`
	Message        string `json:"message"`
}

// BulkItem is one entry of a bulk send. Tenant and source come from the
// enclosing request.
type BulkItem struct {
	AccountID      string            `json:"account_id" validate:"required"`
	Type           Type              `json:"type"`
	Channels       []Channel         `json:"channels"`
	Title          string            `json:"title" validate:"required"`
	Body           string            `json:"body"`
	Locale         string            `json:"locale"`
	Data           map[string]string `json:"data"`
	Priority       Priority          `json:"priority"`
	IdempotencyKey string            `json:"idempotency_key"`
}

type BulkRequest struct {
	TenantID      string     `json:"tenant_id" validate:"required"`
	Notifications []BulkItem `json:"notifications" validate:"required,min=1,dive"`
	SourceService string     `json:"source_service"`
}

type BulkItemResult struct {
	AccountID      string `json:"account_id"`
	Success        bool   `json:"success"`
	NotificationID string `json:"notification_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

type BulkResponse struct {
	Success     bool             `json:"success"`
	TotalCount  int              `json:"total_count"`
	SentCount   int              `json:"sent_count"`
	FailedCount int              `json:"failed_count"`
	Results     []BulkItemResult `json:"results"`
}

type ListRequest struct {
	TenantID   string  `json:"tenant_id" validate:"required"`
	AccountID  string  `json:"account_id" validate:"required"`
	Channel    Channel `json:"channel"`
	UnreadOnly bool    `json:"unread_only"`
	Page       int     `json:"page"`
	PageSize   int     `json:"page_size"`
}

type ListResponse struct {
	Notifications []*Notification `json:"notifications"`
	TotalCount    int64           `json:"total_count"`
	UnreadCount   int64           `json:"unread_count"`
	Page          int             `json:"page"`
	PageSize      int             `json:"page_size"`
}

type MarkReadRequest struct {
	TenantID        string   `json:"tenant_id" validate:"required"`
	AccountID       string   `json:"account_id" validate:"required"`
	NotificationIDs []string `json:"notification_ids" validate:"required,min=1"`
}

type MarkReadResponse struct {
	Success      bool  `json:"success"`
	UpdatedCount int64 `json:"updated_count"`
}

// StatusResponse reports the stored delivery record for any channel.
// Timestamps are seconds since epoch.
type StatusResponse struct {
	NotificationID string  `json:"notification_id"`
	Status         Status  `json:"status"`
	Channel        Channel `json:"channel,omitempty"`
	ExternalID     string  `json:"external_id,omitempty"`
	SentAt         *int64  `json:"sent_at,omitempty"`
	DeliveredAt    *int64  `json:"delivered_at,omitempty"`
	Error          string  `json:"error,omitempty"`
	RetryCount     int     `json:"retry_count"`
}

// Service is the public dispatch and query surface.
type Service interface {
	Send(ctx context.Context, req *SendRequest) (*SendResponse, error)
	SendBulk(ctx context.Context, req *BulkRequest) (*BulkResponse, error)
	List(ctx context.Context, req *ListRequest) (*ListResponse, error)
	MarkRead(ctx context.Context, req *MarkReadRequest) (*MarkReadResponse, error)
	Status(ctx context.Context, notificationID string) (*StatusResponse, error)
}
