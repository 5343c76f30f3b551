// Package channels contains the per-channel delivery adapters. Every
// adapter turns one normalized request into a provider call and a
// uniform result; failures surface in the result, never as errors.
package channels

import (
	"context"

	"github.com/beegy-labs/notification-service/internal/domain/notification"
)

// Request is the normalized delivery request shared by all adapters.
type Request struct {
	NotificationID string
	TenantID       string
	AccountID      string
	Type           notification.Type
	Title          string
	Body           string
	Data           map[string]string
	Locale         string
	Priority       notification.Priority
}

// Data keys the adapters read from the request data map.
const (
	DataKeyPhoneNumber = "phone_number"
	DataKeyEmail       = "email"
	DataKeyFromEmail   = "from_email"
	DataKeyLink        = "link"
)

// Result is the uniform adapter outcome.
type Result struct {
	Success    bool   `json:"success"`
	ExternalID string `json:"external_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Adapter delivers to one channel.
type Adapter interface {
	Channel() notification.Channel
	Send(ctx context.Context, req *Request) Result
}

// Registry holds the adapters keyed by channel so the router carries no
// hard-wired call sites. It is built once at startup and read-only
// afterwards.
type Registry struct {
	adapters map[notification.Channel]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[notification.Channel]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Channel()] = a
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Channel()] = a
}

func (r *Registry) Get(c notification.Channel) (Adapter, bool) {
	a, ok := r.adapters[c]
	return a, ok
}

// Channels lists the registered channels in canonical order.
func (r *Registry) Channels() []notification.Channel {
	out := make([]notification.Channel, 0, len(r.adapters))
	for _, c := range notification.AllChannels {
		if _, ok := r.adapters[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
