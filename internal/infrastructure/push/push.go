// Package push defines the provider-agnostic batch push contract. The
// error taxonomy lets callers evict dead tokens without depending on any
// one SDK's error shapes.
package push

import "context"

// Code classifies the outcome of one per-token send.
type Code int

const (
	CodeOK Code = iota
	CodeInvalidToken
	CodeNotRegistered
	CodeRateLimited
	CodeTransient
	CodeFatal
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeInvalidToken:
		return "invalid_token"
	case CodeNotRegistered:
		return "not_registered"
	case CodeRateLimited:
		return "rate_limited"
	case CodeTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// DeadToken reports whether the token behind this outcome should be
// evicted from the registry.
func (c Code) DeadToken() bool {
	return c == CodeInvalidToken || c == CodeNotRegistered
}

// Message is a provider-neutral multicast payload. Platform-specific
// knobs are precomputed by the caller so providers stay mapping-free.
type Message struct {
	Tokens []string
	Title  string
	Body   string
	Data   map[string]string

	AndroidPriority string
	AndroidChannel  string
	APNSPriority    string

	WebRequireInteraction bool
	WebLink               string
}

// SendResult is the outcome for one token.
type SendResult struct {
	MessageID string
	Code      Code
	Err       error
}

func (r SendResult) OK() bool { return r.Code == CodeOK }

type MulticastResult struct {
	SuccessCount int
	FailureCount int
	Results      []SendResult
}

// Provider dispatches one multicast message. Implementations must return
// per-token results in the order of msg.Tokens.
type Provider interface {
	Name() string
	SendMulticast(ctx context.Context, msg *Message) (*MulticastResult, error)
}
