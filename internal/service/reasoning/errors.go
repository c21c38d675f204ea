package reasoning

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"readable/internal/credential"
)

var (
	ErrQuotaExhausted    = errors.New("reasoning quota exhausted")
	ErrTransport         = errors.New("reasoning transport failure")
	ErrUpstream          = errors.New("reasoning upstream failure")
	ErrMissingCredential = errors.New("reasoning credential missing")
)

const (
	QuotaMessage = "QUOTA_EXHAUSTED: You've reached the reasoning limit for your current API key. " +
		"Please try again later or use a project with higher limits."
	UpstreamFallbackMessage   = "Failed to get a response from the reasoning engine."
	TransportMessage          = "Could not reach the reasoning service. Check the connection and try again."
	MissingCredentialMessage  = "The reasoning service credential is not configured."
	UnusableCredentialMessage = "The configured reasoning service credential could not be used."
)

type Kind int

const (
	KindUpstream Kind = iota
	KindQuota
	KindTransport
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindQuota:
		return "quota"
	case KindTransport:
		return "transport"
	case KindConfig:
		return "config"
	default:
		return "upstream"
	}
}

// Error is the failure of one reasoning call. Message is safe to show to users.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

func (k Kind) sentinel() error {
	switch k {
	case KindQuota:
		return ErrQuotaExhausted
	case KindTransport:
		return ErrTransport
	case KindConfig:
		return ErrMissingCredential
	default:
		return ErrUpstream
	}
}

// Classify maps a backend error onto the failure taxonomy.
// Rate-limit signals win over everything else, including transport failures.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr
	}
	if errors.Is(err, credential.ErrUnusable) {
		return &Error{Kind: KindConfig, Message: UnusableCredentialMessage, Err: err}
	}
	if errors.Is(err, credential.ErrMissing) {
		return &Error{Kind: KindConfig, Message: MissingCredentialMessage, Err: err}
	}

	if apiErr, ok := asAPIError(err); ok {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return &Error{Kind: KindQuota, Message: QuotaMessage, Err: err}
		}
		return &Error{Kind: KindUpstream, Message: nonEmpty(apiErr.Message, UpstreamFallbackMessage), Err: err}
	}

	msg := err.Error()
	if strings.Contains(msg, strconv.Itoa(http.StatusTooManyRequests)) || strings.Contains(msg, "RESOURCE_EXHAUSTED") {
		return &Error{Kind: KindQuota, Message: QuotaMessage, Err: err}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return &Error{Kind: KindTransport, Message: TransportMessage, Err: err}
	}

	return &Error{Kind: KindUpstream, Message: nonEmpty(msg, UpstreamFallbackMessage), Err: err}
}

func asAPIError(err error) (*genai.APIError, bool) {
	var value genai.APIError
	if errors.As(err, &value) {
		return &value, true
	}
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr, true
	}
	return nil, false
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
