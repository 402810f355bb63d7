package engagement

import (
	"errors"
	"fmt"
)

// Sentinel failures that are never retried by this subsystem.
var (
	// ErrAuthRequired means the provider rejected our credentials. The caller
	// must re-authenticate; retrying here cannot help.
	ErrAuthRequired = errors.New("engagement: authentication required")

	// ErrConversationNotFound means no history could be resolved for the
	// conversation. Fatal for the call.
	ErrConversationNotFound = errors.New("engagement: conversation not found")
)

// TransportError marks a transient network or provider failure. The follow-up
// scheduler retries these; the dispatcher itself does not.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("engagement: transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TemplateRejectedError means the provider refused the template payload on the
// dedicated endpoint. The dispatcher falls back once to the generic endpoint.
type TemplateRejectedError struct {
	Template string
	Err      error
}

func (e *TemplateRejectedError) Error() string {
	return fmt.Sprintf("engagement: template %q rejected: %v", e.Template, e.Err)
}

func (e *TemplateRejectedError) Unwrap() error { return e.Err }

// IsRetryable reports whether the follow-up scheduler should retry after err.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthRequired) || errors.Is(err, ErrConversationNotFound) {
		return false
	}
	return true
}
