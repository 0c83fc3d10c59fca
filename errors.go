package rowguard

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports malformed input: a bad domain, a missing policy
// field, an unknown action or condition name. It is always surfaced to the
// caller and never coerced into a decision.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// LookupError wraps a failed repository, actor, or resource-metadata call.
// Evaluation treats it as fail-closed: the decision is deny, the error is
// returned for the caller layer to log. Retries belong to the store adapter,
// not here.
type LookupError struct {
	Kind string // "actor", "resource-meta", "policy", "relationship"
	Key  string
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s %q: %v", e.Kind, e.Key, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// IsLookup reports whether err is (or wraps) a LookupError.
func IsLookup(err error) bool {
	var l *LookupError
	return errors.As(err, &l)
}

// ConflictError rejects a policy removal whose subject role is still assigned
// to at least one actor in the policy's domain. Removing such a policy would
// leave dangling grants.
type ConflictError struct {
	Subject string
	Domain  string
	Actors  []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: role %q in domain %q still assigned to %s",
		e.Subject, e.Domain, strings.Join(e.Actors, ", "))
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
