package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrCycle               = errors.New("sponsor assignment would create a cycle")
	ErrAlreadyAttached     = errors.New("member already has a sponsor")
	ErrRateConfigMissing   = errors.New("no active rate configuration")
	ErrRateVersionNotFound = errors.New("rate configuration version not found")
	ErrMemberNotFound      = errors.New("member not found")
	ErrUnknownReferralCode = errors.New("unknown referral code")
	ErrEventNotFound       = errors.New("commission event not found")
	ErrEventConflict       = errors.New("event id already used with a different payload")
	ErrAncestorResolution  = errors.New("ancestor chain could not be resolved")
	ErrValidation          = errors.New("validation failed")
)

// CycleError rejects a sponsor assignment.
type CycleError struct {
	MemberID  string
	SponsorID string
	Reason    string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cannot attach %q under %q: %s", e.MemberID, e.SponsorID, e.Reason)
}

func (e *CycleError) Is(target error) bool { return target == ErrCycle }

// AncestorResolutionError reports a corrupted sponsor chain met during distribution.
type AncestorResolutionError struct {
	MemberID string
	Path     []string
	Reason   string
}

func (e *AncestorResolutionError) Error() string {
	return fmt.Sprintf("ancestor chain of %q broken (%s) after %s", e.MemberID, e.Reason, strings.Join(e.Path, " -> "))
}

func (e *AncestorResolutionError) Is(target error) bool { return target == ErrAncestorResolution }

// ValidationError lists the offending fields of a rejected input.
type ValidationError struct {
	Fields map[string]string
}

func newValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

func (e *ValidationError) add(field, problem string) {
	e.Fields[field] = problem
}

func (e *ValidationError) empty() bool { return len(e.Fields) == 0 }

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
