// Package pipeline holds the error taxonomy and retry helpers shared by the
// onboarding and write-back orchestrators.
package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransientIO covers locked files and network blips. It is retried locally
	// by the stage that hit it and never fails a track on its own.
	ErrTransientIO = errors.New("transient io failure")
	// ErrFormat marks unsupported or corrupt input.
	ErrFormat = errors.New("format error")
	// ErrDuplicateContent marks an upload whose hash already exists for the owner.
	ErrDuplicateContent = errors.New("duplicate content")
	// ErrEncoderFailure marks a nonzero encoder exit or missing output.
	ErrEncoderFailure = errors.New("encoder failure")
	// ErrLeaseConflict means a release did not match the held lease.
	ErrLeaseConflict = errors.New("lease conflict")
	// ErrNotFound marks a missing blob or row the pipeline expected to exist.
	ErrNotFound = errors.New("not found")
	// ErrDeferred means the item was requeued untouched because the track is
	// not ready for it yet. It is not a failure.
	ErrDeferred = errors.New("work deferred")
)

// Kind is the classification of an error for logging and failure policy.
type Kind string

const (
	KindNone       Kind = ""
	KindTransient  Kind = "transient_io"
	KindFormat     Kind = "format"
	KindDuplicate  Kind = "duplicate_content"
	KindEncoder    Kind = "encoder_failure"
	KindLease      Kind = "lease_conflict"
	KindNotFound   Kind = "not_found"
	KindDeferred   Kind = "deferred"
	KindUnexpected Kind = "unexpected"
)

// Classify maps err onto the taxonomy.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrDuplicateContent):
		return KindDuplicate
	case errors.Is(err, ErrFormat):
		return KindFormat
	case errors.Is(err, ErrEncoderFailure):
		return KindEncoder
	case errors.Is(err, ErrLeaseConflict):
		return KindLease
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDeferred):
		return KindDeferred
	case errors.Is(err, ErrTransientIO):
		return KindTransient
	default:
		return KindUnexpected
	}
}

// Wrap tags err with marker and prefixes the stage and operation names.
func Wrap(marker error, stage, operation string, err error) error {
	detail := buildDetail(stage, operation)
	if marker == nil {
		if err == nil {
			return fmt.Errorf("%s", detail)
		}
		return fmt.Errorf("%s: %w", detail, err)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(stage, operation string) string {
	parts := make([]string, 0, 2)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
