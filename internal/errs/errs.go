// Package errs defines the tagged error results shared by every component
// boundary in this repository (see spec §7 and §9's "Exceptions for
// control flow" design note).
package errs

import (
	"errors"
	"fmt"
)

// Kind is a stable, user-facing error category.
type Kind string

const (
	// CommandNotAllowed means the requested target command/argv is not a
	// member of the policy's allowed_commands or allowed_argv.
	CommandNotAllowed Kind = "command_not_allowed"
	// PathNotAllowed means a write path failed the policy's allow/deny glob check.
	PathNotAllowed Kind = "path_not_allowed"
	// TooManyFiles means a patch changes more files than max_files_changed.
	TooManyFiles Kind = "too_many_files"
	// PatchTooLarge means a patch's serialized size exceeds max_patch_bytes.
	PatchTooLarge Kind = "patch_too_large"
	// PatchParseError means unified diff text could not be parsed.
	PatchParseError Kind = "patch_parse_error"
	// PatchApplyFailed means a parsed patch could not be applied to the sandbox.
	PatchApplyFailed Kind = "patch_apply_failed"
	// CommandTimeout means a verification command exceeded per_command_timeout_sec.
	CommandTimeout Kind = "command_timeout"
	// ProposerError means the external patch proposer failed or errored.
	ProposerError Kind = "proposer_error"
	// AttestationMismatch means a recomputed manifest/signature did not match.
	AttestationMismatch Kind = "attestation_mismatch"
	// IOError means an unrecoverable filesystem or process I/O failure occurred.
	IOError Kind = "io_error"
	// Canceled means a top-level cancellation request was observed.
	Canceled Kind = "canceled"
	// InvalidConfig means a policy document failed schema validation.
	InvalidConfig Kind = "invalid_config"
)

// E is a tagged error result: a stable Kind plus human detail and an
// optional wrapped cause.
type E struct {
	Kind   Kind
	Detail string
	Err    error
}

// New constructs an *E with the given kind and formatted detail.
func New(kind Kind, format string, args ...any) *E {
	return &E{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *E wrapping an existing error.
func Wrap(kind Kind, err error, format string, args ...any) *E {
	return &E{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *E) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// As reports whether err is (or wraps) an *E and returns it.
func As(err error) (*E, bool) {
	var target *E

	ok := errors.As(err, &target)

	return target, ok
}
