package policy

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Reason is the stable enum returned alongside a rejected evaluation
// (spec §4.D "Output").
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonCommandNotAllowed  Reason = "command_not_allowed"
	ReasonPathNotAllowed     Reason = "path_not_allowed"
	ReasonTooManyFiles       Reason = "too_many_files"
	ReasonPatchTooLarge      Reason = "patch_too_large"
)

// Result is the outcome of a policy evaluation.
type Result struct {
	Allowed bool
	Reason  Reason
	Detail  string
}

func allow() Result { return Result{Allowed: true} }

func deny(reason Reason, detail string) Result {
	return Result{Allowed: false, Reason: reason, Detail: detail}
}

// CommandAllowed reports whether the target command string, or its argv
// vector, is a member of the policy's allowlists (spec §4.D "Command
// check"). Per the §9 Open Question, allowed_commands and allowed_argv are
// a union: either one granting permission is sufficient.
func (p *Policy) CommandAllowed(cmd string, argv []string) bool {
	if cmd != "" && slices.Contains(p.AllowedCommands, cmd) {
		return true
	}

	if len(argv) == 0 {
		return false
	}

	for _, allowed := range p.AllowedArgv {
		if slices.Equal(allowed, argv) {
			return true
		}
	}

	return false
}

// PathAllowed reports whether a normalized, sandbox-relative write path is
// permitted (spec §4.D "Path check"): it must match at least one
// write_allowlist glob and no deny_write glob; deny wins on overlap.
//
// p must be a clean, slash-separated, sandbox-relative path; callers are
// responsible for normalizing (see NormalizeWritePath) and rejecting ".."
// or absolute paths before calling PathAllowed.
func (pol *Policy) PathAllowed(p string) bool {
	for _, deny := range pol.DenyWrite {
		if globMatch(deny, p) {
			return false
		}
	}

	for _, ok := range pol.WriteAllowlist {
		if globMatch(ok, p) {
			return true
		}
	}

	return false
}

// globMatch implements the glob semantics required by spec §4.D: "*"
// matches within a single path segment, "**" matches any number of
// segments, "?" matches one character. doublestar.Match implements
// exactly this semantics (unlike filepath.Glob, which has no "**").
func globMatch(pattern, p string) bool {
	ok, err := doublestar.Match(pattern, p)
	if err != nil {
		return false
	}

	return ok
}

// NormalizeWritePath cleans a candidate write path to a sandbox-relative,
// slash-separated form and reports whether it is safe to evaluate (i.e.
// does not escape the sandbox root via ".." or an absolute path).
func NormalizeWritePath(p string) (string, bool) {
	if p == "" {
		return "", false
	}

	cleaned := path.Clean(filepathToSlash(p))

	if path.IsAbs(cleaned) {
		return "", false
	}

	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}

	return cleaned, true
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// EvaluatePatch applies the full §4.D evaluation to a candidate patch:
// command check (left to the caller, since it is target-level not
// patch-level), file count, serialized byte size, and every touched
// path's allow/deny status.
func (pol *Policy) EvaluatePatch(touchedPaths []string, patchBytes int) Result {
	if len(touchedPaths) > pol.Limits.MaxFilesChanged {
		return deny(ReasonTooManyFiles, fmt.Sprintf("patch touches %d files, limit is %d", len(touchedPaths), pol.Limits.MaxFilesChanged))
	}

	if patchBytes > pol.Limits.MaxPatchBytes {
		return deny(ReasonPatchTooLarge, fmt.Sprintf("patch is %d bytes, limit is %d", patchBytes, pol.Limits.MaxPatchBytes))
	}

	for _, p := range touchedPaths {
		norm, ok := NormalizeWritePath(p)
		if !ok || !pol.PathAllowed(norm) {
			return deny(ReasonPathNotAllowed, "path not allowed: "+p)
		}
	}

	return allow()
}
