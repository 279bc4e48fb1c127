package diffpatch

import (
	"strings"

	"github.com/pp-engine/pp/internal/errs"
)

const rewritePrefix = "file: "

// Rewrite is a single-file full-content replacement, used as the tier-3
// fallback when neither git apply nor the in-process hunk applier can
// apply a proposed diff (spec.md §4.E step 3).
type Rewrite struct {
	Path    string
	Content string
}

// ParseRewrite recognizes the fixed rewrite-block framing this repo commits
// to for the "single-file full-rewrite" fallback spec.md §4.E and §9 leave
// unspecified: a "file: <path>" line immediately followed by a fenced code
// block containing the complete new contents of that file.
//
//	file: <relative/path>
//	```
//	<full new file content>
//	```
//
// ParseRewrite returns ok=false if text does not match this framing, so
// callers can tell "no rewrite block present" apart from a malformed one.
func ParseRewrite(text string) (Rewrite, bool, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, rewritePrefix) {
			continue
		}

		path := strings.TrimSpace(strings.TrimPrefix(trimmed, rewritePrefix))
		if path == "" {
			return Rewrite{}, false, errs.New(errs.PatchParseError, "rewrite block: empty path on line %d", i+1)
		}

		if i+1 >= len(lines) || !isFenceOpen(lines[i+1]) {
			return Rewrite{}, false, errs.New(errs.PatchParseError, "rewrite block: %q not followed by a fenced code block", trimmed)
		}

		closeIdx := -1

		for j := i + 2; j < len(lines); j++ {
			if isFenceClose(lines[j]) {
				closeIdx = j
				break
			}
		}

		if closeIdx < 0 {
			return Rewrite{}, false, errs.New(errs.PatchParseError, "rewrite block for %s: unterminated fenced code block", path)
		}

		content := strings.Join(lines[i+2:closeIdx], "\n")
		if len(lines[i+2:closeIdx]) > 0 {
			content += "\n"
		}

		return Rewrite{Path: path, Content: content}, true, nil
	}

	return Rewrite{}, false, nil
}

func isFenceOpen(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "```")
}

func isFenceClose(line string) bool {
	return strings.TrimSpace(line) == "```"
}
