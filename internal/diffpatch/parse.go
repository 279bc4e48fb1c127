package diffpatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pp-engine/pp/internal/errs"
)

const devNull = "/dev/null"

// Parse parses unified-diff text per spec.md §3/§4.E: conventional
// "--- a/<path>" / "+++ b/<path>" headers, "@@ -l,s +l,s @@" hunk headers,
// /dev/null old/new paths for create/delete, and "rename from"/"rename to"
// lines. Line endings are normalized to LF for the returned Lines; the raw
// bytes callers received are left untouched (normalization happens only on
// this parsed copy, per spec.md's "normalize for hashing, preserve for
// storage" instruction — callers that need the original bytes keep them
// separately).
//
// Malformed headers, hunk size mismatches, and overlapping hunks are
// rejected with a *errs.E of kind errs.PatchParseError.
func Parse(diffText string) (Patch, error) {
	text := strings.ReplaceAll(diffText, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	var (
		patch Patch
		i     = 0
	)

	for i < len(lines) {
		line := lines[i]

		if !strings.HasPrefix(line, "--- ") {
			i++
			continue
		}

		fc, next, err := parseFileChange(lines, i)
		if err != nil {
			return Patch{}, err
		}

		if err := fc.validateHunks(); err != nil {
			return Patch{}, err
		}

		patch.Files = append(patch.Files, fc)
		i = next
	}

	return patch, nil
}

// validateHunks enforces the per-hunk line-count invariant and the
// no-overlapping-hunks invariant (spec §3, §4.E) for one FileChange.
func (fc FileChange) validateHunks() error {
	for _, h := range fc.Hunks {
		if err := h.validate(); err != nil {
			return errs.Wrap(errs.PatchParseError, err, "file %s", fc.displayPath())
		}
	}

	if a, b, ok := fc.overlapsAny(); ok {
		return errs.New(errs.PatchParseError, "file %s: overlapping hunks @@ -%d,%d @@ and @@ -%d,%d @@", fc.displayPath(), a.OldStart, a.OldLen, b.OldStart, b.OldLen)
	}

	return nil
}

func (fc FileChange) displayPath() string {
	if fc.NewPath != "" && fc.NewPath != devNull {
		return fc.NewPath
	}

	return fc.OldPath
}

// parseFileChange parses one "--- "/"+++ " file header block plus its
// hunks, starting at lines[start] (which must be the "--- " line), and
// returns the index of the first line not consumed.
func parseFileChange(lines []string, start int) (FileChange, int, error) {
	oldHeader := lines[start]

	if start+1 >= len(lines) || !strings.HasPrefix(lines[start+1], "+++ ") {
		return FileChange{}, 0, errs.New(errs.PatchParseError, "line %d: %q not followed by a +++ header", start+1, oldHeader)
	}

	newHeader := lines[start+1]

	oldPath, ok := parseDiffPath(oldHeader, "--- ")
	if !ok {
		return FileChange{}, 0, errs.New(errs.PatchParseError, "line %d: malformed --- header %q", start+1, oldHeader)
	}

	newPath, ok := parseDiffPath(newHeader, "+++ ")
	if !ok {
		return FileChange{}, 0, errs.New(errs.PatchParseError, "line %d: malformed +++ header %q", start+2, newHeader)
	}

	renameFrom, renameTo := scanRenameLines(lines, start)

	fc := FileChange{
		OldPath: oldPath,
		NewPath: newPath,
		Mode:    classifyMode(oldPath, newPath, renameFrom, renameTo),
	}

	if fc.Mode == ModeRename {
		fc.OldPath = renameFrom
		fc.NewPath = renameTo
	}

	i := start + 2

	for i < len(lines) && strings.HasPrefix(lines[i], "@@ ") {
		hunk, next, err := parseHunk(lines, i)
		if err != nil {
			return FileChange{}, 0, err
		}

		fc.Hunks = append(fc.Hunks, hunk)
		i = next
	}

	return fc, i, nil
}

// scanRenameLines looks immediately before a "--- "/"+++ " header pair for
// git-style "rename from"/"rename to" lines, which precede the unified diff
// headers for a pure rename.
func scanRenameLines(lines []string, headerStart int) (from, to string) {
	for j := headerStart - 1; j >= 0 && j >= headerStart-6; j-- {
		line := lines[j]

		switch {
		case strings.HasPrefix(line, "rename from "):
			from = strings.TrimPrefix(line, "rename from ")
		case strings.HasPrefix(line, "rename to "):
			to = strings.TrimPrefix(line, "rename to ")
		}
	}

	return from, to
}

func classifyMode(oldPath, newPath, renameFrom, renameTo string) Mode {
	switch {
	case renameFrom != "" && renameTo != "":
		return ModeRename
	case oldPath == devNull:
		return ModeCreate
	case newPath == devNull:
		return ModeDelete
	default:
		return ModeModify
	}
}

// parseDiffPath extracts the path out of a "--- a/<path>" / "+++ b/<path>"
// style header line, stripping the conventional a/ or b/ prefix and any
// trailing tab-separated timestamp. "/dev/null" is returned verbatim.
func parseDiffPath(header, marker string) (string, bool) {
	rest := strings.TrimPrefix(header, marker)
	if rest == "" {
		return "", false
	}

	if tab := strings.IndexByte(rest, '\t'); tab >= 0 {
		rest = rest[:tab]
	}

	rest = strings.TrimRight(rest, " ")

	if rest == devNull {
		return devNull, true
	}

	if len(rest) > 2 && (rest[:2] == "a/" || rest[:2] == "b/") {
		return rest[2:], true
	}

	return rest, true
}

// parseHunk parses one "@@ -l,s +l,s @@" header and its body lines,
// starting at lines[start], stopping at the next header, the next file's
// "--- " line, or end of input.
func parseHunk(lines []string, start int) (Hunk, int, error) {
	oldStart, oldLen, newStart, newLen, err := parseHunkHeader(lines[start])
	if err != nil {
		return Hunk{}, 0, err
	}

	hunk := Hunk{OldStart: oldStart, OldLen: oldLen, NewStart: newStart, NewLen: newLen}

	i := start + 1

	for i < len(lines) {
		line := lines[i]

		if line == "" {
			// blank lines running to the end of input (including the one
			// the final Split produces) are trailing whitespace, not hunk
			// content.
			rest := i + 1
			for rest < len(lines) && lines[rest] == "" {
				rest++
			}

			if rest == len(lines) {
				break
			}
		}

		if strings.HasPrefix(line, "@@ ") || strings.HasPrefix(line, "--- ") {
			break
		}

		if strings.HasPrefix(line, "\\ No newline at end of file") {
			i++
			continue
		}

		tag, text, ok := classifyLine(line)
		if !ok {
			return Hunk{}, 0, errs.New(errs.PatchParseError, "line %d: unrecognized diff line %q", i+1, line)
		}

		hunk.Lines = append(hunk.Lines, Line{Tag: tag, Text: text})
		i++
	}

	return hunk, i, nil
}

func classifyLine(line string) (LineTag, string, bool) {
	if line == "" {
		return LineContext, "", true
	}

	switch line[0] {
	case ' ':
		return LineContext, line[1:], true
	case '+':
		return LineAdd, line[1:], true
	case '-':
		return LineRemove, line[1:], true
	default:
		return "", "", false
	}
}

// parseHunkHeader parses "@@ -oldStart,oldLen +newStart,newLen @@" (the
// ",len" suffix is optional and defaults to 1, per conventional unified
// diff practice).
func parseHunkHeader(header string) (oldStart, oldLen, newStart, newLen int, err error) {
	body := strings.TrimPrefix(header, "@@ ")

	end := strings.Index(body, " @@")
	if end < 0 {
		return 0, 0, 0, 0, errs.New(errs.PatchParseError, "malformed hunk header %q", header)
	}

	body = body[:end]

	fields := strings.Fields(body)
	if len(fields) != 2 {
		return 0, 0, 0, 0, errs.New(errs.PatchParseError, "malformed hunk header %q", header)
	}

	oldStart, oldLen, err = parseRange(fields[0], '-')
	if err != nil {
		return 0, 0, 0, 0, errs.New(errs.PatchParseError, "malformed hunk header %q: %v", header, err)
	}

	newStart, newLen, err = parseRange(fields[1], '+')
	if err != nil {
		return 0, 0, 0, 0, errs.New(errs.PatchParseError, "malformed hunk header %q: %v", header, err)
	}

	return oldStart, oldLen, newStart, newLen, nil
}

func parseRange(field string, want byte) (start, length int, err error) {
	if len(field) == 0 || field[0] != want {
		return 0, 0, fmt.Errorf("range %q must start with %q", field, want)
	}

	field = field[1:]

	start = 1
	length = 1

	if comma := strings.IndexByte(field, ','); comma >= 0 {
		start, err = strconv.Atoi(field[:comma])
		if err != nil {
			return 0, 0, fmt.Errorf("range %q: %w", field, err)
		}

		length, err = strconv.Atoi(field[comma+1:])
		if err != nil {
			return 0, 0, fmt.Errorf("range %q: %w", field, err)
		}

		return start, length, nil
	}

	start, err = strconv.Atoi(field)
	if err != nil {
		return 0, 0, fmt.Errorf("range %q: %w", field, err)
	}

	return start, 1, nil
}
