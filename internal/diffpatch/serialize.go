package diffpatch

import (
	"fmt"
	"strings"
)

// Serialize renders a Patch back to unified-diff text. Parse(Serialize(p))
// reproduces p's FileChanges and Hunks exactly (spec.md §8 round-trip law),
// modulo the LF normalization Parse already performs on its input.
func Serialize(p Patch) string {
	var b strings.Builder

	for _, fc := range p.Files {
		writeFileChange(&b, fc)
	}

	return b.String()
}

func writeFileChange(b *strings.Builder, fc FileChange) {
	oldHeader, newHeader := fc.OldPath, fc.NewPath

	switch fc.Mode {
	case ModeCreate:
		oldHeader = devNull
	case ModeDelete:
		newHeader = devNull
	case ModeRename:
		fmt.Fprintf(b, "rename from %s\n", fc.OldPath)
		fmt.Fprintf(b, "rename to %s\n", fc.NewPath)
	}

	fmt.Fprintf(b, "--- %s\n", diffHeaderPath(oldHeader, "a/"))
	fmt.Fprintf(b, "+++ %s\n", diffHeaderPath(newHeader, "b/"))

	for _, h := range fc.Hunks {
		writeHunk(b, h)
	}
}

func diffHeaderPath(p, prefix string) string {
	if p == devNull {
		return devNull
	}

	return prefix + p
}

func writeHunk(b *strings.Builder, h Hunk) {
	fmt.Fprintf(b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLen, h.NewStart, h.NewLen)

	for _, l := range h.Lines {
		b.WriteString(lineMarker(l.Tag))
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
}

func lineMarker(tag LineTag) string {
	switch tag {
	case LineAdd:
		return "+"
	case LineRemove:
		return "-"
	default:
		return " "
	}
}
