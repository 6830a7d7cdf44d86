// Package style defines the acme-styles wire format that acme-flow writes
// into its compositor layer.
//
// A style buffer is a list of palette lines followed by run lines:
//
//	:flow_1a73e8 fg=#1a73e8
//	0 1 flow_1a73e8
//
// Palette lines name a visual definition; run lines colour [start,
// start+length) rune offsets with a named entry.
package style

import (
	"fmt"
	"strconv"
	"strings"
)

// PaletteEntry is a named visual style definition.
type PaletteEntry struct {
	Name      string // e.g. "flow_1a73e8"
	FontName  string // absolute font path, or ""
	FG        string // "#rrggbb", or ""
	BG        string // "#rrggbb", or ""
	Bold      bool
	Italic    bool
	Underline bool
}

// Equal reports whether e and b have identical visual properties (all
// fields except Name).
func (e PaletteEntry) Equal(b PaletteEntry) bool {
	return e.FontName == b.FontName &&
		e.FG == b.FG &&
		e.BG == b.BG &&
		e.Bold == b.Bold &&
		e.Italic == b.Italic &&
		e.Underline == b.Underline
}

// StyleRun is a named style span.  Start and End are body-absolute rune
// offsets; End is exclusive.
type StyleRun struct {
	Name  string
	Start int
	End   int // exclusive
}

// Format serialises palette entries and style runs into the wire format.
func Format(palette []PaletteEntry, runs []StyleRun) string {
	var sb strings.Builder
	for _, e := range palette {
		writePaletteLine(&sb, e)
	}
	for _, r := range runs {
		fmt.Fprintf(&sb, "%d %d %s\n", r.Start, r.End-r.Start, r.Name)
	}
	return sb.String()
}

func writePaletteLine(sb *strings.Builder, e PaletteEntry) {
	fmt.Fprintf(sb, ":%s", e.Name)
	if e.FontName != "" {
		fmt.Fprintf(sb, " font=%s", e.FontName)
	}
	if e.FG != "" {
		fmt.Fprintf(sb, " fg=%s", e.FG)
	}
	if e.BG != "" {
		fmt.Fprintf(sb, " bg=%s", e.BG)
	}
	if e.Bold {
		sb.WriteString(" bold")
	}
	if e.Italic {
		sb.WriteString(" italic")
	}
	if e.Underline {
		sb.WriteString(" underline")
	}
	sb.WriteByte('\n')
}

// Parse is the inverse of Format.  Malformed lines are skipped.
func Parse(content string) ([]PaletteEntry, []StyleRun) {
	var palette []PaletteEntry
	var runs []StyleRun
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, ":") {
			if e, ok := parsePaletteLine(line[1:]); ok {
				palette = append(palette, e)
			}
		} else if r, ok := parseRunLine(line); ok {
			runs = append(runs, r)
		}
	}
	return palette, runs
}

// parsePaletteLine parses "name [prop ...]" (after the leading ':' is stripped).
func parsePaletteLine(line string) (PaletteEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return PaletteEntry{}, false
	}
	e := PaletteEntry{Name: fields[0]}
	for _, tok := range fields[1:] {
		switch {
		case tok == "bold":
			e.Bold = true
		case tok == "italic":
			e.Italic = true
		case tok == "underline":
			e.Underline = true
		case strings.HasPrefix(tok, "font="):
			e.FontName = tok[5:]
		case strings.HasPrefix(tok, "fg="):
			e.FG = tok[3:]
		case strings.HasPrefix(tok, "bg="):
			e.BG = tok[3:]
		}
	}
	return e, true
}

// parseRunLine parses "start length name".
func parseRunLine(line string) (StyleRun, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return StyleRun{}, false
	}
	start, err := strconv.Atoi(fields[0])
	if err != nil {
		return StyleRun{}, false
	}
	length, err := strconv.Atoi(fields[1])
	if err != nil || length <= 0 {
		return StyleRun{}, false
	}
	return StyleRun{Name: fields[2], Start: start, End: start + length}, true
}

// Coalesce merges runs that share a name and touch end to start.  runs
// must be sorted by Start; the result reuses its backing array.
func Coalesce(runs []StyleRun) []StyleRun {
	if len(runs) == 0 {
		return runs
	}
	out := runs[:1]
	for _, r := range runs[1:] {
		last := &out[len(out)-1]
		if r.Name == last.Name && r.Start == last.End {
			last.End = r.End
			continue
		}
		out = append(out, r)
	}
	return out
}

// PalettesEqual reports whether two palettes have the same named entries
// with identical visual definitions (order-insensitive).
func PalettesEqual(a, b []PaletteEntry) bool {
	if len(a) != len(b) {
		return false
	}
	bm := make(map[string]PaletteEntry, len(b))
	for _, e := range b {
		bm[e.Name] = e
	}
	for _, e := range a {
		be, ok := bm[e.Name]
		if !ok || !e.Equal(be) {
			return false
		}
	}
	return true
}
