// Package format maps broadcast metadata to a sanitized output path
// through a flat key-substitution template.
package format

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/HoloArchivists/twspace-dl/internal/domain"
)

// DefaultTemplate is the output template used when none is configured.
const DefaultTemplate = "(%(creator_name)s)%(title)s-%(id)s"

var fieldPattern = regexp.MustCompile(`%\((\w+)\)s`)

// Characters invalid across common filesystems, replaced with underscores.
var blacklist = regexp.MustCompile(`[\\/:*?"<>|]`)

// Filenames reserved on Windows. Case-sensitive fixed list.
var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// Fields enumerates the substitutable template keys for a broadcast.
func Fields(b *domain.Broadcast) map[string]string {
	startDate := ""
	if t := b.StartTime(); !t.IsZero() {
		startDate = t.Format("2006-01-02")
	}
	return map[string]string{
		"id":                  b.ID,
		"url":                 b.URL(),
		"title":               b.Title,
		"creator_name":        b.CreatorName,
		"creator_screen_name": b.CreatorScreenName,
		"start_date":          startDate,
	}
}

// substitute fills %(key)s references from fields. Unknown keys expand to
// the empty string.
func substitute(template string, fields map[string]string) string {
	out := fieldPattern.ReplaceAllStringFunc(template, func(m string) string {
		key := fieldPattern.FindStringSubmatch(m)[1]
		return fields[key]
	})
	return strings.ReplaceAll(out, "%%", "%")
}

// Format substitutes fields into the template and sanitizes the final path
// component. Directory components are substituted but deliberately not
// sanitized; only the basename is guarded against invalid names.
func Format(template string, fields map[string]string) string {
	dir := filepath.Dir(template)
	base := Sanitize(substitute(filepath.Base(template), fields))
	if dir == "." && !strings.HasPrefix(template, "./") {
		return base
	}
	return filepath.Join(substitute(dir, fields), base)
}

// splitExt splits a name into stem and extension. Leading dots never start
// an extension, so dot-only names keep their dots in the stem.
func splitExt(name string) (string, string) {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return name, ""
	}
	if strings.Trim(name[:idx], ".") == "" {
		return name, ""
	}
	return name[:idx], name[idx:]
}

// Sanitize makes a string into a valid filename. The extension is split
// off first and round-trips unchanged.
func Sanitize(name string) string {
	stem, ext := splitExt(name)

	stem = strings.ReplaceAll(stem, "\x00", "")

	// A leading dot would make the file hidden
	if strings.HasPrefix(stem, ".") {
		stem = "_" + stem
	}

	stem = blacklist.ReplaceAllString(stem, "_")
	stem = strings.TrimSpace(stem)

	if reservedNames[stem] {
		stem = "_" + stem
	}

	return stem + ext
}
