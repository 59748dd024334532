// Package web publishes per-group status snapshots as HTML fragments into a
// directory served by an external web server. Plot rendering stays outside
// the process; the supervisor only triggers it through a rate-limited hook.
package web

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
)

// SnapshotWriter writes group snapshots into Dir.
type SnapshotWriter struct {
	Dir string
}

// WriteGroup renders one group's series texts as an HTML list and writes it
// to <dir>/<group>.html. Each text may span multiple lines; lines become
// <br> separated.
func (w *SnapshotWriter) WriteGroup(group string, texts []string) error {
	var b strings.Builder
	b.WriteString("<ul>\n")
	for _, text := range texts {
		lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
		for i, line := range lines {
			lines[i] = html.EscapeString(line)
		}
		fmt.Fprintf(&b, "<li>%s</li>\n", strings.Join(lines, "<br>"))
	}
	b.WriteString("</ul>")

	path := filepath.Join(w.Dir, group+".html")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("web: %w", err)
	}
	return nil
}

// CopyIndex places the static entry page into the web directory.
func (w *SnapshotWriter) CopyIndex(src string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("web: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.Dir, "index.html"), data, 0o644); err != nil {
		return fmt.Errorf("web: %w", err)
	}
	return nil
}
