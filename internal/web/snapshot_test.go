package web

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteGroup_RendersList(t *testing.T) {
	dir := t.TempDir()
	w := &SnapshotWriter{Dir: dir}

	err := w.WriteGroup("heizung", []string{
		"Kessel: 42.0 °C\nMaximum (24h): 55.0 °C",
		"Brenner: Ein",
	})
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "heizung.html"))
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	if !strings.HasPrefix(got, "<ul>") || !strings.HasSuffix(got, "</ul>") {
		t.Errorf("not a list: %q", got)
	}
	if !strings.Contains(got, "<li>Kessel: 42.0 °C<br>Maximum (24h): 55.0 °C</li>") {
		t.Errorf("multi-line item: %q", got)
	}
	if !strings.Contains(got, "<li>Brenner: Ein</li>") {
		t.Errorf("single-line item: %q", got)
	}
}

func TestWriteGroup_EscapesHTML(t *testing.T) {
	dir := t.TempDir()
	w := &SnapshotWriter{Dir: dir}

	if err := w.WriteGroup("g", []string{"a < b & c"}); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "g.html"))
	if !strings.Contains(string(data), "a &lt; b &amp; c") {
		t.Errorf("unescaped output: %q", data)
	}
}

func TestCopyIndex(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "static-index.html")
	if err := os.WriteFile(src, []byte("<html>x</html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := &SnapshotWriter{Dir: dir}
	if err := w.CopyIndex(src); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "<html>x</html>" {
		t.Errorf("copied content: %q", data)
	}
}
