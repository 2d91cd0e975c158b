package export

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/notevault/notevault/internal/snapshot"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testSnapshot() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Project:   "demo",
		Version:   3,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Pages: map[string]*snapshot.Page{
			"a": {
				ID: "a", Title: "Alpha Page", Created: 100, UpdatedAt: 200, Checksum: "x",
				Lines: []snapshot.Line{{Text: "Alpha Page"}, {Text: "first", Created: 1, Updated: 2}},
			},
			"b": {
				ID: "b", Title: "Beta/Notes #1", Created: 50, UpdatedAt: 60, Checksum: "y",
				Lines: []snapshot.Line{{Text: "Beta"}},
			},
		},
	}
}

func TestExporter_WritesBackupDocument(t *testing.T) {
	dir := t.TempDir()
	e := New(quietLogger())

	result, err := e.Export(context.Background(), testSnapshot(), dir, Options{})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Bytes == 0 || result.PageFiles != 0 {
		t.Errorf("result = %+v, want bytes written and no page files", result)
	}

	data, err := os.ReadFile(filepath.Join(dir, "demo.json"))
	if err != nil {
		t.Fatalf("backup document not written: %v", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("backup document not valid JSON: %v", err)
	}
	if doc.Name != "demo" || len(doc.Pages) != 2 {
		t.Errorf("doc = name %q, %d pages; want demo with 2 pages", doc.Name, len(doc.Pages))
	}
	if doc.Exported != testSnapshot().CreatedAt.Unix() {
		t.Errorf("exported = %d, want snapshot creation time", doc.Exported)
	}

	// Line shapes survive: the block line keeps its timestamps, the
	// bare line stays a bare string on the wire.
	if !strings.Contains(string(data), `"Alpha Page",`) {
		t.Errorf("document does not keep bare string lines: %s", data)
	}
	page := doc.Pages[0]
	if page.Lines[1].Created != 1 || page.Lines[1].Updated != 2 {
		t.Errorf("block line timestamps lost: %+v", page.Lines[1])
	}
}

func TestExporter_PageFiles(t *testing.T) {
	dir := t.TempDir()
	e := New(quietLogger())

	result, err := e.Export(context.Background(), testSnapshot(), dir, Options{PageFiles: true})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.PageFiles != 2 {
		t.Errorf("page files = %d, want 2", result.PageFiles)
	}

	content, err := os.ReadFile(filepath.Join(dir, "pages", "Alpha_Page.txt"))
	if err != nil {
		t.Fatalf("page file not written: %v", err)
	}
	if string(content) != "Alpha Page\nfirst\n" {
		t.Errorf("page text = %q", content)
	}

	// Slash and hash in titles are escaped, space becomes underscore.
	if _, err := os.Stat(filepath.Join(dir, "pages", "Beta%2FNotes_%231.txt")); err != nil {
		t.Errorf("escaped page file missing: %v", err)
	}
}

func TestExporter_Orders(t *testing.T) {
	snap := testSnapshot()
	e := New(quietLogger())

	tests := []struct {
		order Order
		first string
	}{
		{OrderAsIs, "a"},         // id order
		{OrderCreatedAsc, "b"},   // created 50 before 100
		{OrderCreatedDesc, "a"},  // created 100 before 50
	}

	for _, tt := range tests {
		t.Run(string(tt.order), func(t *testing.T) {
			dir := t.TempDir()
			if _, err := e.Export(context.Background(), snap, dir, Options{Order: tt.order}); err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			data, _ := os.ReadFile(filepath.Join(dir, "demo.json"))
			var doc Document
			if err := json.Unmarshal(data, &doc); err != nil {
				t.Fatal(err)
			}
			if doc.Pages[0].ID != tt.first {
				t.Errorf("first page = %s, want %s", doc.Pages[0].ID, tt.first)
			}
		})
	}
}

func TestParseOrder(t *testing.T) {
	if _, err := ParseOrder("created-asc"); err != nil {
		t.Errorf("ParseOrder(created-asc) error = %v", err)
	}
	if _, err := ParseOrder("newest"); err == nil {
		t.Error("ParseOrder(newest) succeeded, want error")
	}
}

func TestEscapeTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Plain", "Plain"},
		{"Two Words", "Two_Words"},
		{"a/b", "a%2Fb"},
		{"tag #x", "tag_%23x"},
		{"50%", "50%25"},
		{"100% a/b #c", "100%25_a%2Fb_%23c"},
	}
	for _, tt := range tests {
		if got := EscapeTitle(tt.in); got != tt.want {
			t.Errorf("EscapeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
