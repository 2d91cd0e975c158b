// Package export writes a committed snapshot out of the store: a
// single workspace backup document plus, optionally, one plain-text
// file per page. Destinations are URLs handled by the abstract storage
// layer, so file://, mem://, and anything else it supports work the
// same way.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/notevault/notevault/internal/snapshot"
)

// Order selects how pages are arranged in the backup document.
type Order string

const (
	// OrderAsIs keeps pages in snapshot id order.
	OrderAsIs Order = "asis"

	// OrderCreatedAsc sorts pages oldest first.
	OrderCreatedAsc Order = "created-asc"

	// OrderCreatedDesc sorts pages newest first.
	OrderCreatedDesc Order = "created-desc"
)

// ParseOrder converts a flag value to an Order.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case OrderAsIs, OrderCreatedAsc, OrderCreatedDesc:
		return Order(s), nil
	default:
		return "", fmt.Errorf("unknown sort order %q (want asis, created-asc, or created-desc)", s)
	}
}

// Document is the workspace backup document shape, matching what the
// note service itself exports so either can seed the other.
type Document struct {
	Name        string      `json:"name"`
	DisplayName string      `json:"displayName,omitempty"`
	Exported    int64       `json:"exported"`
	Pages       []*pageDocs `json:"pages"`
}

type pageDocs struct {
	ID      string          `json:"id,omitempty"`
	Title   string          `json:"title"`
	Created int64           `json:"created,omitempty"`
	Updated int64           `json:"updated"`
	Lines   []snapshot.Line `json:"lines"`
}

// Options controls one export.
type Options struct {
	// Order arranges the document's page list.
	Order Order

	// PageFiles also writes one .txt file per page under pages/.
	PageFiles bool
}

// Result reports what an export wrote.
type Result struct {
	DocumentURL string
	PageFiles   int
	Bytes       int
}

// Exporter writes snapshots to storage destinations.
type Exporter struct {
	fs     afs.Service
	logger *log.Logger
}

// New creates an Exporter. If logger is nil, a default logger writing
// to stderr is used.
func New(logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.New(os.Stderr, "[export] ", log.LstdFlags)
	}
	return &Exporter{
		fs:     afs.New(),
		logger: logger,
	}
}

// Export writes snap to destURL. The backup document lands at
// destURL/<project>.json; page files, when requested, under
// destURL/pages/.
func (e *Exporter) Export(ctx context.Context, snap *snapshot.Snapshot, destURL string, opts Options) (*Result, error) {
	if opts.Order == "" {
		opts.Order = OrderAsIs
	}

	doc := buildDocument(snap, opts.Order)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup document: %w", err)
	}

	docURL := url.Join(destURL, snap.Project+".json")
	if err := e.fs.Upload(ctx, docURL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to upload backup document: %w", err)
	}

	result := &Result{DocumentURL: docURL, Bytes: len(data)}
	if opts.PageFiles {
		for _, p := range doc.Pages {
			name := EscapeTitle(p.Title) + ".txt"
			content := pageText(p.Lines)
			target := url.Join(destURL, "pages", name)
			if err := e.fs.Upload(ctx, target, file.DefaultFileOsMode, strings.NewReader(content)); err != nil {
				return nil, fmt.Errorf("failed to upload page file %s: %w", name, err)
			}
			result.PageFiles++
		}
	}

	e.logger.Printf("Exported %s v%d to %s: %d bytes, %d page files",
		snap.Project, snap.Version, destURL, result.Bytes, result.PageFiles)
	return result, nil
}

// buildDocument converts a snapshot to the export document shape with
// the requested page order.
func buildDocument(snap *snapshot.Snapshot, order Order) *Document {
	doc := &Document{
		Name:     snap.Project,
		Exported: snap.CreatedAt.Unix(),
	}
	for _, id := range snap.IDs() {
		p := snap.Pages[id]
		doc.Pages = append(doc.Pages, &pageDocs{
			ID:      p.ID,
			Title:   p.Title,
			Created: p.Created,
			Updated: p.UpdatedAt,
			Lines:   p.Lines,
		})
	}

	switch order {
	case OrderCreatedAsc:
		sort.SliceStable(doc.Pages, func(i, j int) bool {
			return doc.Pages[i].Created < doc.Pages[j].Created
		})
	case OrderCreatedDesc:
		sort.SliceStable(doc.Pages, func(i, j int) bool {
			return doc.Pages[i].Created > doc.Pages[j].Created
		})
	}
	return doc
}

func pageText(lines []snapshot.Line) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// titleEscaper rewrites the characters that collide with filesystem
// or URL semantics. Percent goes first so escapes are unambiguous.
var titleEscaper = strings.NewReplacer(
	"%", "%25",
	"/", "%2F",
	"#", "%23",
	" ", "_",
)

// EscapeTitle converts a page title to a safe file name.
func EscapeTitle(title string) string {
	return titleEscaper.Replace(title)
}
