// Package snapshot defines the backup domain model: pages, listings,
// and immutable versioned snapshots, plus the Builder that assembles a
// new snapshot from a remote listing and the previous version.
package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/notevault/notevault/internal/links"
)

// Line is one line of page content. The remote sends either a bare
// string or a block carrying per-line edit timestamps; both shapes are
// preserved losslessly across serialization (a bare string stays a
// bare string).
type Line struct {
	Text    string
	Created int64
	Updated int64
}

// lineBlock is the object form of a Line on the wire.
type lineBlock struct {
	Text    string `json:"text"`
	Created int64  `json:"created,omitempty"`
	Updated int64  `json:"updated,omitempty"`
}

// MarshalJSON encodes the line as a bare string when it carries no
// timestamps, matching the shape it was received in.
func (l Line) MarshalJSON() ([]byte, error) {
	if l.Created == 0 && l.Updated == 0 {
		return json.Marshal(l.Text)
	}
	return json.Marshal(lineBlock{Text: l.Text, Created: l.Created, Updated: l.Updated})
}

// UnmarshalJSON accepts both the bare string and the block form.
func (l *Line) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = Line{Text: s}
		return nil
	}

	var block lineBlock
	if err := json.Unmarshal(data, &block); err != nil {
		return fmt.Errorf("line must be a string or an object: %w", err)
	}
	*l = Line{Text: block.Text, Created: block.Created, Updated: block.Updated}
	return nil
}

// Page is one page of a project at a point in time. Pages are immutable
// once fetched; a changed page is a new Page value. Created is zero
// when the remote did not report it.
type Page struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Lines     []Line `json:"lines"`
	Created   int64  `json:"created,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
	Checksum  string `json:"checksum"`
}

// Text returns the plain text of every line, in order.
func (p *Page) Text() []string {
	out := make([]string, len(p.Lines))
	for i, l := range p.Lines {
		out[i] = l.Text
	}
	return out
}

// Equal reports whether two pages have identical content.
func (p *Page) Equal(other *Page) bool {
	if p == nil || other == nil {
		return p == other
	}
	if p.ID != other.ID || p.Title != other.Title || p.Created != other.Created ||
		p.UpdatedAt != other.UpdatedAt || p.Checksum != other.Checksum {
		return false
	}
	if len(p.Lines) != len(other.Lines) {
		return false
	}
	for i := range p.Lines {
		if p.Lines[i] != other.Lines[i] {
			return false
		}
	}
	return true
}

// ListingEntry is the lightweight per-page metadata from the remote
// listing: enough to decide whether the page changed without fetching
// its content.
type ListingEntry struct {
	ID        string `json:"id"`
	UpdatedAt int64  `json:"updated_at"`
	Checksum  string `json:"checksum"`
}

// Listing is the full remote index for one project, created fresh each
// sync cycle and discarded after diffing.
type Listing []ListingEntry

// Snapshot is one immutable, versioned capture of a project's pages.
// Version numbers increase strictly by one per commit.
type Snapshot struct {
	Project   string           `json:"project"`
	Version   int64            `json:"version"`
	CreatedAt time.Time        `json:"created_at"`
	Pages     map[string]*Page `json:"pages"`
}

// Page returns the page with the given id, if present.
func (s *Snapshot) Page(id string) (*Page, bool) {
	p, ok := s.Pages[id]
	return p, ok
}

// IDs returns the page identifiers in sorted order.
func (s *Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.Pages))
	for id := range s.Pages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Equal reports whether two snapshots are identical, including version
// and creation time.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.Project != other.Project || s.Version != other.Version || !s.CreatedAt.Equal(other.CreatedAt) {
		return false
	}
	return s.ContentEqual(other)
}

// ContentEqual reports whether two snapshots contain the same page set
// with the same content, ignoring version and creation time. Two
// back-to-back syncs with no remote changes produce content-equal
// snapshots at consecutive versions.
func (s *Snapshot) ContentEqual(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.Pages) != len(other.Pages) {
		return false
	}
	for id, p := range s.Pages {
		op, ok := other.Pages[id]
		if !ok || !p.Equal(op) {
			return false
		}
	}
	return true
}

// Info is the per-version summary stored alongside each snapshot.
type Info struct {
	Project     string    `json:"project"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	TotalPages  int       `json:"total_pages"`
	TotalLinks  int       `json:"total_links"`
	FailedPages int       `json:"failed_pages"`
}

// MakeInfo computes the summary for a snapshot. failed is the number of
// pages that could not be fetched during the build.
func MakeInfo(s *Snapshot, failed int) Info {
	totalLinks := 0
	for _, p := range s.Pages {
		totalLinks += len(links.Internal(p.Text()))
	}
	return Info{
		Project:     s.Project,
		Version:     s.Version,
		CreatedAt:   s.CreatedAt,
		TotalPages:  len(s.Pages),
		TotalLinks:  totalLinks,
		FailedPages: failed,
	}
}
