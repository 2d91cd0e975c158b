package snapshot

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestLine_JSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		line Line
		json string
	}{
		{"bare string", Line{Text: "hello world"}, `"hello world"`},
		{"block with timestamps", Line{Text: "edited", Created: 100, Updated: 200}, `{"text":"edited","created":100,"updated":200}`},
		{"block created only", Line{Text: "x", Created: 5}, `{"text":"x","created":5}`},
		{"empty string", Line{}, `""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.line)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(data) != tt.json {
				t.Errorf("Marshal() = %s, want %s", data, tt.json)
			}

			var parsed Line
			if err := json.Unmarshal(data, &parsed); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if parsed != tt.line {
				t.Errorf("round trip = %+v, want %+v", parsed, tt.line)
			}
		})
	}
}

func TestLine_UnmarshalRejectsOtherShapes(t *testing.T) {
	var l Line
	if err := json.Unmarshal([]byte(`42`), &l); err == nil {
		t.Errorf("Unmarshal(42) expected error, got nil")
	}
	if err := json.Unmarshal([]byte(`["a","b"]`), &l); err == nil {
		t.Errorf("Unmarshal(array) expected error, got nil")
	}
}

func TestPage_Text(t *testing.T) {
	p := &Page{
		ID:    "p1",
		Title: "Title",
		Lines: []Line{{Text: "one"}, {Text: "two", Created: 9}},
	}
	got := p.Text()
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("Text() = %v, want [one two]", got)
	}
}

func TestPage_Equal(t *testing.T) {
	base := func() *Page {
		return &Page{
			ID:        "p1",
			Title:     "Title",
			Lines:     []Line{{Text: "a"}, {Text: "b", Updated: 7}},
			UpdatedAt: 1700000000,
			Checksum:  "abc",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Page)
		want   bool
	}{
		{"identical", func(p *Page) {}, true},
		{"different title", func(p *Page) { p.Title = "Other" }, false},
		{"different checksum", func(p *Page) { p.Checksum = "xyz" }, false},
		{"different line text", func(p *Page) { p.Lines[1].Text = "c" }, false},
		{"different line timestamp", func(p *Page) { p.Lines[1].Updated = 8 }, false},
		{"extra line", func(p *Page) { p.Lines = append(p.Lines, Line{Text: "c"}) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := base(), base()
			tt.mutate(b)
			if got := a.Equal(b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}

	var nilPage *Page
	if base().Equal(nilPage) {
		t.Errorf("Equal(nil) = true, want false")
	}
	if !nilPage.Equal(nil) {
		t.Errorf("nil.Equal(nil) = false, want true")
	}
}

func TestSnapshot_JSONRoundTrip(t *testing.T) {
	original := &Snapshot{
		Project:   "demo",
		Version:   3,
		CreatedAt: time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC),
		Pages: map[string]*Page{
			"p1": {
				ID:        "p1",
				Title:     "Getting Started",
				Lines:     []Line{{Text: "Getting Started"}, {Text: "see [Notes]", Created: 100, Updated: 200}},
				UpdatedAt: 1700000100,
				Checksum:  "c1",
			},
			"p2": {
				ID:        "p2",
				Title:     "Notes",
				Lines:     []Line{{Text: "Notes"}},
				UpdatedAt: 1700000200,
				Checksum:  "c2",
			},
		},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var parsed Snapshot
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if !parsed.Equal(original) {
		t.Errorf("round trip is not equal to original:\noriginal: %+v\nparsed:   %+v", original, &parsed)
	}
}

func TestSnapshot_IDs(t *testing.T) {
	s := &Snapshot{Pages: map[string]*Page{
		"zebra": {ID: "zebra"},
		"alpha": {ID: "alpha"},
		"mid":   {ID: "mid"},
	}}
	got := s.IDs()
	if len(got) != 3 || got[0] != "alpha" || got[1] != "mid" || got[2] != "zebra" {
		t.Errorf("IDs() = %v, want sorted [alpha mid zebra]", got)
	}
}

func TestSnapshot_ContentEqual(t *testing.T) {
	page := &Page{ID: "p1", Title: "T", Lines: []Line{{Text: "x"}}, Checksum: "c"}

	a := &Snapshot{Project: "demo", Version: 1, CreatedAt: time.Now(), Pages: map[string]*Page{"p1": page}}
	b := &Snapshot{Project: "demo", Version: 2, CreatedAt: time.Now().Add(time.Hour), Pages: map[string]*Page{"p1": page}}

	if !a.ContentEqual(b) {
		t.Errorf("ContentEqual() = false for same page set, want true")
	}
	if a.Equal(b) {
		t.Errorf("Equal() = true across versions, want false")
	}

	c := &Snapshot{Project: "demo", Version: 2, Pages: map[string]*Page{}}
	if a.ContentEqual(c) {
		t.Errorf("ContentEqual() = true for different page sets, want false")
	}
}

func TestMakeInfo(t *testing.T) {
	s := &Snapshot{
		Project:   "demo",
		Version:   5,
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Pages: map[string]*Page{
			"p1": {ID: "p1", Title: "Index", Lines: []Line{{Text: "[Notes] and [Ideas]"}}},
			"p2": {ID: "p2", Title: "Notes", Lines: []Line{{Text: "#index"}}},
			"p3": {ID: "p3", Title: "Ideas", Lines: []Line{{Text: "plain text"}}},
		},
	}

	info := MakeInfo(s, 2)

	if info.Project != "demo" || info.Version != 5 {
		t.Errorf("Info identity = %s v%d, want demo v5", info.Project, info.Version)
	}
	if info.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", info.TotalPages)
	}
	if info.TotalLinks != 3 {
		t.Errorf("TotalLinks = %d, want 3", info.TotalLinks)
	}
	if info.FailedPages != 2 {
		t.Errorf("FailedPages = %d, want 2", info.FailedPages)
	}
	if !strings.Contains(info.CreatedAt.String(), "2026-03-01") {
		t.Errorf("CreatedAt = %v, want snapshot creation time", info.CreatedAt)
	}
}
