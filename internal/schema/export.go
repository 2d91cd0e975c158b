package schema

import (
	"encoding/json"
	"fmt"

	"github.com/notevault/notevault/internal/links"
	"github.com/notevault/notevault/internal/snapshot"
)

// ExportDoc is a validated workspace export document, the format the
// note service itself produces when a project is downloaded. Imports
// use it to seed or backfill a store without touching the network.
type ExportDoc struct {
	Name        string
	DisplayName string
	Exported    int64
	Pages       []*snapshot.Page
}

type exportPagePayload struct {
	ID      *string            `json:"id"`
	Title   *string            `json:"title" validate:"required,min=1"`
	Created *int64             `json:"created"`
	Updated *int64             `json:"updated"`
	Lines   *[]json.RawMessage `json:"lines" validate:"required"`
}

type exportDocPayload struct {
	Name        *string             `json:"name" validate:"required,min=1"`
	DisplayName *string             `json:"displayName"`
	Exported    *int64              `json:"exported"`
	Pages       []exportPagePayload `json:"pages" validate:"required"`
}

// ValidateExport checks a workspace export document and converts its
// pages to domain Pages. Pages without an id use their normalized
// title; pages without a checksum (exports never carry one) get a
// content fingerprint, so a later live sync treats them as changed.
func ValidateExport(data []byte) (*ExportDoc, error) {
	var payload exportDocPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, wrapDecodeError(err)
	}
	if err := validateStruct(payload, ""); err != nil {
		return nil, err
	}

	doc := &ExportDoc{
		Name: *payload.Name,
	}
	if payload.DisplayName != nil {
		doc.DisplayName = *payload.DisplayName
	}
	if payload.Exported != nil {
		doc.Exported = *payload.Exported
	}

	seen := make(map[string]int, len(payload.Pages))
	for i, pp := range payload.Pages {
		if err := validateStruct(pp, fmt.Sprintf("pages[%d]", i)); err != nil {
			return nil, err
		}

		lines, err := decodeLines(*pp.Lines, fmt.Sprintf("pages[%d].lines", i))
		if err != nil {
			return nil, err
		}

		page := &snapshot.Page{
			Title:    *pp.Title,
			Lines:    lines,
			Checksum: snapshot.ContentChecksum(lines),
		}
		if pp.ID != nil && *pp.ID != "" {
			page.ID = *pp.ID
		} else {
			page.ID = links.Normalize(page.Title)
		}
		if pp.Created != nil {
			page.Created = *pp.Created
		}
		if pp.Updated != nil {
			page.UpdatedAt = *pp.Updated
		} else {
			page.UpdatedAt = doc.Exported
		}

		if prev, dup := seen[page.ID]; dup {
			return nil, &Error{
				Path: fmt.Sprintf("pages[%d].id", i),
				Msg:  fmt.Sprintf("duplicate page id %q (first seen at pages[%d])", page.ID, prev),
			}
		}
		seen[page.ID] = i
		doc.Pages = append(doc.Pages, page)
	}

	return doc, nil
}
