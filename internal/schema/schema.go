// Package schema validates raw remote payloads before anything else in
// the system trusts them. Every byte that arrives from the network
// passes through here exactly once: on success the caller gets a typed
// domain value, on failure a descriptive Error naming the offending
// field. No untyped document crosses this boundary.
//
// Validation is strict about required fields and primitive types, and
// permissive about unknown extra fields so newer server versions do
// not break older clients.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/notevault/notevault/internal/snapshot"
)

var validate = validator.New()

func init() {
	// Report field paths using wire names, not Go names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Error describes a payload that failed validation. Path names the
// offending field in wire terms, e.g. "lines[3]" or "[2].checksum".
type Error struct {
	Path string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("schema: %s: %s", e.Path, e.Msg)
}

// listingEntryPayload is the wire shape of one listing entry. Pointer
// fields distinguish a missing key from a present zero value.
type listingEntryPayload struct {
	ID        *string `json:"id" validate:"required,min=1"`
	UpdatedAt *int64  `json:"updated_at" validate:"required"`
	Checksum  *string `json:"checksum" validate:"required"`
}

// pagePayload is the wire shape of a page document. Created is
// optional; not every server version reports it.
type pagePayload struct {
	ID        *string            `json:"id" validate:"required,min=1"`
	Title     *string            `json:"title" validate:"required"`
	Lines     *[]json.RawMessage `json:"lines" validate:"required"`
	Created   *int64             `json:"created"`
	UpdatedAt *int64             `json:"updated_at" validate:"required"`
	Checksum  *string            `json:"checksum" validate:"required"`
}

// ValidateListing checks a listing payload (a JSON array of
// {id, updated_at, checksum} objects) and converts it to a Listing.
func ValidateListing(data []byte) (snapshot.Listing, error) {
	var entries []listingEntryPayload
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, wrapDecodeError(err)
	}

	listing := make(snapshot.Listing, 0, len(entries))
	for i, e := range entries {
		if err := validateStruct(e, fmt.Sprintf("[%d]", i)); err != nil {
			return nil, err
		}
		listing = append(listing, snapshot.ListingEntry{
			ID:        *e.ID,
			UpdatedAt: *e.UpdatedAt,
			Checksum:  *e.Checksum,
		})
	}
	return listing, nil
}

// ValidatePage checks a page payload and converts it to a Page. The
// returned page is complete: a payload that decodes only partially is
// rejected, never returned with missing fields.
func ValidatePage(data []byte) (*snapshot.Page, error) {
	var p pagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, wrapDecodeError(err)
	}
	if err := validateStruct(p, ""); err != nil {
		return nil, err
	}

	lines, err := decodeLines(*p.Lines, "lines")
	if err != nil {
		return nil, err
	}

	page := &snapshot.Page{
		ID:        *p.ID,
		Title:     *p.Title,
		Lines:     lines,
		UpdatedAt: *p.UpdatedAt,
		Checksum:  *p.Checksum,
	}
	if p.Created != nil {
		page.Created = *p.Created
	}
	return page, nil
}

// decodeLines converts raw line elements, reporting the index of the
// first offending element.
func decodeLines(raw []json.RawMessage, path string) ([]snapshot.Line, error) {
	lines := make([]snapshot.Line, 0, len(raw))
	for i, r := range raw {
		var l snapshot.Line
		if err := json.Unmarshal(r, &l); err != nil {
			return nil, &Error{
				Path: fmt.Sprintf("%s[%d]", path, i),
				Msg:  "must be a string or a {text, created, updated} object",
			}
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// validateStruct runs struct validation and converts the first failure
// into an Error with the given path prefix.
func validateStruct(v any, prefix string) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &Error{Path: prefix, Msg: err.Error()}
	}

	fe := verrs[0]
	path := fe.Field()
	if prefix != "" {
		path = prefix + "." + path
	}
	return &Error{Path: path, Msg: describeFailure(fe)}
}

// describeFailure formats a single field validation failure.
func describeFailure(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required field is missing"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// wrapDecodeError converts JSON decode failures into Errors. Type
// mismatches carry the field path the decoder reached; syntax errors
// apply to the document as a whole.
func wrapDecodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		path := typeErr.Field
		if path == "" {
			path = "(document)"
		}
		return &Error{
			Path: path,
			Msg:  fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
		}
	}

	var synErr *json.SyntaxError
	if errors.As(err, &synErr) {
		return &Error{
			Path: "(document)",
			Msg:  fmt.Sprintf("malformed JSON at offset %d", synErr.Offset),
		}
	}

	return &Error{Path: "(document)", Msg: err.Error()}
}
