// Package links extracts the link structure from page content: internal
// page-to-page links, external URLs, and the project-wide link graph.
// It also provides a bounded-concurrency auditor that probes external
// URLs and reports their status.
package links

import (
	"regexp"
	"strings"
)

var (
	urlPattern     = regexp.MustCompile(`https?://[^\s\]]+`)
	bracketPattern = regexp.MustCompile(`\[([^\[\]]+)\]`)
	hashtagPattern = regexp.MustCompile(`(?:^|\s)#([^\s#\[\]]+)`)
	inlineCode     = regexp.MustCompile("`[^`]*`")
	decoPrefix     = regexp.MustCompile(`^[*\-_$!"']+ `)
)

// Normalize converts a page title to its canonical link form:
// lowercased with spaces replaced by underscores. Links and page
// titles compare equal after normalization.
func Normalize(title string) string {
	return strings.ReplaceAll(strings.ToLower(title), " ", "_")
}

// Internal returns the normalized internal links found in the given
// content lines, in first-seen order with duplicates removed.
//
// A link is either a bracket span [Page Title] or a hashtag #tag.
// Bracket spans that contain a URL, point at another project (leading
// slash), or are text decorations are not links. Code blocks and
// inline code spans are skipped entirely.
func Internal(lines []string) []string {
	var out []string
	seen := make(map[string]bool)

	add := func(title string) {
		norm := Normalize(strings.TrimSpace(title))
		if norm == "" || seen[norm] {
			return
		}
		seen[norm] = true
		out = append(out, norm)
	}

	forEachTextLine(lines, func(text string) {
		text = inlineCode.ReplaceAllString(text, "")

		for _, m := range bracketPattern.FindAllStringSubmatch(text, -1) {
			inner := m[1]
			if strings.Contains(inner, "http://") || strings.Contains(inner, "https://") {
				continue // URL link, handled by External
			}
			if strings.HasPrefix(inner, "/") {
				continue // cross-project link
			}
			if decoPrefix.MatchString(inner) {
				continue // decoration, e.g. [* bold]
			}
			add(inner)
		}

		for _, m := range hashtagPattern.FindAllStringSubmatch(text, -1) {
			add(m[1])
		}
	})

	return out
}

// External returns the external URLs found in the given content lines,
// in first-seen order with duplicates removed. Code blocks, inline code
// spans, and CLI invocation lines ("$ ..." or "% ...") are skipped so
// that sample commands do not produce phantom links.
func External(lines []string) []string {
	var out []string
	seen := make(map[string]bool)

	forEachTextLine(lines, func(text string) {
		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "$ ") || strings.HasPrefix(trimmed, "% ") {
			return
		}
		text = inlineCode.ReplaceAllString(text, "")

		for _, url := range urlPattern.FindAllString(text, -1) {
			if seen[url] {
				continue
			}
			seen[url] = true
			out = append(out, url)
		}
	})

	return out
}

// forEachTextLine calls fn for every line that is not part of a code or
// table block. A block starts at a line whose trimmed text begins with
// "code:" or "table:" and covers all following lines indented deeper
// than the opening line.
func forEachTextLine(lines []string, fn func(text string)) {
	blockIndent := -1

	for _, line := range lines {
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		trimmed := strings.TrimSpace(line)

		if blockIndent >= 0 {
			if trimmed == "" || indent > blockIndent {
				continue // still inside the block
			}
			blockIndent = -1
		}

		if strings.HasPrefix(trimmed, "code:") || strings.HasPrefix(trimmed, "table:") {
			blockIndent = indent
			continue
		}

		fn(line)
	}
}
