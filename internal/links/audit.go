package links

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// AuditConfig controls how external URLs are probed.
type AuditConfig struct {
	// Concurrency is the maximum number of probes in flight at once.
	Concurrency int

	// Timeout bounds each individual probe.
	Timeout time.Duration

	// UserAgent is sent with every probe when non-empty.
	UserAgent string
}

// DefaultAuditConfig returns the audit defaults: 5 concurrent probes,
// 30 second timeout per URL.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Concurrency: 5,
		Timeout:     30 * time.Second,
	}
}

// AuditEntry records the outcome of probing one external URL.
type AuditEntry struct {
	URL         string   `json:"url" yaml:"url"`
	StatusCode  int      `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	ContentType string   `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Error       string   `json:"error,omitempty" yaml:"error,omitempty"`
	Pages       []string `json:"pages" yaml:"pages"`
}

// OK reports whether the probe reached the server and got a non-error
// status (anything below 400).
func (e *AuditEntry) OK() bool {
	return e.Error == "" && e.StatusCode > 0 && e.StatusCode < 400
}

// Auditor probes external URLs with bounded concurrency.
type Auditor struct {
	client *http.Client
	cfg    AuditConfig
	logger *log.Logger
}

// NewAuditor creates an Auditor. If client is nil, http.DefaultClient
// is used. If logger is nil, a default logger writing to stderr is used.
func NewAuditor(client *http.Client, cfg AuditConfig, logger *log.Logger) *Auditor {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[linkcheck] ", log.LstdFlags)
	}
	return &Auditor{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Audit probes every URL in the input map, which associates each URL
// with the page titles it appears on. Results are returned sorted by
// URL regardless of probe completion order.
func (a *Auditor) Audit(ctx context.Context, urls map[string][]string) []AuditEntry {
	ordered := make([]string, 0, len(urls))
	for url := range urls {
		ordered = append(ordered, url)
	}
	sort.Strings(ordered)

	entries := make([]AuditEntry, len(ordered))
	sem := make(chan struct{}, a.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, url := range ordered {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			entries[i] = AuditEntry{URL: url, Error: ctx.Err().Error(), Pages: sortedCopy(urls[url])}
			continue
		}

		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			defer func() { <-sem }()

			entry := a.probe(ctx, url)
			entry.Pages = sortedCopy(urls[url])
			entries[i] = entry
		}(i, url)
	}

	wg.Wait()

	ok := 0
	for i := range entries {
		if entries[i].OK() {
			ok++
		}
	}
	a.logger.Printf("Audited %d URLs: %d reachable, %d broken", len(entries), ok, len(entries)-ok)

	return entries
}

// probe fetches one URL and records status code and content type, or
// the error string when the request could not complete.
func (a *Auditor) probe(ctx context.Context, url string) AuditEntry {
	entry := AuditEntry{URL: url}

	reqCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		entry.Error = err.Error()
		return entry
	}
	if a.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", a.cfg.UserAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		entry.Error = err.Error()
		return entry
	}
	defer resp.Body.Close()

	entry.StatusCode = resp.StatusCode
	entry.ContentType = resp.Header.Get("Content-Type")
	return entry
}

// WriteReport writes audit entries to path. The encoding follows the
// file extension: .yaml/.yml produce YAML, everything else JSON.
func WriteReport(path string, entries []AuditEntry) error {
	var (
		data []byte
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(entries)
	default:
		data, err = json.MarshalIndent(entries, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode audit report: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write audit report: %w", err)
	}

	return nil
}

func sortedCopy(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	sort.Strings(out)
	return out
}
