package archive

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Harvey-AU/huntsman/internal/crawler"
)

// CrawlRun is the archived outcome of one finished crawl.
type CrawlRun struct {
	RunID        string                `json:"run_id"`
	BaseURL      string                `json:"base_url"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at"`
	Summary      crawler.Summary       `json:"summary"`
	Results      []crawler.CrawlResult `json:"results"`
	Technologies []string              `json:"technologies,omitempty"`
}

// Store persists crawl runs as one JSON file per site, with a concurrent-safe
// in-memory front so repeated loads skip the disk.
type Store struct {
	dir string

	mu   sync.RWMutex
	runs map[string]*CrawlRun
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", dir, err)
	}
	return &Store{
		dir:  dir,
		runs: make(map[string]*CrawlRun),
	}, nil
}

// filePath maps a base URL to its archive file, one per host.
func (s *Store) filePath(baseURL string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("archive: invalid base URL %q: %w", baseURL, err)
	}
	host := strings.ToLower(parsed.Host)
	if host == "" {
		return "", fmt.Errorf("archive: base URL %q has no host", baseURL)
	}
	// Ports appear in hosts during local testing; keep the name file-safe.
	host = strings.ReplaceAll(host, ":", "_")
	return filepath.Join(s.dir, host+".json"), nil
}

// Save writes the run to its site's archive file, replacing any earlier run
// for the same host. Returns the file path written.
func (s *Store) Save(run *CrawlRun) (string, error) {
	path, err := s.filePath(run.BaseURL)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: encode run %s: %w", run.RunID, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("archive: write %s: %w", path, err)
	}

	s.mu.Lock()
	s.runs[path] = run
	s.mu.Unlock()

	log.Debug().
		Str("path", path).
		Str("run_id", run.RunID).
		Int("pages", len(run.Results)).
		Msg("Archived crawl run")

	return path, nil
}

// Load returns the most recent archived run for a site. The error wraps
// fs.ErrNotExist when the site has never been crawled.
func (s *Store) Load(baseURL string) (*CrawlRun, error) {
	path, err := s.filePath(baseURL)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	cached, ok := s.runs[path]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", path, err)
	}

	var run CrawlRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("archive: decode %s: %w", path, err)
	}

	s.mu.Lock()
	s.runs[path] = &run
	s.mu.Unlock()

	return &run, nil
}

// Delta summarises how a crawl differs from the previous archived run.
type Delta struct {
	New     []string `json:"new,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Changed []string `json:"changed,omitempty"`
}

// Empty reports whether the two runs matched page for page.
func (d Delta) Empty() bool {
	return len(d.New) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Compare reports URL-level differences between two runs. A page counts as
// changed when its status code or title moved. A nil previous run marks every
// current page as new.
func Compare(previous, current *CrawlRun) Delta {
	var delta Delta
	if current == nil {
		return delta
	}
	if previous == nil {
		for _, res := range current.Results {
			delta.New = append(delta.New, res.URL)
		}
		return delta
	}

	prev := make(map[string]crawler.CrawlResult, len(previous.Results))
	for _, res := range previous.Results {
		prev[res.URL] = res
	}

	seen := make(map[string]struct{}, len(current.Results))
	for _, res := range current.Results {
		seen[res.URL] = struct{}{}
		old, ok := prev[res.URL]
		if !ok {
			delta.New = append(delta.New, res.URL)
			continue
		}
		if old.StatusCode != res.StatusCode || old.Title != res.Title {
			delta.Changed = append(delta.Changed, res.URL)
		}
	}

	for pageURL := range prev {
		if _, ok := seen[pageURL]; !ok {
			delta.Removed = append(delta.Removed, pageURL)
		}
	}
	sort.Strings(delta.Removed)

	return delta
}
