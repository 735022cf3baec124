// Package kb fetches and caches the knowledge-base document: the prompt
// library and vacancy descriptions the processor assembles into LLM
// prompts.
package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	bolt "go.etcd.io/bbolt"
)

var (
	markerRe = regexp.MustCompile(`#\w+#`)
	cacheBucket = []byte("kb")
	cacheKey    = []byte("prompt_library")
)

// Vacancy describes a single block of the #START_VACANCIES#...#END_VACANCIES#
// section: a set of title synonyms, an optional city list, and the raw
// description block to feed the LLM.
type Vacancy struct {
	Titles      []string `json:"titles"`
	Cities      []string `json:"cities"`
	Description string   `json:"description"`
}

// Library is the parsed knowledge-base document: named prompt blocks keyed
// by their `#MARKER#` plus the parsed vacancy list.
type Library struct {
	Blocks    map[string]string `json:"blocks"`
	Vacancies []Vacancy         `json:"vacancies"`
}

// Block returns a named prompt block, or "" if absent.
func (l Library) Block(marker string) string {
	if l.Blocks == nil {
		return ""
	}
	return l.Blocks[marker]
}

// HTTPDoer is the minimal surface Client needs from an http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches the knowledge-base document over HTTP, parses it, and
// caches the result for a configurable TTL. A bbolt-backed disk cache
// survives process restarts so a fetch failure on startup still serves the
// last known-good library.
type Client struct {
	url     string
	ttl     time.Duration
	hc      HTTPDoer
	db      *bolt.DB
	fallback Library

	mu        sync.RWMutex
	cached    Library
	fetchedAt time.Time
}

// New opens (creating if absent) the bbolt cache file at dbPath and returns
// a Client that fetches url on demand. fallback is served when both the
// network fetch and the on-disk cache are unavailable.
func New(url string, ttl time.Duration, dbPath string, hc HTTPDoer, fallback Library) (*Client, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("op=kb.New: open cache db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	}); err != nil {
		return nil, fmt.Errorf("op=kb.New: create bucket: %w", err)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{url: url, ttl: ttl, hc: hc, db: db, fallback: fallback}
	if lib, ok := c.loadDisk(); ok {
		c.cached = lib
	}
	return c, nil
}

// Close releases the underlying cache file handle.
func (c *Client) Close() error { return c.db.Close() }

// Get returns the current library, refetching from the network if the
// in-memory cache is older than ttl. A fetch error falls back to the
// previously cached value (memory, then disk, then the static fallback).
func (c *Client) Get(ctx context.Context) (Library, error) {
	c.mu.RLock()
	fresh := time.Since(c.fetchedAt) < c.ttl
	lib := c.cached
	c.mu.RUnlock()
	if fresh {
		return lib, nil
	}

	fetched, err := c.fetchWithRetry(ctx)
	if err != nil {
		c.mu.RLock()
		hasCached := !c.fetchedAt.IsZero()
		stale := c.cached
		c.mu.RUnlock()
		if hasCached {
			return stale, nil
		}
		if diskLib, ok := c.loadDisk(); ok {
			return diskLib, nil
		}
		return c.fallback, nil
	}

	c.mu.Lock()
	c.cached = fetched
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	c.saveDisk(fetched)
	return fetched, nil
}

func (c *Client) fetchWithRetry(ctx context.Context) (Library, error) {
	var lib Library
	op := func() error {
		body, err := c.fetchOnce(ctx)
		if err != nil {
			return err
		}
		lib = parse(body)
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return Library{}, fmt.Errorf("op=kb.fetch: %w", err)
	}
	return lib, nil
}

func (c *Client) fetchOnce(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("op=kb.fetchOnce: build request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=kb.fetchOnce: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("op=kb.fetchOnce: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("op=kb.fetchOnce: read body: %w", err)
	}
	return string(data), nil
}

func (c *Client) loadDisk() (Library, bool) {
	var lib Library
	found := false
	_ = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		if b == nil {
			return nil
		}
		data := b.Get(cacheKey)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &lib); err == nil {
			found = true
		}
		return nil
	})
	return lib, found
}

func (c *Client) saveDisk(lib Library) {
	data, err := json.Marshal(lib)
	if err != nil {
		return
	}
	_ = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cacheBucket).Put(cacheKey, data)
	})
}

// parse splits the raw document on `#MARKER#` tokens into named blocks, and
// lifts the #START_VACANCIES#/#END_VACANCIES# block into a parsed vacancy
// list, matching the original document layout.
func parse(text string) Library {
	blocks := map[string]string{}
	markers := markerRe.FindAllString(text, -1)
	markerSet := make(map[string]bool, len(markers))
	for _, m := range markers {
		markerSet[m] = true
	}

	parts := splitKeepDelim(text, markerRe)
	var current string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if markerSet[part] {
			current = part
			continue
		}
		if current != "" {
			blocks[current] = trimmed
			current = ""
		}
	}

	lib := Library{Blocks: blocks}
	if raw, ok := blocks["#START_VACANCIES#"]; ok {
		raw = strings.ReplaceAll(raw, "#END_VACANCIES#", "")
		delete(blocks, "#START_VACANCIES#")
		lib.Vacancies = parseVacancies(raw)
	}
	return lib
}

// splitKeepDelim splits s on re's matches, interleaving the delimiters
// themselves into the result (mirrors Python's re.split with a capturing
// group, which Go's regexp.Split does not support directly).
func splitKeepDelim(s string, re *regexp.Regexp) []string {
	var out []string
	last := 0
	for _, loc := range re.FindAllStringIndex(s, -1) {
		if loc[0] > last {
			out = append(out, s[last:loc[0]])
		}
		out = append(out, s[loc[0]:loc[1]])
		last = loc[1]
	}
	if last < len(s) {
		out = append(out, s[last:])
	}
	return out
}

// parseVacancies splits a raw vacancy-block string on the "\n&&&\n"
// separator and extracts titles/cities from each block's header lines.
func parseVacancies(raw string) []Vacancy {
	blocks := strings.Split(strings.TrimSpace(raw), "\n&&&\n")
	vacancies := make([]Vacancy, 0, len(blocks))
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		titleLine := strings.TrimSpace(lines[0])
		titleLine = strings.TrimPrefix(titleLine, "—")
		titleLine = strings.TrimSpace(titleLine)

		var titles []string
		for _, t := range strings.Split(titleLine, ",") {
			titles = append(titles, strings.ToLower(strings.TrimSpace(t)))
		}

		var cities []string
		for _, line := range lines {
			lower := strings.ToLower(strings.TrimSpace(line))
			if strings.Contains(lower, "город") && strings.Contains(lower, ":") {
				parts := strings.SplitN(line, ":", 2)
				if len(parts) == 2 {
					citiesPart := strings.ReplaceAll(parts[1], ".", "")
					for _, c := range strings.Split(citiesPart, ",") {
						c = strings.TrimSpace(c)
						c = strings.TrimRight(c, ".")
						if c != "" {
							cities = append(cities, c)
						}
					}
				}
				break
			}
		}

		vacancies = append(vacancies, Vacancy{Titles: titles, Cities: cities, Description: block})
	}
	return vacancies
}
