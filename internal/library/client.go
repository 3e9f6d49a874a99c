package library

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mwald/warden/internal/catalog"
	"github.com/mwald/warden/internal/predicate"
	"github.com/mwald/warden/internal/rule"
)

// actionBatchSize is how many hashes go into one API call. The API
// accepts arbitrarily large batches but degrades badly past a few
// hundred files.
const actionBatchSize = 256

const accessKeyHeader = "Warden-Client-API-Access-Key"

// Client talks to the remote library's HTTP API. It implements
// Search, Actioner and catalog.Provider.
type Client struct {
	baseURL   string
	accessKey string
	http      *http.Client
	log       *slog.Logger
}

// NewClient builds a client for the API at baseURL. A zero timeout
// defaults to 60s; searches over large libraries are slow.
func NewClient(baseURL, accessKey string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:   baseURL,
		accessKey: accessKey,
		http:      &http.Client{Timeout: timeout},
		log:       log,
	}
}

// Snapshot implements catalog.Provider.
func (c *Client) Snapshot(ctx context.Context) (*catalog.Catalog, error) {
	var resp struct {
		Services map[string]struct {
			Name     string `json:"name"`
			Type     int    `json:"type"`
			MaxStars int    `json:"max_stars"`
		} `json:"services"`
	}
	if err := c.get(ctx, "/get_services", nil, &resp); err != nil {
		return nil, fmt.Errorf("snapshot services: %w", err)
	}

	services := make([]catalog.Service, 0, len(resp.Services))
	for key, s := range resp.Services {
		services = append(services, catalog.Service{
			Key:      key,
			Name:     s.Name,
			Kind:     serviceKind(s.Type),
			MaxStars: s.MaxStars,
		})
	}
	return catalog.New(services), nil
}

// Remote service type numbers, per the API documentation.
func serviceKind(t int) catalog.Kind {
	switch t {
	case 2:
		return catalog.KindLocalFileDomain
	case 0, 5:
		return catalog.KindTagService
	case 7:
		return catalog.KindLikeDislike
	case 6:
		return catalog.KindNumerical
	case 22:
		return catalog.KindIncDec
	default:
		return catalog.KindUnknown
	}
}

// Query implements Search.
func (c *Client) Query(ctx context.Context, q predicate.Query, limit int, deep bool) ([]string, error) {
	tags := make([]any, 0, len(q)+1)
	for _, clause := range q {
		switch v := clause.(type) {
		case predicate.Term:
			tags = append(tags, string(v))
		case predicate.OrClause:
			group := make([]string, len(v))
			for i, t := range v {
				group[i] = string(t)
			}
			tags = append(tags, group)
		}
	}
	if limit > 0 {
		tags = append(tags, fmt.Sprintf("system:limit = %d", limit))
	}

	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("search: encode predicates: %w", err)
	}

	var resp struct {
		Hashes []string `json:"hashes"`
	}
	params := url.Values{
		"tags":          {string(tagsJSON)},
		"return_hashes": {"true"},
	}
	if err := c.get(ctx, "/get_files/search_files", params, &resp); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	c.log.Debug("search complete",
		"clauses", len(q), "limit", limit, "deep", deep, "hits", len(resp.Hashes))
	if resp.Hashes == nil {
		return []string{}, nil
	}
	return resp.Hashes, nil
}

// ApplyPlacement implements Actioner.
func (c *Client) ApplyPlacement(ctx context.Context, hashes, destinations []string, mode PlacementMode) ([]Result, error) {
	results, err := c.perBatch(ctx, hashes, func(batch []string) error {
		for _, dest := range destinations {
			if err := c.post(ctx, "/add_files/migrate_files", map[string]any{
				"hashes":           batch,
				"file_service_key": dest,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if mode != PlacementForce {
		return results, nil
	}
	return c.enforcePlacement(ctx, results, destinations)
}

// enforcePlacement finishes a PlacementForce call: verify each copied
// file actually reached every destination, then remove the verified
// ones from every other local file domain. Files that fail
// verification keep their old locations.
func (c *Client) enforcePlacement(ctx context.Context, copied []Result, destinations []string) ([]Result, error) {
	verified := []string{}
	candidates := []string{}
	for _, r := range copied {
		if r.OK() {
			candidates = append(candidates, r.Hash)
		}
	}
	if len(candidates) == 0 {
		return copied, nil
	}

	located, err := c.fileLocations(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("verify placement: %w", err)
	}

	results := make([]Result, 0, len(copied))
	for _, r := range copied {
		if !r.OK() {
			results = append(results, r)
			continue
		}
		if missing := missingDestinations(located[r.Hash], destinations); len(missing) > 0 {
			results = append(results, Result{Hash: r.Hash,
				Err: fmt.Sprintf("not present in destination after copy: %v", missing)})
			continue
		}
		results = append(results, Result{Hash: r.Hash})
		verified = append(verified, r.Hash)
	}
	if len(verified) == 0 {
		return results, nil
	}

	cat, err := c.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("enforce placement: %w", err)
	}
	dest := make(map[string]bool, len(destinations))
	for _, d := range destinations {
		dest[d] = true
	}

	for _, domain := range cat.LocalFileDomains() {
		if dest[domain.Key] {
			continue
		}
		// Only delete from domains a verified file actually occupies.
		toRemove := []string{}
		for _, h := range verified {
			if located[h][domain.Key] {
				toRemove = append(toRemove, h)
			}
		}
		if len(toRemove) == 0 {
			continue
		}
		removal, err := c.perBatch(ctx, toRemove, func(batch []string) error {
			return c.post(ctx, "/add_files/delete_files", map[string]any{
				"hashes":           batch,
				"file_service_key": domain.Key,
			})
		})
		if err != nil {
			return nil, err
		}
		results = mergeFailures(results, removal, "remove from "+domain.Name)
	}
	return results, nil
}

// fileLocations maps each hash to the set of file service keys it is
// currently in.
func (c *Client) fileLocations(ctx context.Context, hashes []string) (map[string]map[string]bool, error) {
	hashesJSON, err := json.Marshal(hashes)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Metadata []struct {
			Hash         string `json:"hash"`
			FileServices struct {
				Current map[string]json.RawMessage `json:"current"`
			} `json:"file_services"`
		} `json:"metadata"`
	}
	params := url.Values{"hashes": {string(hashesJSON)}}
	if err := c.get(ctx, "/get_files/file_metadata", params, &resp); err != nil {
		return nil, err
	}

	located := make(map[string]map[string]bool, len(resp.Metadata))
	for _, m := range resp.Metadata {
		keys := make(map[string]bool, len(m.FileServices.Current))
		for k := range m.FileServices.Current {
			keys[k] = true
		}
		located[m.Hash] = keys
	}
	return located, nil
}

func missingDestinations(current map[string]bool, destinations []string) []string {
	missing := []string{}
	for _, d := range destinations {
		if !current[d] {
			missing = append(missing, d)
		}
	}
	return missing
}

func mergeFailures(base, updates []Result, stage string) []Result {
	failed := make(map[string]string)
	for _, u := range updates {
		if !u.OK() {
			failed[u.Hash] = stage + ": " + u.Err
		}
	}
	for i, r := range base {
		if msg, ok := failed[r.Hash]; ok && r.OK() {
			base[i].Err = msg
		}
	}
	return base
}

// ApplyTags implements Actioner.
func (c *Client) ApplyTags(ctx context.Context, hashes []string, service string, tags []string, mode TagMode) ([]Result, error) {
	// Action 0 adds, 1 deletes, per the API's tag update encoding.
	action := "0"
	if mode == TagsRemove {
		action = "1"
	}
	return c.perBatch(ctx, hashes, func(batch []string) error {
		return c.post(ctx, "/add_tags/add_tags", map[string]any{
			"hashes": batch,
			"service_keys_to_actions_to_tags": map[string]any{
				service: map[string]any{action: tags},
			},
		})
	})
}

// ApplyRating implements Actioner. The rating endpoint is
// single-hash, so this is one call per file.
func (c *Client) ApplyRating(ctx context.Context, hashes []string, service string, value rule.RatingValue) ([]Result, error) {
	var rating any
	switch value.Kind {
	case rule.RatingValueNone:
		rating = nil
	case rule.RatingValueLike:
		rating = true
	case rule.RatingValueDislike:
		rating = false
	case rule.RatingValueNumeric:
		rating = value.Numeric
	default:
		return nil, fmt.Errorf("apply rating: unknown value kind %q", value.Kind)
	}

	results := make([]Result, 0, len(hashes))
	for _, h := range hashes {
		err := c.post(ctx, "/edit_ratings/set_rating", map[string]any{
			"hash":               h,
			"rating_service_key": service,
			"rating":             rating,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			results = append(results, Result{Hash: h, Err: err.Error()})
			continue
		}
		results = append(results, Result{Hash: h})
	}
	return results, nil
}

// ApplyArchive implements Actioner.
func (c *Client) ApplyArchive(ctx context.Context, hashes []string) ([]Result, error) {
	return c.perBatch(ctx, hashes, func(batch []string) error {
		return c.post(ctx, "/add_files/archive_files", map[string]any{
			"hashes": batch,
		})
	})
}

// perBatch runs call over hashes in batches. A failed batch is
// retried hash by hash so one bad file doesn't take down its
// neighbours; only the individual failures are reported.
func (c *Client) perBatch(ctx context.Context, hashes []string, call func(batch []string) error) ([]Result, error) {
	results := make([]Result, 0, len(hashes))
	for start := 0; start < len(hashes); start += actionBatchSize {
		end := min(start+actionBatchSize, len(hashes))
		batch := hashes[start:end]

		err := call(batch)
		if err == nil {
			results = append(results, successAll(batch)...)
			continue
		}
		if ctx.Err() != nil {
			return nil, err
		}

		c.log.Warn("batch call failed, retrying per file",
			"batch_size", len(batch), "error", err)
		for _, h := range batch {
			if err := call([]string{h}); err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				results = append(results, Result{Hash: h, Err: err.Error()})
				continue
			}
			results = append(results, Result{Hash: h})
		}
	}
	return results, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set(accessKeyHeader, c.accessKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
