package watchlist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const userAgent = "vessel-tracker/1.0"

// ClientConfig configures the upstream watchlist provider client. Zero
// values select defaults.
type ClientConfig struct {
	BaseURL         string
	VesselsEndpoint string
	ListsEndpoint   string

	// AuthType is one of "none", "bearer", "apikey" or "basic".
	AuthType  string
	AuthToken string

	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// Client fetches watchlist data from the HTTP provider.
type Client struct {
	cfg    ClientConfig
	client *http.Client
	logger *zap.Logger
}

// NewClient creates a Client for the given provider.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.VesselsEndpoint == "" {
		cfg.VesselsEndpoint = "/api/vessels"
	}
	if cfg.ListsEndpoint == "" {
		cfg.ListsEndpoint = "/api/lists"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "watchlist-api")),
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	switch c.cfg.AuthType {
	case "bearer":
		if c.cfg.AuthToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
		}
	case "apikey":
		if c.cfg.AuthToken != "" {
			req.Header.Set("X-API-Key", c.cfg.AuthToken)
		}
	case "basic":
		if c.cfg.AuthToken != "" {
			req.Header.Set("Authorization", "Basic "+c.cfg.AuthToken)
		}
	}
}

// fetchEndpoint GETs a JSON array with exponential-backoff retries.
func (c *Client) fetchEndpoint(ctx context.Context, endpoint string) ([]map[string]any, error) {
	url := c.cfg.BaseURL + endpoint

	var lastErr error
	delay := c.cfg.RetryDelay
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			if delay *= 2; delay > 10*time.Second {
				delay = 10 * time.Second
			}
		}

		items, err := c.fetchOnce(ctx, url)
		if err == nil {
			return items, nil
		}
		lastErr = err
		c.logger.Warn("fetch attempt failed", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, url string) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("watchlist: %s returned status %d", url, resp.StatusCode)
	}

	var items []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("watchlist: decode %s: %w", url, err)
	}
	return items, nil
}

// FetchVessels returns the provider's vessel entries with heterogeneous
// input keys normalized.
func (c *Client) FetchVessels(ctx context.Context) ([]Entry, error) {
	items, err := c.fetchEndpoint(ctx, c.cfg.VesselsEndpoint)
	if err != nil {
		return nil, err
	}
	vessels := make([]Entry, 0, len(items))
	for _, item := range items {
		vessels = append(vessels, Entry{
			MMSI:   stringValue(item["mmsi"]),
			IMO:    stringValue(item["imo"]),
			ListID: firstString(item, "list_id", "listId"),
		})
	}
	return vessels, nil
}

// FetchLists returns the provider's list metadata.
func (c *Client) FetchLists(ctx context.Context) ([]ListInfo, error) {
	items, err := c.fetchEndpoint(ctx, c.cfg.ListsEndpoint)
	if err != nil {
		return nil, err
	}
	lists := make([]ListInfo, 0, len(items))
	for _, item := range items {
		lists = append(lists, ListInfo{
			ListID:   firstString(item, "list_id", "listId", "id"),
			ListName: firstString(item, "list_name", "listName", "name"),
			Color:    stringValue(item["color"]),
		})
	}
	return lists, nil
}

// FetchAll fetches vessels and lists concurrently. Either failure fails the
// whole call.
func (c *Client) FetchAll(ctx context.Context) ([]Entry, []ListInfo, error) {
	var (
		wg         sync.WaitGroup
		vessels    []Entry
		lists      []ListInfo
		vesselsErr error
		listsErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vessels, vesselsErr = c.FetchVessels(ctx)
	}()
	go func() {
		defer wg.Done()
		lists, listsErr = c.FetchLists(ctx)
	}()
	wg.Wait()

	if vesselsErr != nil {
		return nil, nil, vesselsErr
	}
	if listsErr != nil {
		return nil, nil, listsErr
	}
	return vessels, lists, nil
}

// UpdateVesselByIMO pushes last-known attributes for a vessel the provider
// only knows by IMO.
func (c *Client) UpdateVesselByIMO(ctx context.Context, imo string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	url := c.cfg.BaseURL + "/vessels/update-by-imo/" + imo
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("watchlist: update by imo %s returned status %d", imo, resp.StatusCode)
	}
	return nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func firstString(item map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringValue(item[key]); s != "" {
			return s
		}
	}
	return ""
}
