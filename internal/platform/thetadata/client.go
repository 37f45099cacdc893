package thetadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/optflow/internal/domain"
)

// Client is the REST client for the ThetaData terminal snapshot endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a REST client.
//
// baseURL is the terminal's HTTP root, e.g. "http://127.0.0.1:25510".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// spotResponse is the wire shape of the stock snapshot endpoint.
type spotResponse struct {
	Price   float64 `json:"price"`
	Date    int     `json:"date"`
	MsOfDay int     `json:"ms_of_day"`
}

// GetSpot returns the latest underlying price for a root and its observation
// time. A zero or missing price maps to domain.ErrSpotUnavailable.
func (c *Client) GetSpot(ctx context.Context, root string) (float64, time.Time, error) {
	params := url.Values{}
	params.Set("root", root)
	path := "/v2/snapshot/stock/price?" + params.Encode()

	body, err := c.doGet(ctx, path)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("thetadata: get spot %s: %w", root, err)
	}

	var resp spotResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, time.Time{}, fmt.Errorf("thetadata: decode spot %s: %w", root, err)
	}
	if resp.Price <= 0 {
		return 0, time.Time{}, fmt.Errorf("thetadata: spot %s: %w", root, domain.ErrSpotUnavailable)
	}

	return resp.Price, wireTimestamp(resp.Date, resp.MsOfDay), nil
}

// doGet sends an unauthenticated GET request to the terminal.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 200))
	}

	return body, nil
}

// truncate clips an error body for inclusion in error messages.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
