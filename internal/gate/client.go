package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client queries the quality-analysis service for per-unit verdicts over
// its HTTP API. The service is a black box: stagehand only reads the
// named verdict, it never pushes anything.
type Client struct {
	client  *http.Client
	baseURL string
	token   string
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: baseURL,
		token:   token,
	}
}

type verdictResponse struct {
	Status     string    `json:"status"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// GetVerdict fetches the current verdict for one unit. A 404 means the
// unit has never been analyzed and maps to NO_DATA rather than an error.
func (c *Client) GetVerdict(ctx context.Context, unitName string) (Result, error) {
	endpoint := fmt.Sprintf("%s/api/v1/verdicts/%s", c.baseURL, url.PathEscape(unitName))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create verdict request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("verdict request for %s failed: %w", unitName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Result{UnitName: unitName, Status: StatusNoData, FetchedAt: time.Now()}, nil
	}
	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("verdict request for %s returned status %d", unitName, resp.StatusCode)
	}

	var body verdictResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("failed to decode verdict for %s: %w", unitName, err)
	}

	status, err := parseStatus(body.Status)
	if err != nil {
		return Result{}, fmt.Errorf("verdict for %s: %w", unitName, err)
	}
	return Result{UnitName: unitName, Status: status, FetchedAt: time.Now()}, nil
}

func parseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPassed, StatusFailed, StatusNoData, StatusPending:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown verdict status %q", s)
	}
}
