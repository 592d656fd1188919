package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// IdentifyChecker implements health checking for the identification service.
type IdentifyChecker struct {
	url    string
	client *http.Client
}

// NewIdentifyChecker creates a checker for the identification service base URL.
func NewIdentifyChecker(url string) *IdentifyChecker {
	return &IdentifyChecker{
		url: url,
		client: &http.Client{
			Timeout: 3 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// HealthCheck issues a HEAD request. The service exposes no health route, so
// any response below 500 counts as reachable.
func (c *IdentifyChecker) HealthCheck(ctx context.Context) error {
	if c.url == "" {
		return fmt.Errorf("identification service url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach identification service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("identification service unhealthy: unexpected status code %d", resp.StatusCode)
	}
	return nil
}
