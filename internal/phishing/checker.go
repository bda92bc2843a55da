// Package phishing checks whether reported phishing items are still
// reachable. The Checker contract is consumed by the lifecycle controller;
// the HTTP probe is the default implementation.
package phishing

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jamiejackherer/cerberus-core/internal/domain"
)

// Checker reports whether every item of a ticket's reports is down.
type Checker interface {
	AllDown(ctx context.Context, reports []domain.Report) (bool, error)
}

// HTTPChecker probes each URL item with a HEAD request. An item counts as
// down when the probe errors or returns a 5xx/404 status.
type HTTPChecker struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPChecker constructs a checker with the given per-probe timeout.
func NewHTTPChecker(timeout time.Duration, logger *zap.Logger) *HTTPChecker {
	return &HTTPChecker{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// AllDown probes every URL item across the reports. A ticket with no URL
// items is never "all down".
func (c *HTTPChecker) AllDown(ctx context.Context, reports []domain.Report) (bool, error) {
	probed := 0
	for _, report := range reports {
		for _, item := range report.Items {
			if item.ItemType != domain.ItemTypeURL || item.URL == "" {
				continue
			}
			probed++
			if !c.itemDown(ctx, item.URL) {
				return false, nil
			}
		}
	}
	return probed > 0, nil
}

func (c *HTTPChecker) itemDown(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return true
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("phishing probe failed", zap.String("url", url), zap.Error(err))
		return true
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusNotFound || resp.StatusCode >= http.StatusInternalServerError
}
