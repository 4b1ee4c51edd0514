package httputil

import (
	"net/http"
	"time"
)

// NewClient builds the outbound HTTP client used for webhook deliveries.
// Callback targets are a small fixed set of operator endpoints, so idle
// connections are kept warm between retry attempts.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
