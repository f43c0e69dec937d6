package downloader

import (
	"net/http"
	"time"
)

// Option customizes a Service.
type Option func(*Service)

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		s.client = client
	}
}

// WithRetryInterval overrides the initial backoff interval between attempts.
func WithRetryInterval(interval time.Duration) Option {
	return func(s *Service) {
		s.retryInterval = interval
	}
}

// WithProgress installs a callback invoked as archive bytes arrive.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Service) {
		s.progress = fn
	}
}
