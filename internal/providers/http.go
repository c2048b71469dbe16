package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
)

const defaultRequestTimeout = 5 * time.Second

// httpDoer lets tests inject a fake transport.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &http.Client{Timeout: timeout}
}

// doRequest performs an outbound provider call and classifies failures:
// network faults, timeouts, and 5xx map to ErrProviderUnavailable (retryable);
// 4xx maps to ErrProviderRejected (not retryable). The body is returned for
// successful responses only.
func doRequest(ctx context.Context, client httpDoer, method, url string, body []byte, setHeaders func(*http.Request)) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if setHeaders != nil {
		setHeaders(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domainErrors.ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", domainErrors.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", domainErrors.ErrProviderRejected, resp.StatusCode)
	}

	return respBody, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out", domainErrors.ErrProviderUnavailable)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: request timed out", domainErrors.ErrProviderUnavailable)
	}
	return fmt.Errorf("%w: %v", domainErrors.ErrProviderUnavailable, err)
}
