package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// maxArtifactBytes caps a fetched artifact.
const maxArtifactBytes = 2 << 20

var (
	// ErrArtifactNotFound is returned when storage has no object at the URL.
	ErrArtifactNotFound = errors.New("compiled artifact not found")
	// ErrFetchTransient is returned when storage failed in a way worth retrying.
	ErrFetchTransient = errors.New("artifact storage temporarily unavailable")
	// ErrInvalidArtifact is returned when the artifact cannot be made to run.
	ErrInvalidArtifact = errors.New("compiled artifact is invalid")
)

type fetcher struct {
	client   *http.Client
	attempts uint
	interval time.Duration
	now      func() time.Time
}

// bust appends a cache-busting query parameter.
func (f *fetcher) bust(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(f.now().UnixNano(), 10))
	u.RawQuery = q.Encode()
	return u.String()
}

// fetch downloads an artifact. Not-found and bad requests fail at once;
// server errors and network failures are retried.
func (f *fetcher) fetch(ctx context.Context, rawURL string, refresh bool) (string, error) {
	target := rawURL
	if refresh {
		target = f.bust(rawURL)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.interval
	return backoff.Retry(ctx, func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return "", backoff.Permanent(fmt.Errorf("%w: bad artifact url: %v", ErrArtifactNotFound, err))
		}
		if refresh {
			req.Header.Set("Cache-Control", "no-cache")
		}
		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", backoff.Permanent(ctx.Err())
			}
			return "", fmt.Errorf("%w: %v", ErrFetchTransient, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			return "", backoff.Permanent(fmt.Errorf("%w: %s", ErrArtifactNotFound, rawURL))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return "", fmt.Errorf("%w: status %d", ErrFetchTransient, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return "", backoff.Permanent(fmt.Errorf("%w: status %d", ErrFetchTransient, resp.StatusCode))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes+1))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrFetchTransient, err)
		}
		if len(body) > maxArtifactBytes {
			return "", backoff.Permanent(fmt.Errorf("%w: artifact larger than %d bytes", ErrInvalidArtifact, maxArtifactBytes))
		}
		return string(body), nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(f.attempts))
}
