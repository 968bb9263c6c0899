package locationstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opengeoguess/core/internal/apierr"
)

// httpObjectStore issues `Range:` GETs against an HTTPS object-store base
// URL, retrying transient failures with exponential backoff. Grounded on
// dzfranklin-contourguessr-api's repos.go, which wraps its upstream HTTP
// fetch in backoff.Retry the same way.
type httpObjectStore struct {
	baseURL    string
	httpClient *http.Client
	maxElapsed time.Duration
}

// NewHTTPObjectStore builds an ObjectStore backed by HTTPS range reads
// against baseURL (e.g. "https://packs.example.com").
func NewHTTPObjectStore(baseURL string, httpClient *http.Client) ObjectStore {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &httpObjectStore{baseURL: baseURL, httpClient: httpClient, maxElapsed: 1 * time.Minute}
}

func (s *httpObjectStore) FetchRange(ctx context.Context, version, objectKey string, offset, length int64) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/countries/%s", s.baseURL, version, objectKey)
	var body []byte

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err // transient: retry
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusPartialContent:
			b, err := io.ReadAll(io.LimitReader(resp.Body, length))
			if err != nil {
				return err
			}
			if int64(len(b)) != length {
				return fmt.Errorf("short read: wanted %d got %d", length, len(b))
			}
			body = b
			return nil
		case http.StatusOK:
			// whole object returned; slice locally.
			all, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if int64(len(all)) < offset+length {
				return fmt.Errorf("object too short for offset %d len %d", offset, length)
			}
			body = all[offset : offset+length]
			return nil
		case http.StatusNotFound, http.StatusForbidden:
			return backoff.Permanent(fmt.Errorf("object %s: status %d", objectKey, resp.StatusCode))
		default:
			return fmt.Errorf("object %s: status %d", objectKey, resp.StatusCode)
		}
	}

	bo := backoff.WithMaxElapsedTime(backoff.NewExponentialBackOff(), s.maxElapsed)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, apierr.Wrap(apierr.CodeStoreUnavailable, "fetching pack range", err)
	}
	return body, nil
}

func (s *httpObjectStore) FetchJSON(ctx context.Context, version, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s", s.baseURL, version, path)
	var body []byte

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			if resp.StatusCode == http.StatusNotFound {
				return backoff.Permanent(fmt.Errorf("%s: not found", path))
			}
			return fmt.Errorf("%s: status %d", path, resp.StatusCode)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	bo := backoff.WithMaxElapsedTime(backoff.NewExponentialBackOff(), s.maxElapsed)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, apierr.Wrap(apierr.CodeStoreUnavailable, "fetching pack json", err)
	}
	return body, nil
}
