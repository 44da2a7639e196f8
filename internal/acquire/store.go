// Package acquire enumerates and fetches Archive-II volume files from the
// public Level-II object store for a session's event window.
package acquire

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Object is one store entry under a day prefix.
type Object struct {
	Key  string
	Size int64
}

// Store lists and retrieves objects. The production implementation is the
// anonymous NEXRAD bucket; tests substitute fakes.
type Store interface {
	List(ctx context.Context, prefix string) ([]Object, error)
	Fetch(ctx context.Context, key string, dst io.Writer) (int64, error)
}

// NexradStore reads the public Level-II bucket over plain HTTP. The bucket
// allows anonymous access, so the ListObjectsV2 and GET surfaces are used
// directly without an SDK or credentials.
type NexradStore struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewNexradStore creates a store client for the given bucket endpoint,
// e.g. "https://noaa-nexrad-level2.s3.amazonaws.com".
func NewNexradStore(endpoint string, timeout time.Duration, logger *slog.Logger) *NexradStore {
	return &NexradStore{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// listBucketResult is the subset of the ListObjectsV2 response the
// acquirer needs.
type listBucketResult struct {
	IsTruncated           bool   `xml:"IsTruncated"`
	NextContinuationToken string `xml:"NextContinuationToken"`
	Contents              []struct {
		Key  string `xml:"Key"`
		Size int64  `xml:"Size"`
	} `xml:"Contents"`
}

// List enumerates every object under prefix, following continuation
// tokens until the listing is complete.
func (s *NexradStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	token := ""

	for {
		page, err := s.listPage(ctx, prefix, token)
		if err != nil {
			return nil, err
		}
		for _, c := range page.Contents {
			objects = append(objects, Object{Key: c.Key, Size: c.Size})
		}
		if !page.IsTruncated || page.NextContinuationToken == "" {
			return objects, nil
		}
		token = page.NextContinuationToken
	}
}

func (s *NexradStore) listPage(ctx context.Context, prefix, token string) (listBucketResult, error) {
	params := url.Values{
		"list-type": {"2"},
		"prefix":    {prefix},
	}
	if token != "" {
		params.Set("continuation-token", token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/?"+params.Encode(), nil)
	if err != nil {
		return listBucketResult{}, fmt.Errorf("create list request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return listBucketResult{}, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return listBucketResult{}, fmt.Errorf("list %s: status %d: %s", prefix, resp.StatusCode, body)
	}

	var result listBucketResult
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return listBucketResult{}, fmt.Errorf("decode listing for %s: %w", prefix, err)
	}
	return result, nil
}

// Fetch streams one object into dst and returns the byte count. A
// cancelled context aborts the copy at the next chunk boundary.
func (s *NexradStore) Fetch(ctx context.Context, key string, dst io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/"+key, nil)
	if err != nil {
		return 0, fmt.Errorf("create fetch request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch %s: status %d", key, resp.StatusCode)
	}

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return n, fmt.Errorf("fetch %s: copy body: %w", key, err)
	}
	return n, nil
}
