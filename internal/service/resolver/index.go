package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oshokin/wg-upgrade/internal/config"
	"github.com/oshokin/wg-upgrade/internal/domain/release"
	"github.com/oshokin/wg-upgrade/internal/logger"
	"github.com/oshokin/wg-upgrade/internal/version"
)

// maxIndexSize bounds the release index body.
const maxIndexSize = 8 << 20

var (
	errBadHTTPStatus = errors.New("unexpected http status")
	errEmptyIndex    = errors.New("release index is empty")
	errTruncated     = errors.New("release index exceeds size limit")
)

// Doer sends HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPIndex fetches the release list from an unauthenticated JSON endpoint.
type HTTPIndex struct {
	url    string
	client Doer
}

// NewHTTPIndex returns an index reading url with client (nil means a client with timeout).
func NewHTTPIndex(url string, client Doer, timeout time.Duration) *HTTPIndex {
	if client == nil {
		if timeout <= 0 {
			timeout = config.DefaultTimeout
		}

		client = &http.Client{Timeout: timeout}
	}

	return &HTTPIndex{
		url:    url,
		client: client,
	}
}

// indexRelease is one entry of the GitHub releases API.
type indexRelease struct {
	TagName    string       `json:"tag_name"`
	Draft      bool         `json:"draft"`
	Prerelease bool         `json:"prerelease"`
	Assets     []indexAsset `json:"assets"`
}

type indexAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Digest             string `json:"digest"`
	Size               int64  `json:"size"`
}

// Releases returns the published releases newest first. Drafts are skipped.
func (x *HTTPIndex) Releases(ctx context.Context) ([]release.Release, error) {
	logger.InfoKV(ctx, "Fetching release index", "url", x.url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, x.url, http.NoBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", version.UserAgent())

	response, err := x.client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s, %s: %w", x.url, response.Status, errBadHTTPStatus)
	}

	data, err := io.ReadAll(io.LimitReader(response.Body, maxIndexSize+1))
	if err != nil {
		return nil, err
	}

	if len(data) > maxIndexSize {
		return nil, errTruncated
	}

	return DecodeIndex(data)
}

// DecodeIndex parses a GitHub-style release list.
func DecodeIndex(data []byte) ([]release.Release, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyIndex
	}

	var entries []indexRelease
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode release index: %w", err)
	}

	releases := make([]release.Release, 0, len(entries))

	for _, e := range entries {
		if e.Draft || strings.TrimSpace(e.TagName) == "" {
			continue
		}

		r := release.Release{
			Tag:    strings.TrimSpace(e.TagName),
			Assets: make([]release.Asset, 0, len(e.Assets)),
		}

		for _, a := range e.Assets {
			r.Assets = append(r.Assets, release.Asset{
				Name:        a.Name,
				DownloadURL: a.BrowserDownloadURL,
				Digest:      a.Digest,
				Size:        a.Size,
			})
		}

		releases = append(releases, r)
	}

	if len(releases) == 0 {
		return nil, errEmptyIndex
	}

	return releases, nil
}
