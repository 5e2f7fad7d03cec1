// Package fetcher downloads a release asset and checks it is a sound package.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/oshokin/wg-upgrade/internal/config"
	"github.com/oshokin/wg-upgrade/internal/domain/release"
	"github.com/oshokin/wg-upgrade/internal/domain/upgrade"
	"github.com/oshokin/wg-upgrade/internal/logger"
	"github.com/oshokin/wg-upgrade/internal/platform/dpkg"
	"github.com/oshokin/wg-upgrade/internal/platform/shell"
	"github.com/oshokin/wg-upgrade/internal/version"
)

const digestPrefix = "sha256:"

var (
	errBadHTTPStatus   = errors.New("unexpected http status")
	errChecksum        = errors.New("checksum mismatch")
	errSizeMismatch    = errors.New("size mismatch")
	errUnsupportedHash = errors.New("unsupported digest algorithm")
)

// Doer sends HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Inspector reads package control data.
type Inspector interface {
	Inspect(ctx context.Context, path, want string) (dpkg.Info, error)
}

// Package is a downloaded and verified package archive.
type Package struct {
	// Path is the local file.
	Path string
	// SHA256 is the digest of the file contents.
	SHA256 []byte
	// Info is the archive's control data.
	Info dpkg.Info
}

// Fetcher downloads assets.
type Fetcher struct {
	client    Doer
	inspector Inspector
	pkg       string
}

// New returns a Fetcher expecting archives of package pkg (nil client means a client with timeout).
func New(client Doer, inspector Inspector, pkg string, timeout time.Duration) *Fetcher {
	if client == nil {
		if timeout <= 0 {
			timeout = config.DefaultTimeout
		}

		client = &http.Client{Timeout: timeout}
	}

	return &Fetcher{
		client:    client,
		inspector: inspector,
		pkg:       pkg,
	}
}

// Fetch downloads a into a new file under destDir and verifies it.
// The file is removed when any check fails.
func (f *Fetcher) Fetch(ctx context.Context, a release.Asset, destDir string) (pkg Package, err error) {
	ctx = logger.WithKV(ctx, "asset", a.Name)
	logger.InfoKV(ctx, "Downloading package", "url", a.DownloadURL)

	out, err := os.CreateTemp(destDir, "package-*.deb")
	if err != nil {
		return Package{}, upgrade.Fail(upgrade.StageFetch, upgrade.ErrDownload, err, -1)
	}

	defer func() {
		if err != nil {
			_ = os.Remove(out.Name())
		}
	}()

	sum, written, err := f.download(ctx, a.DownloadURL, out)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = closeErr
	}

	if err != nil {
		return Package{}, upgrade.Fail(upgrade.StageFetch, upgrade.ErrDownload, err, -1)
	}

	if err = verify(a, sum, written); err != nil {
		return Package{}, upgrade.Fail(upgrade.StageFetch, upgrade.ErrIntegrity, err, -1)
	}

	info, err := f.inspector.Inspect(ctx, out.Name(), f.pkg)
	if err != nil {
		return Package{}, upgrade.Fail(upgrade.StageFetch, upgrade.ErrIntegrity, err, shell.ExitStatus(err))
	}

	logger.InfoKV(ctx, "Package downloaded",
		"path", out.Name(),
		"bytes", written,
		"sha256", hex.EncodeToString(sum),
		"version", info.Version)

	return Package{
		Path:   out.Name(),
		SHA256: sum,
		Info:   info,
	}, nil
}

func (f *Fetcher) download(ctx context.Context, url string, out io.Writer) ([]byte, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("User-Agent", version.UserAgent())

	response, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("%s, %s: %w", url, response.Status, errBadHTTPStatus)
	}

	hash := sha256.New()

	written, err := io.Copy(io.MultiWriter(out, hash), response.Body)
	if err != nil {
		return nil, written, err
	}

	return hash.Sum(nil), written, nil
}

// verify checks the advertised size and digest, when the index publishes them.
func verify(a release.Asset, sum []byte, written int64) error {
	if a.Size > 0 && a.Size != written {
		return fmt.Errorf("got %d bytes, index lists %d: %w", written, a.Size, errSizeMismatch)
	}

	if a.Digest == "" {
		return nil
	}

	algo, want, ok := strings.Cut(a.Digest, ":")
	if !ok || !strings.EqualFold(algo+":", digestPrefix) {
		return fmt.Errorf("%q: %w", a.Digest, errUnsupportedHash)
	}

	if got := hex.EncodeToString(sum); !strings.EqualFold(got, want) {
		return fmt.Errorf("sha256 %s, index lists %s: %w", got, want, errChecksum)
	}

	return nil
}
