package upgrade

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/wg-upgrade/internal/service/fetcher"
)

func downloaded(t *testing.T, contents string) fetcher.Package {
	t.Helper()

	path := filepath.Join(t.TempDir(), "package.deb")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	sum := sha256.Sum256([]byte(contents))

	return fetcher.Package{Path: path, SHA256: sum[:]}
}

// TestFirstbootPersister_Persist places the package and removes the download.
func TestFirstbootPersister_Persist(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "install-packages")
	p := NewFirstbootPersister(dir, "wireguard.deb")
	ctx := context.Background()

	pkg := downloaded(t, "first")
	require.NoError(t, p.Persist(ctx, pkg))
	require.NoFileExists(t, pkg.Path)

	data, err := os.ReadFile(p.Target())
	require.NoError(t, err)
	require.Equal(t, "first", string(data))

	pkg = downloaded(t, "second")
	require.NoError(t, p.Persist(ctx, pkg))

	data, err = os.ReadFile(p.Target())
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}

// TestFirstbootPersister_ChecksumMismatch keeps the previous package.
func TestFirstbootPersister_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := NewFirstbootPersister(dir, "wireguard.deb")
	require.NoError(t, os.WriteFile(p.Target(), []byte("previous"), 0o600))

	pkg := downloaded(t, "tampered")
	pkg.SHA256 = make([]byte, sha256.Size)

	require.Error(t, p.Persist(context.Background(), pkg))
	require.FileExists(t, pkg.Path)

	data, err := os.ReadFile(p.Target())
	require.NoError(t, err)
	require.Equal(t, "previous", string(data))
}

// TestFirstbootPersister_NoChecksum refuses unverified packages.
func TestFirstbootPersister_NoChecksum(t *testing.T) {
	t.Parallel()

	p := NewFirstbootPersister(t.TempDir(), "wireguard.deb")

	err := p.Persist(context.Background(), fetcher.Package{Path: "/nonexistent"})
	require.ErrorIs(t, err, errNoChecksum)
}
