package asset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/wg-upgrade/internal/domain/device"
	"github.com/oshokin/wg-upgrade/internal/domain/release"
	"github.com/oshokin/wg-upgrade/internal/domain/upgrade"
)

func profile(t *testing.T, raw, firmware string) device.Profile {
	t.Helper()

	p, err := device.NewProfile(device.NewAliases(nil), raw, firmware)
	require.NoError(t, err)

	return p
}

func assets(names ...string) release.Release {
	r := release.Release{Tag: "1.2.0"}
	for _, n := range names {
		r.Assets = append(r.Assets, release.Asset{Name: n, DownloadURL: "https://example.invalid/" + n})
	}

	return r
}

// TestSelect_FirstGenerationUSG picks the asset without the generation marker.
func TestSelect_FirstGenerationUSG(t *testing.T) {
	t.Parallel()

	r := assets("ugw3-v1.deb", "ugw3-v2.deb")
	p := profile(t, "e120", "v1.9.0")

	got, err := Select(context.Background(), r, p)
	require.NoError(t, err)
	require.Equal(t, "ugw3-v1.deb", got.Name)

	again, err := Select(context.Background(), r, p)
	require.NoError(t, err)
	require.Equal(t, got, again)
}

// TestSelect_RealNames matches the published naming scheme.
func TestSelect_RealNames(t *testing.T) {
	t.Parallel()

	r := assets(
		"e100-v1.0.20220627-v1.0.20210914.deb",
		"e300-v1.0.20220627-v1.0.20210914.deb",
		"e300-v2-v1.0.20220627-v1.0.20210914.deb",
		"ugw4-v1.0.20220627-v1.0.20210914.deb",
	)

	got, err := Select(context.Background(), r, profile(t, "e300", "v2.0.9-hotfix.7"))
	require.NoError(t, err)
	require.Equal(t, "e300-v2-v1.0.20220627-v1.0.20210914.deb", got.Name)

	got, err = Select(context.Background(), r, profile(t, "e300", "v1.10.11"))
	require.NoError(t, err)
	require.Equal(t, "e300-v1.0.20220627-v1.0.20210914.deb", got.Name)

	got, err = Select(context.Background(), r, profile(t, "e220", "4.4.57.5578372"))
	require.NoError(t, err)
	require.Equal(t, "ugw4-v1.0.20220627-v1.0.20210914.deb", got.Name)
}

// TestSelect_NoMatch fails when the board has no build.
func TestSelect_NoMatch(t *testing.T) {
	t.Parallel()

	r := assets("e100-v2-x.deb", "e3000-v2-x.deb", "xe300-v2-x.deb", "e300v2.deb")

	_, err := Select(context.Background(), r, profile(t, "e300", "v2.0.9"))
	require.ErrorIs(t, err, upgrade.ErrNoMatchingAsset)
}

// TestSelect_Ambiguous refuses to guess between matching assets.
func TestSelect_Ambiguous(t *testing.T) {
	t.Parallel()

	r := assets("e300-v2-a.deb", "e300-v2-b.deb")

	_, err := Select(context.Background(), r, profile(t, "e300", "v2.0.9"))
	require.ErrorIs(t, err, upgrade.ErrAmbiguousAsset)
	require.ErrorContains(t, err, "e300-v2-a.deb, e300-v2-b.deb")
}

// TestMatches checks the board boundary on both sides.
func TestMatches(t *testing.T) {
	t.Parallel()

	p := device.Profile{Board: "e300", Generation: device.GenerationV1}

	require.True(t, Matches("e300-v1.0.deb", p))
	require.True(t, Matches("E300_v1.0.deb", p))
	require.False(t, Matches("e3000-v1.0.deb", p))
	require.False(t, Matches("be300-v1.0.deb", p))
	require.False(t, Matches("e300-v2-v1.0.deb", p))
	require.False(t, Matches("e300", p))
	require.False(t, Matches("e300-v1.deb", device.Profile{Generation: device.GenerationV1}))
}
