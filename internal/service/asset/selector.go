// Package asset picks the release asset built for the running device.
package asset

import (
	"context"
	"fmt"
	"strings"

	"github.com/oshokin/wg-upgrade/internal/domain/device"
	"github.com/oshokin/wg-upgrade/internal/domain/release"
	"github.com/oshokin/wg-upgrade/internal/domain/upgrade"
	"github.com/oshokin/wg-upgrade/internal/logger"
)

// generationMarker is present in asset names built for second-generation firmware.
const generationMarker = "v2"

// Matches reports whether name is built for profile: the board tag appears as
// a whole word followed by a separator, and the generation marker is present
// exactly when the firmware is second generation.
func Matches(name string, profile device.Profile) bool {
	name = strings.ToLower(name)

	if !hasBoardTag(name, strings.ToLower(profile.Board)) {
		return false
	}

	return strings.Contains(name, generationMarker) == (profile.Generation == device.GenerationV2)
}

func hasBoardTag(name, board string) bool {
	if board == "" {
		return false
	}

	for offset := 0; offset < len(name); {
		i := strings.Index(name[offset:], board)
		if i < 0 {
			return false
		}

		start := offset + i
		end := start + len(board)

		if (start == 0 || !isWordChar(name[start-1])) && end < len(name) && isSeparator(name[end]) {
			return true
		}

		offset = start + 1
	}

	return false
}

func isSeparator(c byte) bool {
	return c == '-' || c == '_' || c == '.'
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

// Select returns the single asset of r matching profile.
// No match and more than one match are both errors.
func Select(ctx context.Context, r release.Release, profile device.Profile) (release.Asset, error) {
	var matched []release.Asset

	for _, a := range r.Assets {
		if Matches(a.Name, profile) {
			matched = append(matched, a)
		}
	}

	switch len(matched) {
	case 0:
		return release.Asset{}, upgrade.Fail(upgrade.StageSelect, upgrade.ErrNoMatchingAsset,
			fmt.Errorf("board %s, firmware %s, release %s has [%s]",
				profile.Board, profile.Generation, r.Tag, r.AssetNames()), -1)
	case 1:
		logger.InfoKV(ctx, "Selected asset", "asset", matched[0].Name, "tag", r.Tag)

		return matched[0], nil
	default:
		names := release.Release{Assets: matched}.AssetNames()

		return release.Asset{}, upgrade.Fail(upgrade.StageSelect, upgrade.ErrAmbiguousAsset,
			fmt.Errorf("board %s, firmware %s, release %s matches [%s]",
				profile.Board, profile.Generation, r.Tag, names), -1)
	}
}
