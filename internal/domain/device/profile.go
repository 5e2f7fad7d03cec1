package device

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strconv"
	"strings"
)

// Generation is the major version family of the base firmware.
type Generation int

const (
	// GenerationV1 covers EdgeOS 1.x and the UniFi gateway 4.x line built on it.
	GenerationV1 Generation = iota + 1
	// GenerationV2 covers EdgeOS 2.x.
	GenerationV2
)

// String renders the generation the way asset names spell it.
func (g Generation) String() string {
	switch g {
	case GenerationV1:
		return "v1"
	case GenerationV2:
		return "v2"
	default:
		return "Generation(" + strconv.Itoa(int(g)) + ")"
	}
}

// Profile is the immutable description of the running device.
type Profile struct {
	// Board is the canonical board tag, e.g. "e300" or "ugw3".
	Board string
	// RawBoard is the identifier reported by the hardware.
	RawBoard string
	// Generation is the firmware generation.
	Generation Generation
	// FirmwareVersion is the full firmware version string.
	FirmwareVersion string
}

var (
	// ErrEmptyBoard is returned when the hardware reports no board identifier.
	ErrEmptyBoard = errors.New("board identifier is empty")
	// ErrUnknownFirmware is returned when the firmware version cannot be classified.
	ErrUnknownFirmware = errors.New("unrecognized firmware version")

	firmwareMajor = regexp.MustCompile(`^v?(\d+)\.`)
)

// boardAliases maps raw hardware ids to the tags used by the release index.
//
//nolint:gochecknoglobals // Fixed lookup table.
var boardAliases = map[string]string{
	"e120": "ugw3",
	"e220": "ugw4",
	"e221": "ugwxg",
}

// BoardAliases returns a copy of the built-in rewrite table.
func BoardAliases() map[string]string {
	return maps.Clone(boardAliases)
}

// Aliases is a raw board id rewrite table.
type Aliases map[string]string

// NewAliases merges extra entries over the built-in table.
func NewAliases(extra map[string]string) Aliases {
	table := BoardAliases()
	for raw, tag := range extra {
		table[strings.ToLower(strings.TrimSpace(raw))] = strings.ToLower(strings.TrimSpace(tag))
	}

	return table
}

// Canonical rewrites a raw board id. Unmapped ids pass through unchanged.
func (a Aliases) Canonical(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if tag, ok := a[raw]; ok {
		return tag
	}

	return raw
}

// ParseGeneration classifies a firmware version such as "v2.0.9-hotfix.7".
func ParseGeneration(firmware string) (Generation, error) {
	m := firmwareMajor.FindStringSubmatch(strings.ToLower(strings.TrimSpace(firmware)))
	if m == nil {
		return 0, fmt.Errorf("%q: %w", firmware, ErrUnknownFirmware)
	}

	major, err := strconv.Atoi(m[1])
	if err != nil || major < 1 {
		return 0, fmt.Errorf("%q: %w", firmware, ErrUnknownFirmware)
	}

	if major == 2 {
		return GenerationV2, nil
	}

	return GenerationV1, nil
}

// NewProfile builds a Profile from raw probe values.
func NewProfile(aliases Aliases, rawBoard, firmware string) (Profile, error) {
	rawBoard = strings.TrimSpace(rawBoard)
	if rawBoard == "" {
		return Profile{}, ErrEmptyBoard
	}

	gen, err := ParseGeneration(firmware)
	if err != nil {
		return Profile{}, err
	}

	return Profile{
		Board:           aliases.Canonical(rawBoard),
		RawBoard:        rawBoard,
		Generation:      gen,
		FirmwareVersion: strings.TrimSpace(firmware),
	}, nil
}
