package release

import "strings"

// Asset is a single downloadable file attached to a release.
type Asset struct {
	// Name is the file name, e.g. "e300-v2-v1.0.20220627-v1.0.20210914.deb".
	Name string
	// DownloadURL is where the file is fetched from.
	DownloadURL string
	// Digest is an optional "sha256:<hex>" checksum published by the index.
	Digest string
	// Size is the advertised size in bytes, zero when unknown.
	Size int64
}

// Release is one entry of the release index.
type Release struct {
	// Tag is the release tag, comparable as a package version.
	Tag string
	// Assets keeps the index order.
	Assets []Asset
}

// FindTag returns the release whose tag equals tag exactly.
func FindTag(releases []Release, tag string) (Release, bool) {
	for _, r := range releases {
		if r.Tag == tag {
			return r, true
		}
	}

	return Release{}, false
}

// Latest returns the first release, the index lists newest first.
func Latest(releases []Release) (Release, bool) {
	if len(releases) == 0 {
		return Release{}, false
	}

	return releases[0], true
}

// AssetNames lists asset names for log messages.
func (r Release) AssetNames() string {
	names := make([]string, 0, len(r.Assets))
	for _, a := range r.Assets {
		names = append(names, a.Name)
	}

	return strings.Join(names, ", ")
}
