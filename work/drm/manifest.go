package drm

import (
	"fmt"
	"strings"

	"github.com/grafana/regexp"
)

// ManifestKind classifies a fetched origin manifest so the gateway knows
// which signaling rewrite applies.
type ManifestKind int

const (
	ManifestUnknown ManifestKind = iota
	ManifestDash
	ManifestHLS
)

// clearKeyProtectionRe matches ContentProtection elements carrying the
// reserved ClearKey scheme identifier, both self-closing and open forms.
var clearKeyProtectionRe = regexp.MustCompile(`(?is)<ContentProtection[^>]*schemeIdUri\s*=\s*"urn:uuid:e2719d58-a985-b3c9-781a-b030af78d30e"[^>]*>`)

// DetectManifest classifies a manifest from the upstream content type and
// the request URL's suffix.
func DetectManifest(contentType, rawURL string) ManifestKind {
	ct := strings.ToLower(contentType)
	path := rawURL
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}

	if strings.Contains(ct, "dash") || strings.HasSuffix(path, ".mpd") {
		return ManifestDash
	}
	if strings.Contains(ct, "mpegurl") || strings.HasSuffix(path, ".m3u8") {
		return ManifestHLS
	}
	return ManifestUnknown
}

// InjectDashLicense rewrites a DASH manifest's ClearKey ContentProtection
// elements to carry a license-acquisition URL pointing at the gateway. A
// manifest with no matching element passes through byte-identical; nothing
// is injected blindly.
func InjectDashLicense(manifest, licenseURL string) string {
	if !clearKeyProtectionRe.MatchString(manifest) {
		return manifest
	}

	laurl := fmt.Sprintf("<dashif:Laurl>%s</dashif:Laurl>", licenseURL)
	return clearKeyProtectionRe.ReplaceAllStringFunc(manifest, func(elem string) string {
		if strings.HasSuffix(elem, "/>") {
			// reopen the self-closing element to give it a child
			open := strings.TrimSuffix(elem, "/>")
			open = strings.TrimRight(open, " \t") + ">"
			return open + laurl + "</ContentProtection>"
		}
		return elem + laurl
	})
}

// InjectHlsKey prepends a ClearKey key-signaling tag to an HLS manifest that
// does not already carry one. The tag lands directly after the #EXTM3U
// header line when present; an existing #EXT-X-KEY tag anywhere in the text
// leaves the manifest untouched.
func InjectHlsKey(manifest, licenseURL, keyID string) string {
	if strings.Contains(manifest, "#EXT-X-KEY") {
		return manifest
	}

	tag := fmt.Sprintf(`#EXT-X-KEY:METHOD=SAMPLE-AES,URI=%q,KEYFORMAT="identity"`, licenseURL)
	if keyID != "" {
		tag += ",KEYID=0x" + keyID
	}

	if strings.HasPrefix(manifest, "#EXTM3U") {
		if idx := strings.IndexByte(manifest, '\n'); idx >= 0 {
			return manifest[:idx+1] + tag + "\n" + manifest[idx+1:]
		}
		return manifest + "\n" + tag + "\n"
	}
	return tag + "\n" + manifest
}
