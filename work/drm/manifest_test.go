package drm

import (
	"strings"
	"testing"
)

const clearKeyScheme = "urn:uuid:e2719d58-a985-b3c9-781a-b030af78d30e"

func TestDetectManifest(t *testing.T) {
	cases := []struct {
		contentType string
		url         string
		want        ManifestKind
	}{
		{"application/dash+xml", "http://cdn.example/live/stream", ManifestDash},
		{"application/octet-stream", "http://cdn.example/live/stream.mpd", ManifestDash},
		{"application/octet-stream", "http://cdn.example/live/stream.mpd?token=abc", ManifestDash},
		{"application/vnd.apple.mpegurl", "http://cdn.example/live/stream", ManifestHLS},
		{"text/plain", "http://cdn.example/live/index.m3u8", ManifestHLS},
		{"video/mp2t", "http://cdn.example/live/segment.ts", ManifestUnknown},
	}

	for _, tc := range cases {
		if got := DetectManifest(tc.contentType, tc.url); got != tc.want {
			t.Errorf("DetectManifest(%q, %q) = %v, want %v", tc.contentType, tc.url, got, tc.want)
		}
	}
}

func TestInjectDashLicenseSelfClosing(t *testing.T) {
	manifest := `<MPD><Period><AdaptationSet>` +
		`<ContentProtection schemeIdUri="` + clearKeyScheme + `" />` +
		`</AdaptationSet></Period></MPD>`

	got := InjectDashLicense(manifest, "http://gw.example/proxy/drm-license/d1")

	want := `<ContentProtection schemeIdUri="` + clearKeyScheme + `">` +
		`<dashif:Laurl>http://gw.example/proxy/drm-license/d1</dashif:Laurl>` +
		`</ContentProtection>`
	if !strings.Contains(got, want) {
		t.Errorf("self-closing element not rewritten:\n%s", got)
	}
	if strings.Contains(got, "/>") {
		t.Errorf("self-closing form survived the rewrite:\n%s", got)
	}
}

func TestInjectDashLicenseOpenElement(t *testing.T) {
	manifest := `<MPD>` +
		`<ContentProtection schemeIdUri="` + clearKeyScheme + `">` +
		`<cenc:pssh>AAAA</cenc:pssh>` +
		`</ContentProtection>` +
		`</MPD>`

	got := InjectDashLicense(manifest, "http://gw.example/license")

	want := `<ContentProtection schemeIdUri="` + clearKeyScheme + `">` +
		`<dashif:Laurl>http://gw.example/license</dashif:Laurl>`
	if !strings.Contains(got, want) {
		t.Errorf("license url not injected after open tag:\n%s", got)
	}
	if !strings.Contains(got, "<cenc:pssh>AAAA</cenc:pssh>") {
		t.Errorf("existing children were lost:\n%s", got)
	}
}

func TestInjectDashLicensePassthrough(t *testing.T) {
	// a manifest protected under a different scheme must not be touched
	manifest := `<MPD><ContentProtection schemeIdUri="urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed" /></MPD>`

	if got := InjectDashLicense(manifest, "http://gw.example/license"); got != manifest {
		t.Errorf("expected byte-identical passthrough, got:\n%s", got)
	}
}

func TestInjectHlsKey(t *testing.T) {
	manifest := "#EXTM3U\n#EXT-X-TARGETDURATION:6\nseg0.ts\n"

	got := InjectHlsKey(manifest, "http://gw.example/license", "")

	lines := strings.Split(got, "\n")
	if lines[0] != "#EXTM3U" {
		t.Fatalf("header line displaced: %q", lines[0])
	}
	want := `#EXT-X-KEY:METHOD=SAMPLE-AES,URI="http://gw.example/license",KEYFORMAT="identity"`
	if lines[1] != want {
		t.Errorf("key tag = %q, want %q", lines[1], want)
	}
	if !strings.Contains(got, "#EXT-X-TARGETDURATION:6") || !strings.Contains(got, "seg0.ts") {
		t.Errorf("original manifest content lost:\n%s", got)
	}
}

func TestInjectHlsKeyWithKeyID(t *testing.T) {
	got := InjectHlsKey("#EXTM3U\nseg0.ts\n", "http://gw.example/license", "0123456789abcdef0123456789abcdef")

	if !strings.Contains(got, ",KEYID=0x0123456789abcdef0123456789abcdef") {
		t.Errorf("KEYID attribute missing:\n%s", got)
	}
}

func TestInjectHlsKeyExistingTagUntouched(t *testing.T) {
	manifest := "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"http://origin/key\"\nseg0.ts\n"

	if got := InjectHlsKey(manifest, "http://gw.example/license", ""); got != manifest {
		t.Errorf("manifest with existing key tag must pass through, got:\n%s", got)
	}
}
