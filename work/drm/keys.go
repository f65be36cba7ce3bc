package drm

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"drmtv-proxy/work/types"
)

// JSONWebKey is a single symmetric key entry in the ClearKey license
// response, consumed directly by EME-compliant players (DASH.js, Shaka,
// ExoPlayer, hls.js).
type JSONWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	K   string `json:"k"`
}

// KeySet is the ClearKey license response body: a JSON Web Key Set shape
// with the temporary-license type marker.
type KeySet struct {
	Keys []JSONWebKey `json:"keys"`
	Type string       `json:"type"`
}

// NormalizeKeyComponent converts operator-supplied key material to
// padding-free base64url. The decision is length-based: strings of 22 or 24
// characters are taken to already be base64 (22 is the unpadded and 24 the
// padded encoding of a 16-byte value) and only have their alphabet and
// padding normalized; any other length is decoded as hexadecimal and
// re-encoded. A string that fails hex decoding passes through unchanged.
//
// The heuristic cannot tell a 22-character base64 string from 22 characters
// of hex, but those are the thresholds the gateway has always used and
// players depend on; tests lock them in rather than resolving the ambiguity.
func NormalizeKeyComponent(raw string) string {
	s := strings.TrimSpace(raw)

	switch len(s) {
	case 22, 24:
		s = strings.ReplaceAll(s, "+", "-")
		s = strings.ReplaceAll(s, "/", "_")
		return strings.TrimRight(s, "=")
	}

	decoded, err := hex.DecodeString(s)
	if err != nil {
		return s
	}
	return base64.RawURLEncoding.EncodeToString(decoded)
}

// ClearKeySet builds the license response for a ClearKey config. The stored
// material is either a multi-pair list in the Key field ("kid1:key1,kid2:key2")
// or a single KeyID/Key pair; every component is normalized to base64url.
func ClearKeySet(p *types.DrmProxy) (*KeySet, error) {
	set := &KeySet{Type: "temporary"}

	if strings.Contains(p.Key, ":") {
		for _, pair := range strings.Split(p.Key, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			kid, key, ok := strings.Cut(pair, ":")
			if !ok {
				return nil, fmt.Errorf("malformed clearkey pair %q", pair)
			}
			set.Keys = append(set.Keys, JSONWebKey{
				Kty: "oct",
				Kid: NormalizeKeyComponent(kid),
				K:   NormalizeKeyComponent(key),
			})
		}
	} else if p.KeyID != "" && p.Key != "" {
		set.Keys = append(set.Keys, JSONWebKey{
			Kty: "oct",
			Kid: NormalizeKeyComponent(p.KeyID),
			K:   NormalizeKeyComponent(p.Key),
		})
	}

	if len(set.Keys) == 0 {
		return nil, fmt.Errorf("clearkey config %s has no key material", p.ID)
	}

	return set, nil
}
