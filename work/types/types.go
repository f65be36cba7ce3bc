package types

import (
	"strings"
	"time"
)

// DrmKind identifies the license scheme governing a channel's playback. The
// gateway selects its manifest handling and license-broker behavior from this
// value rather than comparing raw strings throughout the codebase.
type DrmKind string

// Supported license schemes. Anything else reaching the license broker is
// rejected as a bad request naming the unsupported type.
const (
	DrmClearKey  DrmKind = "clearkey"
	DrmWidevine  DrmKind = "widevine"
	DrmPlayReady DrmKind = "playready"
)

// ParseDrmKind normalizes a stored license type string into a DrmKind.
// Unknown values are returned as-is so error messages can name them.
func ParseDrmKind(s string) DrmKind {
	return DrmKind(strings.ToLower(strings.TrimSpace(s)))
}

// Valid reports whether the kind is one of the three supported schemes.
func (k DrmKind) Valid() bool {
	switch k {
	case DrmClearKey, DrmWidevine, DrmPlayReady:
		return true
	}
	return false
}

// SourceStatus tracks the outcome of the most recent refresh attempt for an
// external source document.
type SourceStatus string

const (
	SourceIdle    SourceStatus = "idle"
	SourceSuccess SourceStatus = "success"
	SourceError   SourceStatus = "error"
)

// Channel is a single live-stream channel record. The origin URL is never
// exposed to playlist consumers; every rendered playlist references a
// gateway-owned endpoint instead. Header-profile fields (UserAgent, Referer,
// Cookie, CustomHeaders) shape every upstream fetch performed on the
// channel's behalf.
type Channel struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	URL           string            `json:"url"` // origin stream address, gateway-internal only
	Group         string            `json:"group,omitempty"`
	Language      string            `json:"language,omitempty"`
	TvgID         string            `json:"tvgId,omitempty"`
	TvgName       string            `json:"tvgName,omitempty"`
	Logo          string            `json:"logo,omitempty"`
	UserAgent     string            `json:"userAgent,omitempty"`
	Referer       string            `json:"referer,omitempty"`
	Cookie        string            `json:"cookie,omitempty"`
	CustomHeaders map[string]string `json:"customHeaders,omitempty"`
	IsDrm         bool              `json:"isDrm"`
	IsActive      bool              `json:"isActive"`
	Order         int               `json:"order"`
	IsClassified  bool              `json:"isClassifiedTag"` // set by the external classifier, read-only here
}

// NeedsHeaderProfile reports whether relaying this channel requires an
// upstream fetch carrying its header profile. Channels without a referer,
// cookie, or custom headers can be served with a plain redirect instead.
func (c *Channel) NeedsHeaderProfile() bool {
	return c.Referer != "" || c.Cookie != "" || len(c.CustomHeaders) > 0
}

// DrmProxy is the DRM configuration for a channel. Key material is
// operator-supplied: KeyID/Key hold a single pair (hex or base64url), or Key
// alone holds a multi-pair list in "kid1:key1,kid2:key2" form. LicenseURL is
// the forward target for Widevine and PlayReady license exchanges.
//
// At most one active DrmProxy should govern a channel at proxy time; lookup
// takes the first active match in catalog order.
type DrmProxy struct {
	ID          string  `json:"id"`
	ChannelID   string  `json:"channelId"`
	LicenseType DrmKind `json:"licenseType"`
	IsActive    bool    `json:"isActive"`
	KeyID       string  `json:"keyId,omitempty"`
	Key         string  `json:"key,omitempty"`
	LicenseURL  string  `json:"licenseUrl,omitempty"`
}

// Playlist is an exportable view over the channel catalog. IncludeGroups
// empty means no group restriction; ExcludeGroups always wins over inclusion.
// TamilOnly restricts the export to channels the external classifier tagged.
type Playlist struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	TamilOnly     bool     `json:"tamilOnly"`
	IncludeGroups []string `json:"includeGroups,omitempty"`
	ExcludeGroups []string `json:"excludeGroups,omitempty"`
}

// Source is an external document (usually an M3U playlist) that the refresher
// re-fetches on its own interval. LastRefreshed is only advanced on success,
// so a failing source is retried every time its interval elapses.
type Source struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	URL             string       `json:"url"`
	AutoRefresh     bool         `json:"autoRefresh"`
	RefreshInterval int          `json:"refreshInterval"` // minutes, must be > 0 to run
	LastRefreshed   time.Time    `json:"lastRefreshed"`
	Status          SourceStatus `json:"status"`
	ErrorMessage    string       `json:"errorMessage,omitempty"`
	ChannelCount    int          `json:"channelCount,omitempty"` // derived from the last parsed document
}

// Catalog is the single persisted document holding every record the gateway
// reads. Mutations are whole-document: load, change in memory, save. There is
// no request-level locking around it, so concurrent writers race and the last
// writer wins. That is an accepted gap of the current design, kept on purpose;
// a stricter store would add per-document versioning or a single-writer queue.
type Catalog struct {
	Channels   []Channel  `json:"channels"`
	Playlists  []Playlist `json:"playlists"`
	DrmProxies []DrmProxy `json:"drmProxies"`
	Sources    []Source   `json:"sources"`
	Groups     []string   `json:"groups"`
}

// ChannelByID returns the channel with the given id, or nil.
func (c *Catalog) ChannelByID(id string) *Channel {
	for i := range c.Channels {
		if c.Channels[i].ID == id {
			return &c.Channels[i]
		}
	}
	return nil
}

// PlaylistByID returns the playlist with the given id, or nil.
func (c *Catalog) PlaylistByID(id string) *Playlist {
	for i := range c.Playlists {
		if c.Playlists[i].ID == id {
			return &c.Playlists[i]
		}
	}
	return nil
}

// DrmProxyByID returns the DRM config with the given id, or nil.
func (c *Catalog) DrmProxyByID(id string) *DrmProxy {
	for i := range c.DrmProxies {
		if c.DrmProxies[i].ID == id {
			return &c.DrmProxies[i]
		}
	}
	return nil
}

// ActiveDrmProxyForChannel returns the first active DRM config owned by the
// channel, or nil when the channel has none. First-match semantics are part
// of the proxy contract.
func (c *Catalog) ActiveDrmProxyForChannel(channelID string) *DrmProxy {
	for i := range c.DrmProxies {
		p := &c.DrmProxies[i]
		if p.ChannelID == channelID && p.IsActive {
			return p
		}
	}
	return nil
}

// RemoveChannel deletes a channel and cascades to its DRM configs.
func (c *Catalog) RemoveChannel(id string) bool {
	found := false
	channels := c.Channels[:0]
	for _, ch := range c.Channels {
		if ch.ID == id {
			found = true
			continue
		}
		channels = append(channels, ch)
	}
	c.Channels = channels

	if found {
		proxies := c.DrmProxies[:0]
		for _, p := range c.DrmProxies {
			if p.ChannelID == id {
				continue
			}
			proxies = append(proxies, p)
		}
		c.DrmProxies = proxies
	}
	return found
}
