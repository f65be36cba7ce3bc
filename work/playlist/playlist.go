package playlist

import (
	"fmt"
	"sort"
	"strings"

	"drmtv-proxy/work/types"
)

// Classifier is the external channel-classification capability. The gateway
// never implements the heuristic itself; it only consumes the verdict when a
// playlist's audience filter is enabled.
type Classifier func(ch types.Channel) bool

// TagClassifier is the default classifier: it trusts the classifier-derived
// tag already stored on the channel record.
func TagClassifier(ch types.Channel) bool {
	return ch.IsClassified
}

// Filter returns the channels a playlist exports, in export order. It is a
// pure function of its inputs: identical inputs yield an identical ordered
// list.
//
// A channel is kept iff it is active, passes the audience filter when the
// playlist requires one, belongs to an included group when the include set is
// non-empty, and is not in an excluded group. Ordering is ascending by the
// channel's order field with ties keeping input order.
func Filter(p *types.Playlist, channels []types.Channel, classify Classifier) []types.Channel {
	if classify == nil {
		classify = TagClassifier
	}

	included := make(map[string]bool, len(p.IncludeGroups))
	for _, g := range p.IncludeGroups {
		included[g] = true
	}
	excluded := make(map[string]bool, len(p.ExcludeGroups))
	for _, g := range p.ExcludeGroups {
		excluded[g] = true
	}

	var kept []types.Channel
	for _, ch := range channels {
		if !ch.IsActive {
			continue
		}
		if p.TamilOnly && !classify(ch) {
			continue
		}
		if len(included) > 0 && !included[ch.Group] {
			continue
		}
		if excluded[ch.Group] {
			continue
		}
		kept = append(kept, ch)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Order < kept[j].Order
	})

	return kept
}

// Build renders a playlist into M3U text referencing only gateway-owned
// endpoints. Origin URLs never appear in the output: DRM channels point at
// the DRM-aware manifest route, everything else at the redirect-preferring
// relay. An empty filtered list still emits the header line alone.
func Build(p *types.Playlist, allChannels []types.Channel, baseURL string, classify Classifier) string {
	channels := Filter(p, allChannels, classify)

	var out strings.Builder
	out.Grow(len(channels)*200 + 16)
	out.WriteString("#EXTM3U\n")

	for _, ch := range channels {
		out.WriteString("#EXTINF:-1")

		if ch.TvgID != "" {
			out.WriteString(fmt.Sprintf(" tvg-id=%q", ch.TvgID))
		}
		if ch.TvgName != "" {
			out.WriteString(fmt.Sprintf(" tvg-name=%q", ch.TvgName))
		}
		if ch.Logo != "" {
			out.WriteString(fmt.Sprintf(" tvg-logo=%q", ch.Logo))
		}

		group := ch.Group
		if group == "" {
			group = "Uncategorized"
		}
		out.WriteString(fmt.Sprintf(" group-title=%q", group))

		if ch.Language != "" {
			out.WriteString(fmt.Sprintf(" tvg-language=%q", ch.Language))
		}

		out.WriteString(fmt.Sprintf(",%s\n", ch.Name))

		if ch.IsDrm {
			out.WriteString(fmt.Sprintf("%s/proxy/drm/%s\n", baseURL, ch.ID))
		} else {
			out.WriteString(fmt.Sprintf("%s/proxy/redirect/%s\n", baseURL, ch.ID))
		}
	}

	return out.String()
}
