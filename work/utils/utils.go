package utils

import (
	"net/url"

	"drmtv-proxy/work/config"
)

// LogURL returns either the original URL or an obfuscated version for logging,
// depending on the configured obfuscation flag. Origin stream addresses are
// the one secret this gateway keeps, so log output honors the same rule.
func LogURL(cfg *config.Config, url string) string {
	if cfg.ObfuscateUrls {
		return ObfuscateURL(url)
	}
	return url
}

// ObfuscateURL masks the path, query, and fragment of a URL while keeping the
// scheme and host readable.
//
// Example:
//
//	Input:  "http://origin.example.com/live/secret/index.m3u8?token=abc"
//	Output: "http://origin.example.com/***?***"
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		// unparseable input gets masked wholesale
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}
