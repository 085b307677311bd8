package utils

import (
	"fmt"
	"hash/fnv"
	"net/url"

	"prism-server/work/config"
)

// LogURL returns either the original URL or an obfuscated version for logging
func LogURL(cfg *config.Config, url string) string {
	if cfg.ObfuscateUrls {
		return ObfuscateURL(url)
	}
	return url
}

// StableID derives a deterministic identifier from a stream URL so catalog
// rows keep the same id across re-syncs. Favorites survive a playlist
// refresh only because of this stability.
func StableID(streamURL string) string {
	h := fnv.New64a()
	h.Write([]byte(streamURL))
	return fmt.Sprintf("ch-%016x", h.Sum64())
}

// ObfuscateURL masks the path, query and fragment of a URL while keeping the
// scheme and host readable.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		// If parsing fails, just obfuscate the whole thing
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
