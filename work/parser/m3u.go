package parser

import (
	"bufio"
	"io"
	"strings"

	"prism-server/work/logger"

	regexp "github.com/grafana/regexp"
)

// Entry is one channel parsed out of an M3U playlist.
type Entry struct {
	Name       string
	GroupTitle string
	LogoURL    string
	TvgID      string
	StreamURL  string
}

// extinfAttrRegex matches quoted key="value" attribute pairs on an EXTINF
// line, tolerating spaces inside the quoted value.
var extinfAttrRegex = regexp.MustCompile(`([a-zA-Z0-9-]+)="([^"]*)"`)

// ParseM3U reads an extended M3U playlist into catalog entries. Lines that
// are neither EXTINF directives nor http(s) URLs are skipped, so comments
// and unknown directives pass through harmlessly.
func ParseM3U(reader io.Reader) []Entry {
	var entries []Entry
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var currentAttrs map[string]string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "#EXTINF:") {
			currentAttrs = ParseEXTINF(line)
		} else if currentAttrs != nil && (strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://")) {
			name := currentAttrs["tvg-name"]
			if name == "" {
				name = "Unknown"
			}

			entries = append(entries, Entry{
				Name:       name,
				GroupTitle: currentAttrs["group-title"],
				LogoURL:    currentAttrs["tvg-logo"],
				TvgID:      currentAttrs["tvg-id"],
				StreamURL:  line,
			})
			currentAttrs = nil
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Warn("{parser - ParseM3U} Playlist scan stopped early: %v", err)
	}

	return entries
}

// ParseEXTINF extracts the duration, the quoted attributes and the trailing
// display name from an EXTINF line. The display name is whatever follows
// the last comma outside of quotes; it wins over a tvg-name attribute.
func ParseEXTINF(line string) map[string]string {
	attrs := make(map[string]string)

	line = strings.TrimPrefix(line, "#EXTINF:")

	// Find the last comma that separates attributes from channel name
	lastComma := -1
	inQuotes := false

	for i := len(line) - 1; i >= 0; i-- {
		if line[i] == '"' {
			inQuotes = !inQuotes
		} else if line[i] == ',' && !inQuotes {
			lastComma = i
			break
		}
	}

	if lastComma == -1 {
		return attrs
	}

	attrPart := strings.TrimSpace(line[:lastComma])
	channelName := strings.TrimSpace(line[lastComma+1:])

	if fields := strings.Fields(attrPart); len(fields) > 0 {
		attrs["duration"] = fields[0]
	}

	for _, match := range extinfAttrRegex.FindAllStringSubmatch(attrPart, -1) {
		attrs[match[1]] = match[2]
	}

	if channelName != "" {
		attrs["tvg-name"] = channelName
	}

	return attrs
}
