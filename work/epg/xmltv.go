package epg

import (
	"encoding/xml"
	"fmt"
	"time"
)

// tvDoc is the strict intermediate schema for the upstream XMLTV feed. The
// feed is decoded into this tree first and mapped to the public guide types
// in one place, so every missing-field default lives in normalize rather
// than scattered across ad hoc attribute lookups.
type tvDoc struct {
	XMLName    xml.Name      `xml:"tv"`
	Channels   []tvChannel   `xml:"channel"`
	Programmes []tvProgramme `xml:"programme"`
}

type tvChannel struct {
	ID          string   `xml:"id,attr"`
	DisplayName []string `xml:"display-name"`
	Icon        *tvIcon  `xml:"icon"`
}

type tvIcon struct {
	Src string `xml:"src,attr"`
}

type tvProgramme struct {
	Start   string  `xml:"start,attr"`
	Stop    string  `xml:"stop,attr"`
	Channel string  `xml:"channel,attr"`
	Title   tvTitle `xml:"title"`
	Desc    string  `xml:"desc"`
}

type tvTitle struct {
	Lang  string `xml:"lang,attr"`
	Value string `xml:",chardata"`
}

// ConvertTimestamp converts the XMLTV compact timestamp format
// ("YYYYMMDDhhmmss +0000") to an RFC 3339 UTC instant by splitting the
// fixed-width fields and reassembling them. The trailing offset is ignored
// and the value is treated as UTC. A missing or truncated input yields the
// current instant instead of an error.
//
// Example: "20240501120000" -> "2024-05-01T12:00:00Z".
func ConvertTimestamp(raw string, now time.Time) string {
	if len(raw) < 14 {
		return now.UTC().Format("2006-01-02T15:04:05Z")
	}

	year := raw[0:4]
	month := raw[4:6]
	day := raw[6:8]
	hour := raw[8:10]
	minute := raw[10:12]
	second := raw[12:14]

	return fmt.Sprintf("%s-%s-%sT%s:%s:%sZ", year, month, day, hour, minute, second)
}
