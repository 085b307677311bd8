package epg

// Channel is one guide channel as served to the client. Channels are rebuilt
// in full on every successful upstream fetch and never mutated in place.
type Channel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Number   int    `json:"number"` // Numbering depends on the playlist; XMLTV rarely carries it
	Logo     string `json:"logo"`
	Category string `json:"category"`
}

// Program is one time-bounded guide entry. The ID is derived from the
// channel id and the raw start timestamp so re-ingesting the same feed
// produces identical ids.
type Program struct {
	ID          string `json:"id"`
	ChannelID   string `json:"channelId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Category    string `json:"category"`
}

// Schedule is the normalized guide snapshot: the bounded channel list plus
// programs grouped by channel id. Every program's ChannelID is guaranteed to
// reference a channel in the same snapshot.
type Schedule struct {
	Channels []Channel            `json:"channels"`
	Programs map[string][]Program `json:"programs"`
}

// Defaults applied during normalization when the feed omits a field.
const (
	defaultChannelName  = "Unknown Channel"
	defaultProgramTitle = "No Title"
	channelCategory     = "General"
	programCategory     = "entertainment"
)

// emptySchedule is what callers receive on any fetch or parse failure:
// usable zero-content data rather than an error.
func emptySchedule() *Schedule {
	return &Schedule{
		Channels: []Channel{},
		Programs: map[string][]Program{},
	}
}
