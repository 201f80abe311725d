package track

import "time"

// Match describes a watchlist hit: which list matched and by which
// identifier. MMSI or IMO is set to the identifier that matched; when an IMO
// match is made for a message that also carried an MMSI, the MMSI is echoed.
type Match struct {
	MMSI      string `json:"mmsi,omitempty"`
	IMO       string `json:"imo,omitempty"`
	ListID    string `json:"list_id"`
	ListName  string `json:"list_name,omitempty"`
	Color     string `json:"color,omitempty"`
	MatchedBy string `json:"matched_by"`
}

// TrackEvent is the outbound wire shape delivered to subscribers. Absent
// fields are omitted.
type TrackEvent struct {
	Type      string   `json:"type"`
	Timestamp string   `json:"timestamp"`
	MMSI      string   `json:"mmsi,omitempty"`
	Lat       *float64 `json:"lat,omitempty"`
	Lon       *float64 `json:"lon,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Course    *float64 `json:"course,omitempty"`
	Heading   *int     `json:"heading,omitempty"`
	Name      string   `json:"name,omitempty"`
	IMO       string   `json:"imo,omitempty"`
	Callsign  string   `json:"callsign,omitempty"`
	ShipType  *int     `json:"shiptype,omitempty"`
	Watchlist *Match   `json:"watchlist,omitempty"`

	// ListID is a convenience copy of Watchlist.ListID, populated only on
	// watchlist-shaped deliveries.
	ListID string `json:"list_id,omitempty"`
}

const EventTrackUpdate = "track_update"

// NewTrackEvent builds the outbound event for a message and an optional
// watchlist match. The timestamp is server time, not message time.
func NewTrackEvent(m Message, match *Match, now time.Time) TrackEvent {
	return TrackEvent{
		Type:      EventTrackUpdate,
		Timestamp: now.UTC().Format(time.RFC3339),
		MMSI:      m.MMSI,
		Lat:       m.Lat,
		Lon:       m.Lon,
		Speed:     m.Speed,
		Course:    m.Course,
		Heading:   m.Heading,
		Name:      m.Name,
		IMO:       m.IMO,
		Callsign:  m.Callsign,
		ShipType:  m.ShipType,
		Watchlist: match,
	}
}
