package track

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Sentinel values that AIS transponders emit for "not available" fields.
// Messages carrying these values have the field dropped during normalization
// and must never reach downstream consumers.
const (
	LatNotAvailable     = 91.0
	LonNotAvailable     = 181.0
	SpeedNotAvailable   = 102.3 // raw 1023 with 0.1 knot resolution
	CourseNotAvailable  = 360.0
	HeadingNotAvailable = 511
)

// Timestamp is a message timestamp as received from upstream. Upstream feeds
// disagree on the representation: some send unix seconds as a number, some an
// ISO-8601 string. The original textual form is kept verbatim so it can be
// stored and re-emitted unchanged. The zero value means "absent".
type Timestamp struct {
	Seconds float64
	Raw     string // original textual form, empty when upstream sent a number
	Valid   bool
}

// UnixTimestamp creates a numeric Timestamp from unix seconds.
func UnixTimestamp(sec float64) Timestamp {
	return Timestamp{Seconds: sec, Valid: true}
}

// ParseTimestamp accepts the timestamp shapes seen on the wire: JSON numbers
// (unix seconds) and ISO-8601 strings.
func ParseTimestamp(v any) (Timestamp, error) {
	switch t := v.(type) {
	case nil:
		return Timestamp{}, nil
	case float64:
		return Timestamp{Seconds: t, Valid: true}, nil
	case int:
		return Timestamp{Seconds: float64(t), Valid: true}, nil
	case int64:
		return Timestamp{Seconds: float64(t), Valid: true}, nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return Timestamp{}, fmt.Errorf("invalid timestamp string: %w", err)
		}
		return Timestamp{Seconds: float64(parsed.Unix()), Raw: t, Valid: true}, nil
	default:
		return Timestamp{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

// OrNow returns the timestamp in unix seconds, falling back to the given wall
// clock when the message carried no timestamp.
func (t Timestamp) OrNow(now time.Time) float64 {
	if t.Valid {
		return t.Seconds
	}
	return float64(now.Unix())
}

// Value returns the wire representation: the verbatim string when upstream
// sent one, unix seconds otherwise, nil when absent.
func (t Timestamp) Value() any {
	if !t.Valid {
		return nil
	}
	if t.Raw != "" {
		return t.Raw
	}
	return t.Seconds
}

// Message is a normalized AIS vessel report. Position and static families use
// pointer fields: nil means the report did not carry the value (or carried a
// sentinel). Extras keeps unknown upstream keys for forward compatibility.
type Message struct {
	MMSI string
	IMO  string
	Type int

	Lat     *float64
	Lon     *float64
	Speed   *float64
	Course  *float64
	Heading *int
	Status  *int

	Name     string
	Callsign string
	ShipType *int
	Length   *int
	Width    *int

	// OwnShip marks self-reports (VDO sentences).
	OwnShip bool

	Source    string
	Timestamp Timestamp

	Extras map[string]any
}

// HasPosition reports whether the message carries a usable position.
func (m Message) HasPosition() bool {
	return m.Lat != nil && m.Lon != nil
}

// Position returns lat/lon, or zeroes when absent.
func (m Message) Position() (lat, lon float64) {
	if m.Lat != nil {
		lat = *m.Lat
	}
	if m.Lon != nil {
		lon = *m.Lon
	}
	return lat, lon
}

// Float and Int build pointer fields from literals.
func Float(v float64) *float64 { return &v }
func Int(v int) *int           { return &v }

// wireMap builds the key/value form of the message. Absent fields are
// omitted, never null-stuffed.
func (m Message) wireMap() map[string]any {
	w := make(map[string]any, 16)
	for k, v := range m.Extras {
		w[k] = v
	}
	w["type"] = m.Type
	if m.MMSI != "" {
		w["mmsi"] = m.MMSI
	}
	if m.IMO != "" {
		w["imo"] = m.IMO
	}
	if m.Lat != nil {
		w["lat"] = *m.Lat
	}
	if m.Lon != nil {
		w["lon"] = *m.Lon
	}
	if m.Speed != nil {
		w["speed"] = *m.Speed
	}
	if m.Course != nil {
		w["course"] = *m.Course
	}
	if m.Heading != nil {
		w["heading"] = *m.Heading
	}
	if m.Status != nil {
		w["status"] = *m.Status
	}
	if m.Name != "" {
		w["name"] = m.Name
	}
	if m.Callsign != "" {
		w["callsign"] = m.Callsign
	}
	if m.ShipType != nil {
		w["shiptype"] = *m.ShipType
	}
	if m.Length != nil {
		w["length"] = *m.Length
	}
	if m.Width != nil {
		w["width"] = *m.Width
	}
	if m.OwnShip {
		w["isOwnShip"] = true
	}
	if m.Source != "" {
		w["_source"] = m.Source
	}
	if ts := m.Timestamp.Value(); ts != nil {
		w["timestamp"] = ts
	}
	return w
}

// MarshalJSON emits the upstream wire shape: flat object, optional fields
// omitted when absent.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.wireMap())
}

// UnmarshalJSON accepts the upstream wire shape. Unknown keys are kept in
// Extras so relays that add their own annotations survive a round trip.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w map[string]any
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message{}
	for k, v := range w {
		switch k {
		case "type":
			if f, ok := v.(float64); ok {
				m.Type = int(f)
			}
		case "mmsi":
			m.MMSI = asString(v)
		case "imo":
			m.IMO = asString(v)
		case "lat":
			m.Lat = asFloatPtr(v)
		case "lon":
			m.Lon = asFloatPtr(v)
		case "speed":
			m.Speed = asFloatPtr(v)
		case "course":
			m.Course = asFloatPtr(v)
		case "heading":
			m.Heading = asIntPtr(v)
		case "status":
			m.Status = asIntPtr(v)
		case "name":
			m.Name = asString(v)
		case "callsign":
			m.Callsign = asString(v)
		case "shiptype":
			m.ShipType = asIntPtr(v)
		case "length":
			m.Length = asIntPtr(v)
		case "width":
			m.Width = asIntPtr(v)
		case "isOwnShip":
			if b, ok := v.(bool); ok {
				m.OwnShip = b
			}
		case "_source":
			m.Source = asString(v)
		case "timestamp":
			ts, err := ParseTimestamp(v)
			if err != nil {
				return err
			}
			m.Timestamp = ts
		default:
			if m.Extras == nil {
				m.Extras = make(map[string]any)
			}
			m.Extras[k] = v
		}
	}
	return nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == math.Trunc(t) {
			return fmt.Sprintf("%.0f", t)
		}
		return fmt.Sprintf("%v", t)
	default:
		return ""
	}
}

func asFloatPtr(v any) *float64 {
	if f, ok := v.(float64); ok {
		return &f
	}
	return nil
}

func asIntPtr(v any) *int {
	if f, ok := v.(float64); ok {
		i := int(f)
		return &i
	}
	return nil
}
