package nmea0183

import (
	"errors"
	"strconv"
	"strings"

	ais "github.com/BertoldVdb/go-ais"
	"github.com/adrianmo/go-nmea"
	track "github.com/ethan0sc4r/codmar001"
)

var (
	errNotVDMVDO    = errors.New("nmea0183: sentence is not AIVDM/AIVDO")
	errUndecodable  = errors.New("nmea0183: payload could not be decoded")
	errEmptyPayload = errors.New("nmea0183: empty payload")
)

// decode parses each sentence of a complete fragment set, concatenates the
// armored payloads and decodes the resulting AIS packet.
func (a *Assembler) decode(sentences []string, ownShip bool) (track.Message, error) {
	var payload []byte
	for _, sentence := range sentences {
		s, err := nmea.Parse(sentence)
		if err != nil {
			return track.Message{}, err
		}
		vdm, ok := s.(nmea.VDMVDO)
		if !ok {
			return track.Message{}, errNotVDMVDO
		}
		payload = append(payload, vdm.Payload...)
	}
	if len(payload) == 0 {
		return track.Message{}, errEmptyPayload
	}

	packet := a.codec.DecodePacket(payload)
	if packet == nil {
		return track.Message{}, errUndecodable
	}

	msg := projectPacket(packet)
	msg.OwnShip = ownShip
	return msg, nil
}

// projectPacket maps a decoded AIS packet onto the normalized message shape.
// Sentinel values (lat 91, lon 181, speed 102.3, course 360, heading 511)
// mean "not available" on the wire and are dropped rather than forwarded.
func projectPacket(packet ais.Packet) track.Message {
	header := packet.GetHeader()
	msg := track.Message{
		Type: int(header.MessageID),
		MMSI: strconv.FormatUint(uint64(header.UserID), 10),
	}

	switch p := packet.(type) {
	case ais.PositionReport:
		setPosition(&msg, float64(p.Latitude), float64(p.Longitude))
		setMotion(&msg, float64(p.Sog), float64(p.Cog), int(p.TrueHeading))
		msg.Status = track.Int(int(p.NavigationalStatus))

	case ais.StandardClassBPositionReport:
		setPosition(&msg, float64(p.Latitude), float64(p.Longitude))
		setMotion(&msg, float64(p.Sog), float64(p.Cog), int(p.TrueHeading))

	case ais.ExtendedClassBPositionReport:
		setPosition(&msg, float64(p.Latitude), float64(p.Longitude))
		setMotion(&msg, float64(p.Sog), float64(p.Cog), int(p.TrueHeading))
		msg.Name = cleanAISString(p.Name)
		msg.ShipType = track.Int(int(p.Type))
		setDimensions(&msg, int(p.Dimension.A), int(p.Dimension.B), int(p.Dimension.C), int(p.Dimension.D))

	case ais.ShipStaticData:
		msg.Name = cleanAISString(p.Name)
		msg.Callsign = cleanAISString(p.CallSign)
		if p.ImoNumber > 0 {
			msg.IMO = strconv.FormatUint(uint64(p.ImoNumber), 10)
		}
		msg.ShipType = track.Int(int(p.Type))
		setDimensions(&msg, int(p.Dimension.A), int(p.Dimension.B), int(p.Dimension.C), int(p.Dimension.D))
	}

	return msg
}

func setPosition(msg *track.Message, lat, lon float64) {
	if lat == track.LatNotAvailable || lon == track.LonNotAvailable {
		return
	}
	msg.Lat = track.Float(lat)
	msg.Lon = track.Float(lon)
}

func setMotion(msg *track.Message, speed, course float64, heading int) {
	if speed != track.SpeedNotAvailable {
		msg.Speed = track.Float(speed)
	}
	if course != track.CourseNotAvailable {
		msg.Course = track.Float(course)
	}
	if heading != track.HeadingNotAvailable {
		msg.Heading = track.Int(heading)
	}
}

// setDimensions derives overall length and beam from the four reference
// point offsets. All-zero offsets mean the dimensions were not reported.
func setDimensions(msg *track.Message, toBow, toStern, toPort, toStarboard int) {
	if length := toBow + toStern; length > 0 {
		msg.Length = track.Int(length)
	}
	if width := toPort + toStarboard; width > 0 {
		msg.Width = track.Int(width)
	}
}

// cleanAISString strips the '@' padding AIS uses for unset character fields.
func cleanAISString(s string) string {
	return strings.TrimSpace(strings.TrimRight(s, "@ "))
}
