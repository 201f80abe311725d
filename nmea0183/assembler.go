// Package nmea0183 implements a stateful decoder for AIS NMEA 0183
// sentences: sentence validation, repair of corrupted prefixes, reassembly
// of multi-fragment messages and decoding into normalized vessel messages.
package nmea0183

import (
	"strconv"
	"strings"
	"sync"
	"time"

	ais "github.com/BertoldVdb/go-ais"
	track "github.com/ethan0sc4r/codmar001"
)

// DefaultFragmentTimeout is how long an incomplete fragment set is kept
// before it is discarded.
const DefaultFragmentTimeout = 60 * time.Second

var aisIdentifiers = []string{"AIVDM", "ABVDM", "AIVDO", "ABVDO"}

// Config tunes an Assembler. Zero values select defaults.
type Config struct {
	FragmentTimeout time.Duration
	Now             func() time.Time
}

// Stats is a point-in-time snapshot of assembler counters.
type Stats struct {
	TotalParsed          uint64
	TotalErrors          uint64
	ByType               map[int]uint64
	FragmentsBuffered    uint64
	FragmentsAssembled   uint64
	FragmentsExpired     uint64
	FragmentsInBuffer    int
	InvalidSentences     uint64
	CorruptedPrefixFixed uint64
}

// fragment sets are keyed by (fragment count, sequence id, channel). The
// fragment number is deliberately not part of the key: all fragments of one
// logical message share the remaining three fields.
type fragmentKey struct {
	count   int
	seqID   string
	channel byte
}

type fragmentEntry struct {
	fragments map[int]string
	arrived   time.Time
}

// Assembler turns raw NMEA sentences into normalized messages. Safe for
// concurrent use, though each source adapter normally owns its own instance.
type Assembler struct {
	codec   *ais.Codec
	timeout time.Duration
	now     func() time.Time

	mu     sync.Mutex
	buffer map[fragmentKey]*fragmentEntry
	stats  Stats
}

// NewAssembler creates an Assembler with default settings.
func NewAssembler() *Assembler {
	return NewAssemblerWithConfig(Config{})
}

// NewAssemblerWithConfig creates an Assembler with the given settings.
func NewAssemblerWithConfig(cfg Config) *Assembler {
	if cfg.FragmentTimeout <= 0 {
		cfg.FragmentTimeout = DefaultFragmentTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	codec := ais.CodecNew(false, false)
	codec.DropSpace = true
	return &Assembler{
		codec:   codec,
		timeout: cfg.FragmentTimeout,
		now:     cfg.Now,
		buffer:  make(map[fragmentKey]*fragmentEntry),
		stats:   Stats{ByType: make(map[int]uint64)},
	}
}

// Parse consumes one raw sentence. It returns the decoded message and true
// when the sentence completed a logical AIS message; false when the sentence
// was invalid, undecodable, or an intermediate fragment.
func (a *Assembler) Parse(sentence string) (track.Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sentence = strings.TrimSpace(sentence)
	sentence = a.fixCorruptedPrefix(sentence)

	if !isValidSentence(sentence) {
		a.stats.InvalidSentences++
		return track.Message{}, false
	}

	a.expireOldFragments()

	ownShip := strings.Contains(sentence, "VDO")

	complete := a.handleFragments(sentence)
	if complete == nil {
		return track.Message{}, false
	}

	msg, err := a.decode(complete, ownShip)
	if err != nil {
		a.stats.TotalErrors++
		return track.Message{}, false
	}

	a.stats.TotalParsed++
	a.stats.ByType[msg.Type]++
	return msg, true
}

// ErrorCount returns the running total of invalid and undecodable
// sentences. Cheaper than Stats for per-line bookkeeping in the read loops.
func (a *Assembler) ErrorCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats.InvalidSentences + a.stats.TotalErrors
}

// Stats returns a copy of the current counters.
func (a *Assembler) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.stats
	s.ByType = make(map[int]uint64, len(a.stats.ByType))
	for k, v := range a.stats.ByType {
		s.ByType[k] = v
	}
	s.FragmentsInBuffer = len(a.buffer)
	return s
}

// isValidSentence applies the minimal structural checks: length, framing
// character, AIS identifier and checksum separator.
func isValidSentence(sentence string) bool {
	if len(sentence) < 15 {
		return false
	}
	if sentence[0] != '!' && sentence[0] != '$' {
		return false
	}
	found := false
	for _, id := range aisIdentifiers {
		if strings.Contains(sentence, id) {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	return strings.Contains(sentence, "*")
}

// fixCorruptedPrefix recovers sentences whose leading bytes were mangled in
// transit (satellite feeds concatenate or truncate lines). It searches
// backward for the last AIS identifier, then for a framing character within
// the three preceding bytes, and truncates the sentence to start there.
func (a *Assembler) fixCorruptedPrefix(sentence string) string {
	for _, id := range aisIdentifiers {
		if strings.HasPrefix(sentence, "!"+id+",") || strings.HasPrefix(sentence, "$"+id+",") {
			return sentence
		}
	}

	for _, id := range aisIdentifiers {
		idx := strings.LastIndex(sentence, id)
		if idx <= 0 {
			continue
		}
		start := -1
		for p := idx - 1; p >= idx-3 && p >= 0; p-- {
			if sentence[p] == '!' || sentence[p] == '$' {
				start = p
				break
			}
		}
		if start < 0 {
			continue
		}
		fixed := sentence[start:]
		if len(fixed) > len(id)+2 && fixed[len(id)+1] == ',' {
			a.stats.CorruptedPrefixFixed++
			return fixed
		}
	}
	return sentence
}

// parseFragmentFields extracts fields 1..4 of the comma-delimited sentence:
// fragment count, fragment number, sequence id (empty becomes "0") and
// channel (first character, 'A' when empty).
func parseFragmentFields(sentence string) (count, num int, seqID string, channel byte, ok bool) {
	parts := strings.Split(sentence, ",")
	if len(parts) < 5 {
		return 0, 0, "", 0, false
	}
	count, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, "", 0, false
	}
	num, err = strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, "", 0, false
	}
	seqID = parts[3]
	if seqID == "" {
		seqID = "0"
	}
	channel = byte('A')
	if len(parts[4]) > 0 {
		channel = parts[4][0]
	}
	return count, num, seqID, channel, true
}

// handleFragments returns the ordered, complete sentence set for the logical
// message this sentence belongs to, or nil while fragments are outstanding.
func (a *Assembler) handleFragments(sentence string) []string {
	count, num, seqID, channel, ok := parseFragmentFields(sentence)
	if !ok {
		return []string{sentence}
	}
	if count == 1 {
		return []string{sentence}
	}

	key := fragmentKey{count: count, seqID: seqID, channel: channel}
	entry, exists := a.buffer[key]
	if !exists {
		entry = &fragmentEntry{fragments: make(map[int]string), arrived: a.now()}
		a.buffer[key] = entry
	}
	entry.fragments[num] = sentence
	a.stats.FragmentsBuffered++

	if len(entry.fragments) < count {
		return nil
	}
	ordered := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		s, ok := entry.fragments[i]
		if !ok {
			return nil
		}
		ordered = append(ordered, s)
	}
	a.stats.FragmentsAssembled++
	delete(a.buffer, key)
	return ordered
}

// expireOldFragments drops fragment sets that have been waiting longer than
// the timeout. Amortized per sentence, like the rest of the buffer work.
func (a *Assembler) expireOldFragments() {
	cutoff := a.now().Add(-a.timeout)
	for key, entry := range a.buffer {
		if entry.arrived.Before(cutoff) {
			a.stats.FragmentsExpired += uint64(len(entry.fragments))
			delete(a.buffer, key)
		}
	}
}
