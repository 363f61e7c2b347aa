// Package protocol implements the C6 frame codec: every record on the
// worker<->coordinator stream is a single JSON object with two fields,
// event (string) and message (arbitrary nested value), per spec.md §4.6.
package protocol

import "encoding/json"

// Event names. This is the complete set named in spec.md §4.6.
const (
	EventRangeAssignment = "range_assignment"
	EventHeightChanged   = "height_changed"
	EventNonceFound      = "nonce_found"
	EventPing            = "ping"
	EventIterationDone   = "iteration_completed" // reserved, inert in the baseline coordinator
)

// Frame is one record on the stream.
type Frame struct {
	Event   string          `json:"event"`
	Message json.RawMessage `json:"message"`
}

// Encode marshals an event name and payload into a frame ready to write to
// the stream.
func Encode(event string, message interface{}) ([]byte, error) {
	raw, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Message: raw})
}

// Decode parses a single frame off the stream. A malformed frame is a
// Frame-malformed error per spec.md §7: the caller should log and drop it,
// keeping the stream open.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// RangeAssignment is the payload of a range_assignment event. End is
// carried as a 64-bit value because the full nonce space's exclusive
// upper bound, 2^32, does not fit in a uint32 (spec.md §3's NonceRange
// invariant; spec.md §8 scenario S2's last range ends at exactly 2^32).
type RangeAssignment struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// HeightChanged is the payload of a height_changed event: the five
// header-determining fields of the mining template (spec.md §4.5 step 4).
type HeightChanged struct {
	Version        int32  `json:"version"`
	PrevBlock      string `json:"prev_block"`
	MrklRoot       string `json:"mrkl_root"`
	Timestamp      uint32 `json:"timestamp"`
	BitsDifficulty uint32 `json:"bits_difficulty"`
}

// NonceFound is the payload of a nonce_found event.
type NonceFound struct {
	Nonce     uint32 `json:"nonce"`
	Timestamp uint32 `json:"timestamp"`
}
