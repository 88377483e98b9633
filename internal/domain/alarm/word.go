package alarm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PayloadSize is the length of a raw status payload on the wire.
const PayloadSize = 2

// ErrPayloadLength is returned by Decode for payloads that are not exactly PayloadSize bytes.
var ErrPayloadLength = errors.New("status payload must be exactly 2 bytes")

// Word is a 16-bit station status word; a set bit means the channel is active.
type Word uint16

// Decode reads a big-endian status word from a raw transport payload.
func Decode(payload []byte) (Word, error) {
	if len(payload) != PayloadSize {
		return 0, fmt.Errorf("decode %d bytes: %w", len(payload), ErrPayloadLength)
	}

	return Word(binary.BigEndian.Uint16(payload)), nil
}

// Encode renders the word as its big-endian wire payload.
func (w Word) Encode() []byte {
	return binary.BigEndian.AppendUint16(make([]byte, 0, PayloadSize), uint16(w))
}

// Bit reports whether bit i (0 is least significant) is set.
func (w Word) Bit(i int) bool {
	return (w>>uint(i))&1 == 1 //nolint:gosec // i is bounded by callers to 0..15.
}

// Active returns the names of the active channels, highest bit first.
func (w Word) Active() []string {
	var names []string

	for bit := ChannelCount - 1; bit >= 0; bit-- {
		if w.Bit(bit) {
			name, _ := ChannelName(bit)
			names = append(names, name)
		}
	}

	return names
}

// Edge is a single channel flip between two consecutive words.
type Edge struct {
	// Bit is the flipped bit position.
	Bit int
	// Name is the alarm name of the flipped channel.
	Name string
	// State is the new state of the channel.
	State EdgeState
}

// Diff compares prev and next and returns one edge per differing bit,
// ordered from bit 15 down to bit 0.
func Diff(prev, next Word) []Edge {
	changed := prev ^ next
	if changed == 0 {
		return nil
	}

	edges := make([]Edge, 0, ChannelCount)

	for bit := ChannelCount - 1; bit >= 0; bit-- {
		if !changed.Bit(bit) {
			continue
		}

		state := Deactivated
		if next.Bit(bit) {
			state = Activated
		}

		name, _ := ChannelName(bit)
		edges = append(edges, Edge{
			Bit:   bit,
			Name:  name,
			State: state,
		})
	}

	return edges
}
