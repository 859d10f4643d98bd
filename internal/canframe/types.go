package canframe

import (
	"fmt"
	"strings"
)

// Format governs how a response line's leading header is read as an
// arbitration ID.
type Format int

const (
	// FormatUnspecified infers the width per line from the header text.
	FormatUnspecified Format = iota
	ElevenBit
	TwentyNineBit
)

func (f Format) String() string {
	switch f {
	case ElevenBit:
		return "11bit"
	case TwentyNineBit:
		return "29bit"
	default:
		return "auto"
	}
}

// ParseFormat accepts the spellings used in signalsets, test case files and
// CLI flags.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatUnspecified, nil
	case "11bit", "11", "eleven_bit", "standard":
		return ElevenBit, nil
	case "29bit", "29", "twenty_nine_bit", "extended":
		return TwentyNineBit, nil
	default:
		return FormatUnspecified, fmt.Errorf("unknown CAN ID format %q", s)
	}
}

// Frame is one CAN frame as printed on a response line.
type Frame struct {
	ID       uint32
	Extended bool
	Data     []byte
}

// Message is an ISO-TP payload reassembled from one or more frames sharing an
// arbitration ID. Data starts at the positive-response service byte.
type Message struct {
	ID       uint32
	Extended bool
	Data     []byte
}

// HeaderString renders the ID the way it appears in response text.
func (m Message) HeaderString() string {
	if m.Extended {
		return fmt.Sprintf("%08X", m.ID)
	}
	return fmt.Sprintf("%03X", m.ID)
}

type Response struct {
	Frames   []Frame
	Messages []Message
}
