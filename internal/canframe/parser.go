package canframe

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	maxStdID = 0x7FF
	maxExtID = 0x1FFFFFFF

	stdHeaderDigits = 3
	extHeaderDigits = 8

	pciSingle      = 0x00
	pciFirst       = 0x10
	pciConsecutive = 0x20
	pciFlowControl = 0x30
)

var (
	ErrEmpty      = errors.New("response has no frames")
	ErrInvalidHex = errors.New("invalid hex in response")
	ErrInvalidID  = errors.New("invalid arbitration id")
	ErrPCI        = errors.New("unknown ISO-TP frame type")
	ErrSequence   = errors.New("ISO-TP consecutive frame out of sequence")
	ErrTruncated  = errors.New("ISO-TP message truncated")
)

// ParseResponse parses response text into frames and reassembles the
// ISO-TP messages they carry.
func ParseResponse(text string, format Format) (Response, error) {
	frames, err := ParseFrames(text, format)
	if err != nil {
		return Response{}, err
	}
	msgs, err := Reassemble(frames)
	if err != nil {
		return Response{}, err
	}
	return Response{Frames: frames, Messages: msgs}, nil
}

// ParseFrames reads one frame per non-empty line: a header followed by data
// bytes, with or without separating whitespace.
func ParseFrames(text string, format Format) ([]Frame, error) {
	var frames []Frame
	for n, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		f, err := parseLine(line, format)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		return nil, ErrEmpty
	}
	return frames, nil
}

func parseLine(line string, format Format) (Frame, error) {
	fields := strings.Fields(line)
	compact := strings.Join(fields, "")
	digits := headerDigits(fields, compact, format)
	if len(compact) < digits {
		return Frame{}, fmt.Errorf("%w: %q too short for header", ErrInvalidID, line)
	}
	if len(fields) > 1 && len(fields[0]) != digits {
		return Frame{}, fmt.Errorf("%w: header %q does not match %s", ErrInvalidID, fields[0], format)
	}
	id, err := strconv.ParseUint(compact[:digits], 16, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %q", ErrInvalidID, compact[:digits])
	}
	f := Frame{ID: uint32(id), Extended: digits == extHeaderDigits}
	if (!f.Extended && id > maxStdID) || (f.Extended && id > maxExtID) {
		return Frame{}, fmt.Errorf("%w: %q out of range", ErrInvalidID, compact[:digits])
	}
	data, err := hex.DecodeString(compact[digits:])
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %q", ErrInvalidHex, compact[digits:])
	}
	f.Data = data
	return f, nil
}

// headerDigits picks the header width. Without a forced format, a separate
// header token decides; a compact line with an odd digit count can only hold
// an 11-bit header.
func headerDigits(fields []string, compact string, format Format) int {
	switch format {
	case ElevenBit:
		return stdHeaderDigits
	case TwentyNineBit:
		return extHeaderDigits
	}
	if len(fields) > 1 && len(fields[0]) == extHeaderDigits {
		return extHeaderDigits
	}
	if len(fields) == 1 && len(compact)%2 == 0 {
		return extHeaderDigits
	}
	return stdHeaderDigits
}

type pending struct {
	index int
	msg   Message
	total int
	seq   byte
}

// Reassemble groups frames by arbitration ID and joins ISO-TP segments.
// Messages are returned in the order their first frame appeared. Flow
// control frames are skipped.
func Reassemble(frames []Frame) ([]Message, error) {
	type done struct {
		index int
		msg   Message
	}
	var out []done
	open := make(map[uint32]*pending)
	for i, f := range frames {
		if len(f.Data) == 0 {
			return nil, fmt.Errorf("frame %d: %w: no data", i+1, ErrTruncated)
		}
		pci := f.Data[0] & 0xF0
		switch pci {
		case pciSingle:
			size := int(f.Data[0] & 0x0F)
			start := 1
			if size == 0 {
				if len(f.Data) < 2 {
					return nil, fmt.Errorf("frame %d: %w: escaped single frame", i+1, ErrTruncated)
				}
				size = int(f.Data[1])
				start = 2
			}
			if len(f.Data)-start < size {
				return nil, fmt.Errorf("frame %d: %w: single frame wants %d bytes", i+1, ErrTruncated, size)
			}
			out = append(out, done{index: i, msg: Message{
				ID: f.ID, Extended: f.Extended, Data: append([]byte(nil), f.Data[start:start+size]...),
			}})
		case pciFirst:
			if len(f.Data) < 2 {
				return nil, fmt.Errorf("frame %d: %w: first frame", i+1, ErrTruncated)
			}
			total := int(f.Data[0]&0x0F)<<8 | int(f.Data[1])
			if total == 0 {
				return nil, fmt.Errorf("frame %d: %w: first frame declares zero length", i+1, ErrPCI)
			}
			msg := Message{ID: f.ID, Extended: f.Extended, Data: append([]byte(nil), f.Data[2:]...)}
			if len(msg.Data) >= total {
				msg.Data = msg.Data[:total]
				out = append(out, done{index: i, msg: msg})
				delete(open, f.ID)
				continue
			}
			open[f.ID] = &pending{index: i, total: total, seq: 1, msg: msg}
		case pciConsecutive:
			p, ok := open[f.ID]
			if !ok {
				return nil, fmt.Errorf("frame %d: %w: no first frame for %03X", i+1, ErrSequence, f.ID)
			}
			if seq := f.Data[0] & 0x0F; seq != p.seq {
				return nil, fmt.Errorf("frame %d: %w: got %d want %d", i+1, ErrSequence, seq, p.seq)
			}
			p.seq = (p.seq + 1) & 0x0F
			p.msg.Data = append(p.msg.Data, f.Data[1:]...)
			if len(p.msg.Data) >= p.total {
				p.msg.Data = p.msg.Data[:p.total]
				out = append(out, done{index: p.index, msg: p.msg})
				delete(open, f.ID)
			}
		case pciFlowControl:
			continue
		default:
			return nil, fmt.Errorf("frame %d: %w 0x%02X", i+1, ErrPCI, f.Data[0])
		}
	}
	var first *pending
	for _, p := range open {
		if first == nil || p.index < first.index {
			first = p
		}
	}
	if first != nil {
		return nil, fmt.Errorf("%w: %s has %d of %d bytes", ErrTruncated, first.msg.HeaderString(), len(first.msg.Data), first.total)
	}
	// completion order differs from first-frame order when IDs interleave
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].index < out[j-1].index; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	msgs := make([]Message, len(out))
	for i, d := range out {
		msgs[i] = d.msg
	}
	return msgs, nil
}
