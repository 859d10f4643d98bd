package decode

import (
	"bytes"
	"fmt"

	"example.com/signalgate/internal/canframe"
	"example.com/signalgate/internal/signalset"
)

const (
	obdBroadcastStd = 0x7DF
	obdFirstECUStd  = 0x7E8
	obdLastECUStd   = 0x7EF

	obdBroadcastExt = 0x18DB33F1
	obdPhysicalExt  = 0x18DA0000
	obdTesterExt    = 0x18DAF100
)

// Match is a command that accepts one response message. Payload is the
// message data after the service/PID header bytes.
type Match struct {
	Command *signalset.Command
	Message canframe.Message
	Payload []byte
}

// ResolveFormat applies the signalset's hint when the caller leaves the
// CAN ID format unspecified.
func ResolveFormat(set *signalset.Signalset, format canframe.Format) canframe.Format {
	if format != canframe.FormatUnspecified || set == nil {
		return format
	}
	hint, err := canframe.ParseFormat(set.CANIDFormat)
	if err != nil {
		return format
	}
	return hint
}

// MatchHex parses response text and matches it against the signalset.
func MatchHex(set *signalset.Signalset, text string, format canframe.Format) ([]Match, error) {
	resp, err := canframe.ParseResponse(text, ResolveFormat(set, format))
	if err != nil {
		return nil, err
	}
	return MatchResponse(set, resp)
}

// MatchResponse returns every (command, message) pair whose response ID
// and header bytes agree, in signalset declaration order and then message
// order.
func MatchResponse(set *signalset.Signalset, resp canframe.Response) ([]Match, error) {
	var out []Match
	for _, cmd := range set.Commands() {
		header := cmd.ResponseHeader()
		for _, msg := range resp.Messages {
			if !AcceptsID(cmd, msg.ID, msg.Extended) {
				continue
			}
			if !bytes.HasPrefix(msg.Data, header) {
				continue
			}
			out = append(out, Match{
				Command: cmd,
				Message: msg,
				Payload: msg.Data[len(header):],
			})
		}
	}
	if len(out) == 0 {
		nm := &NoMatchError{}
		for _, msg := range resp.Messages {
			nm.Messages = append(nm.Messages, fmt.Sprintf("%s: % X", msg.HeaderString(), msg.Data))
		}
		return nil, nm
	}
	return out, nil
}

// AcceptsID reports whether a response on id can answer cmd. A declared rax
// must match exactly; otherwise the OBD-II addressing conventions apply.
func AcceptsID(cmd *signalset.Command, id uint32, extended bool) bool {
	if extended != cmd.Extended() {
		return false
	}
	if rax, ok := cmd.ResponseID(); ok {
		return id == rax
	}
	req := cmd.RequestID()
	if !extended {
		if req == obdBroadcastStd {
			return id >= obdFirstECUStd && id <= obdLastECUStd
		}
		return id == req+8
	}
	switch {
	case req == obdBroadcastExt:
		return id&0xFFFFFF00 == obdTesterExt
	case req&0xFFFF0000 == obdPhysicalExt:
		target := (req >> 8) & 0xFF
		source := req & 0xFF
		return id == obdPhysicalExt|source<<8|target
	default:
		return id == req
	}
}
