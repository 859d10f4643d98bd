package decode

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"example.com/signalgate/internal/canframe"
	"example.com/signalgate/internal/signalset"
)

// Extract decodes every signal of cmd from payload. A payload shorter than
// the command minimum yields a ShortFrameError and no values. Lookup misses
// are joined into the returned error while the remaining signals still
// decode.
func Extract(cmd *signalset.Command, payload []byte) (Values, error) {
	if len(payload) < cmd.MinPayload() {
		return nil, &ShortFrameError{Command: cmd.ID(), Have: len(payload), Want: cmd.MinPayload()}
	}
	var (
		out  Values
		errs []error
	)
	for _, sig := range cmd.Signals() {
		v, err := ExtractSignal(sig, payload)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, SignalValue{Signal: sig.ID, Command: cmd.ID(), Value: v})
	}
	return out, errors.Join(errs...)
}

// ExtractSignal reads one signal's bits and applies its transform.
func ExtractSignal(sig *signalset.Signal, payload []byte) (Value, error) {
	f := &sig.Fmt
	end := f.BitOffset() + f.BitLength()
	if end > len(payload)*8 {
		return Value{}, &ShortFrameError{Command: sig.ID, Have: len(payload), Want: (end + 7) / 8}
	}
	bits := readBits(payload, f.BitOffset(), f.BitLength())
	if f.ByteOrder() == signalset.LittleEndian {
		bits = swapBytes(bits, f.BitLength()/8)
	}
	raw := int64(bits)
	numeric := float64(bits)
	if f.Signed() {
		raw = signExtend(bits, f.BitLength())
		numeric = float64(raw)
	}

	var v Value
	switch f.Kind() {
	case signalset.Linear:
		mul, div, add := f.Scale()
		x := numeric*mul/div + add
		if p, ok := f.Precision(); ok {
			x = roundTo(x, p)
		}
		if x == 0 {
			x = 0 // drop negative zero
		}
		v = NumberValue(x)
		numeric = x
	case signalset.LookupTable:
		label, ok := f.Lookup(raw)
		if !ok {
			return Value{}, &UnmappedValueError{Signal: sig.ID, Raw: raw}
		}
		v = LabelValue(label)
	case signalset.Bitmask:
		labels := []string{}
		for _, e := range f.Bits {
			if bits>>uint(e.Key)&1 == 1 {
				labels = append(labels, e.Label)
			}
		}
		v = LabelsValue(labels)
	default:
		return Value{}, fmt.Errorf("signal %s: unsupported transform %s", sig.ID, f.Kind())
	}
	v.Raw = raw
	v.Unit = f.Unit
	if f.Min.IsSet() && numeric < f.Min.Float64() {
		v.OutOfRange = true
	}
	if f.Max.IsSet() && numeric > f.Max.Float64() {
		v.OutOfRange = true
	}
	return v, nil
}

// readBits reads length bits starting at offset; bit 0 is the most
// significant bit of the first byte.
func readBits(payload []byte, offset, length int) uint64 {
	var v uint64
	for i := 0; i < length; i++ {
		bit := offset + i
		b := payload[bit/8] >> (7 - uint(bit%8)) & 1
		v = v<<1 | uint64(b)
	}
	return v
}

func swapBytes(v uint64, n int) uint64 {
	var out uint64
	for i := 0; i < n; i++ {
		out = out<<8 | (v>>(8*uint(i)))&0xFF
	}
	return out
}

func signExtend(v uint64, length int) int64 {
	if length >= 64 {
		return int64(v)
	}
	if v&(1<<uint(length-1)) != 0 {
		return int64(v) - int64(1)<<uint(length)
	}
	return int64(v)
}

// roundTo rounds x half away from zero to p decimal places, working on the
// shortest decimal rendering of x.
func roundTo(x float64, p int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	s := strconv.FormatFloat(x, 'f', -1, 64)
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) <= p {
		return x
	}
	t, err := strconv.ParseFloat(whole+"."+frac[:p]+"0", 64)
	if err != nil {
		return x
	}
	if frac[p] >= '5' {
		step := math.Pow10(-p)
		if x < 0 {
			t -= step
		} else {
			t += step
		}
	}
	r, err := strconv.ParseFloat(strconv.FormatFloat(t, 'f', p, 64), 64)
	if err != nil {
		return x
	}
	return r
}

// Result is everything decoded from one response.
type Result struct {
	Matches []Match
	Values  Values
	Errors  []error
}

// Err joins the per-command extraction errors.
func (r Result) Err() error {
	return errors.Join(r.Errors...)
}

// Decode matches a response and extracts every matched command. Parse and
// no-match failures are returned as the error; extraction failures are
// collected per command in the Result.
func Decode(set *signalset.Signalset, text string, format canframe.Format) (Result, error) {
	matches, err := MatchHex(set, text, format)
	if err != nil {
		return Result{}, err
	}
	res := Result{Matches: matches}
	for _, m := range matches {
		vals, err := Extract(m.Command, m.Payload)
		header := m.Message.HeaderString()
		for _, sv := range vals {
			sv.Header = header
			res.Values = append(res.Values, sv)
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("%s from %s: %w", m.Command.ID(), header, err))
		}
	}
	return res, nil
}
