package decode

import (
	"errors"
	"reflect"
	"testing"

	"example.com/signalgate/internal/canframe"
	"example.com/signalgate/internal/signalset"
)

const testSignalset = `{
  "canIdFormat": "11bit",
  "commands": [
    {
      "hdr": "7E0",
      "cmd": {"01": "0D"},
      "signals": [
        {"id": "SPEED", "fmt": {"len": 8, "mul": 0.1, "max": 20, "unit": "kilometersPerHour"}}
      ]
    },
    {
      "hdr": "7E0",
      "cmd": {"22": "1234"},
      "len": 4,
      "signals": [
        {"id": "GEAR", "fmt": {"len": 8, "map": {"0": "OFF", "1": "ON"}}},
        {"id": "FLAGS", "fmt": {"bix": 8, "len": 8, "bits": {"0": "A", "3": "D", "7": "H"}}},
        {"id": "TEMP", "fmt": {"bix": 16, "len": 16, "sign": true, "div": 10, "add": -40, "prec": 1, "unit": "celsius"}}
      ]
    },
    {
      "hdr": "7DF",
      "cmd": {"01": "0D"},
      "signals": [
        {"id": "SPEED_ANY", "fmt": {"len": 8}}
      ]
    }
  ]
}`

func loadTestSet(t *testing.T) *signalset.Signalset {
	t.Helper()
	set, err := signalset.Load([]byte(testSignalset))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return set
}

func TestLinearScaleExample(t *testing.T) {
	set := loadTestSet(t)
	res, err := Decode(set, "7E8 03 41 0D 41", canframe.FormatUnspecified)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	v, ok := res.Values.Get("SPEED")
	if !ok {
		t.Fatalf("SPEED missing from %+v", res.Values)
	}
	if v.Number != 6.5 {
		t.Fatalf("SPEED = %v, want 6.5", v.Number)
	}
	if v.OutOfRange {
		t.Fatalf("SPEED unexpectedly out of range")
	}
}

func TestMatchOrdersByDeclaration(t *testing.T) {
	set := loadTestSet(t)
	matches, err := MatchHex(set, "7E8 03 41 0D 41", canframe.FormatUnspecified)
	if err != nil {
		t.Fatalf("MatchHex failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Command.ID() != "7E0.010D" || matches[1].Command.ID() != "7DF.010D" {
		t.Fatalf("unexpected order %s, %s", matches[0].Command.ID(), matches[1].Command.ID())
	}
	if len(matches[0].Payload) != 1 || matches[0].Payload[0] != 0x41 {
		t.Fatalf("payload should exclude header bytes, got % X", matches[0].Payload)
	}
}

func TestMatchResponseParsed(t *testing.T) {
	set := loadTestSet(t)
	resp, err := canframe.ParseResponse("7E8 03 41 0D 41", canframe.ElevenBit)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	matches, err := MatchResponse(set, resp)
	if err != nil {
		t.Fatalf("MatchResponse failed: %v", err)
	}
	if len(matches) != 2 || matches[0].Command.ID() != "7E0.010D" {
		t.Fatalf("unexpected matches %+v", matches)
	}
}

func TestNoMatch(t *testing.T) {
	set := loadTestSet(t)
	_, err := MatchHex(set, "7E8 03 41 0C 41", canframe.FormatUnspecified)
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
	_, err = MatchHex(set, "7E9 03 41 0D 41", canframe.ElevenBit)
	if err != nil {
		t.Fatalf("broadcast command should accept 7E9: %v", err)
	}
}

func TestLookupBitmaskSigned(t *testing.T) {
	set := loadTestSet(t)
	// temp raw 0xFE70 = -400 -> -40.0 - 40 = -80.0
	res, err := Decode(set, "7E8 07 62 12 34 01 89 FE 70", canframe.FormatUnspecified)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if err := res.Err(); err != nil {
		t.Fatalf("unexpected extraction error: %v", err)
	}
	got := res.Values.Map()
	if got["GEAR"].Label != "ON" {
		t.Fatalf("GEAR = %v", got["GEAR"])
	}
	if !reflect.DeepEqual(got["FLAGS"].Labels, []string{"A", "D", "H"}) {
		t.Fatalf("FLAGS = %v", got["FLAGS"].Labels)
	}
	if got["TEMP"].Number != -80 {
		t.Fatalf("TEMP = %v, want -80", got["TEMP"].Number)
	}
}

func TestLookupMiss(t *testing.T) {
	set := loadTestSet(t)
	res, err := Decode(set, "7E8 07 62 12 34 02 00 01 90", canframe.FormatUnspecified)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	var unmapped *UnmappedValueError
	if !errors.As(res.Err(), &unmapped) {
		t.Fatalf("err = %v, want UnmappedValueError", res.Err())
	}
	if unmapped.Signal != "GEAR" || unmapped.Raw != 2 {
		t.Fatalf("unexpected error detail %+v", unmapped)
	}
	if _, ok := res.Values.Get("TEMP"); !ok {
		t.Fatalf("other signals should still decode")
	}
}

func TestShortFrame(t *testing.T) {
	set := loadTestSet(t)
	cmd, _ := set.CommandByID("7E0.221234")
	_, err := Extract(cmd, []byte{0x01, 0x02})
	if !errors.Is(err, ErrShortFrame) {
		t.Fatalf("err = %v, want ErrShortFrame", err)
	}
}

func TestOutOfRangeIsFlagged(t *testing.T) {
	set := loadTestSet(t)
	res, err := Decode(set, "7E8 03 41 0D FF", canframe.FormatUnspecified)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	v, _ := res.Values.Get("SPEED")
	if !v.OutOfRange || v.Number != 25.5 {
		t.Fatalf("SPEED = %+v, want flagged 25.5", v)
	}
}

func TestDecodeDeterministic(t *testing.T) {
	set := loadTestSet(t)
	a, err := Decode(set, "7E8 07 62 12 34 01 89 FE 70", canframe.FormatUnspecified)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	b, err := Decode(set, "7E8 07 62 12 34 01 89 FE 70", canframe.FormatUnspecified)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(a.Values, b.Values) {
		t.Fatalf("decoding is not deterministic:\n%+v\n%+v", a.Values, b.Values)
	}
}

func TestReadBitsAndByteOrder(t *testing.T) {
	payload := []byte{0b1010_1100, 0x12, 0x34}
	if got := readBits(payload, 0, 4); got != 0b1010 {
		t.Fatalf("readBits high nibble = %b", got)
	}
	if got := readBits(payload, 4, 8); got != 0xC1 {
		t.Fatalf("readBits straddling = %X", got)
	}
	if got := swapBytes(readBits(payload, 8, 16), 2); got != 0x3412 {
		t.Fatalf("swapBytes = %X", got)
	}
	if got := signExtend(0xF, 4); got != -1 {
		t.Fatalf("signExtend = %d", got)
	}
}

func TestAcceptsExtendedAddressing(t *testing.T) {
	set, err := signalset.Load([]byte(`{"commands": [
  {"hdr": "18DA10F1", "cmd": {"22": "F190"}, "signals": []},
  {"hdr": "18DB33F1", "cmd": {"01": "05"}, "signals": []}
]}`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cmds := set.Commands()
	if !AcceptsID(cmds[0], 0x18DAF110, true) {
		t.Fatalf("physical 29-bit response not accepted")
	}
	if AcceptsID(cmds[0], 0x18DAF111, true) {
		t.Fatalf("response from another ECU accepted")
	}
	if !AcceptsID(cmds[1], 0x18DAF11A, true) {
		t.Fatalf("broadcast 29-bit response not accepted")
	}
	if AcceptsID(cmds[1], 0x7E8, false) {
		t.Fatalf("11-bit response accepted by 29-bit command")
	}
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		in   float64
		p    int
		want float64
	}{
		{2.5, 0, 3},
		{-2.5, 0, -3},
		{1.005, 2, 1.01},
		{0.125, 2, 0.13},
		{12.34, 1, 12.3},
		{7, 2, 7},
	}
	for _, tc := range cases {
		if got := roundTo(tc.in, tc.p); got != tc.want {
			t.Fatalf("roundTo(%v, %d) = %v, want %v", tc.in, tc.p, got, tc.want)
		}
	}
}
