package signalset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadValid(t *testing.T) {
	set, err := Load([]byte(`{
  "canIdFormat": "11bit",
  "commands": [
    {"hdr": "7e0", "rax": "7e8", "cmd": {"22": "f40d"}, "len": 3, "signals": [
      {"id": "GEAR", "fmt": {"len": 8, "map": {"2": "D", "0": "P"}, "default": "?"}},
      {"id": "FLAGS", "fmt": {"bix": 8, "len": 8, "bits": {"7": "H", "0": "A"}}},
      {"id": "RPM", "fmt": {"bix": 8, "len": 16, "div": 4}, "overlay": true}
    ]}
  ]
}`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cmd, ok := set.CommandByID("7e0.7e8.22f40d")
	if !ok {
		t.Fatalf("command not found by id")
	}
	if cmd.ID() != "7E0.7E8.22F40D" {
		t.Fatalf("ID = %s", cmd.ID())
	}
	if cmd.MinPayload() != 3 {
		t.Fatalf("MinPayload = %d, want 3", cmd.MinPayload())
	}
	if got := cmd.ResponseHeader(); len(got) != 3 || got[0] != 0x62 || got[1] != 0xF4 || got[2] != 0x0D {
		t.Fatalf("ResponseHeader = % X", got)
	}
	sig, owner, ok := set.SignalByID("GEAR")
	if !ok || owner != cmd {
		t.Fatalf("SignalByID(GEAR) failed")
	}
	if sig.Fmt.Kind() != LookupTable || sig.Fmt.Map[0].Key != 0 || sig.Fmt.Map[1].Key != 2 {
		t.Fatalf("map not sorted by key: %+v", sig.Fmt.Map)
	}
	if label, ok := sig.Fmt.Lookup(9); !ok || label != "?" {
		t.Fatalf("Lookup default = %q, %v", label, ok)
	}
	flags, _, _ := set.SignalByID("FLAGS")
	if flags.Fmt.Kind() != Bitmask || flags.Fmt.Bits[0].Label != "A" {
		t.Fatalf("bits not sorted by key: %+v", flags.Fmt.Bits)
	}
	if set.SignalCount() != 3 {
		t.Fatalf("SignalCount = %d", set.SignalCount())
	}
}

func TestLoadMinPayloadFromSignals(t *testing.T) {
	set, err := Load([]byte(`{"commands": [{"hdr": "7DF", "cmd": {"01": "0C"}, "signals": [
  {"id": "RPM", "fmt": {"len": 16, "div": 4}},
  {"id": "X", "fmt": {"bix": 20, "len": 1}}
]}]}`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := set.Commands()[0].MinPayload(); got != 3 {
		t.Fatalf("MinPayload = %d, want 3", got)
	}
}

func TestLoadRejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"missing commands", `{}`, "missing commands"},
		{"unknown field", `{"commands": [], "extra": 1}`, "unknown field"},
		{"bad format", `{"canIdFormat": "12bit", "commands": []}`, "unknown format"},
		{"width mismatch", `{"canIdFormat": "29bit", "commands": [{"hdr": "7E0", "cmd": {"01": "0D"}, "signals": []}]}`, "does not match canIdFormat"},
		{"duplicate command", `{"commands": [
  {"hdr": "7E0", "cmd": {"01": "0D"}, "signals": []},
  {"hdr": "7e0", "cmd": {"01": "0d"}, "signals": []}]}`, "duplicate command"},
		{"duplicate signal across commands", `{"commands": [
  {"hdr": "7E0", "cmd": {"01": "0D"}, "signals": [{"id": "S", "fmt": {"len": 8}}]},
  {"hdr": "7E0", "cmd": {"01": "0C"}, "signals": [{"id": "S", "fmt": {"len": 8}}]}]}`, "duplicate signal id"},
		{"beyond declared len", `{"commands": [{"hdr": "7E0", "cmd": {"01": "0D"}, "len": 1, "signals": [
  {"id": "S", "fmt": {"bix": 4, "len": 8}}]}]}`, "exceed declared payload"},
		{"overlap", `{"commands": [{"hdr": "7E0", "cmd": {"01": "0D"}, "signals": [
  {"id": "A", "fmt": {"len": 8}}, {"id": "B", "fmt": {"bix": 4, "len": 8}}]}]}`, "overlaps"},
		{"map and bits", `{"commands": [{"hdr": "7E0", "cmd": {"01": "0D"}, "signals": [
  {"id": "A", "fmt": {"len": 8, "map": {"0": "x"}, "bits": {"0": "y"}}}]}]}`, "mutually exclusive"},
		{"map with scale", `{"commands": [{"hdr": "7E0", "cmd": {"01": "0D"}, "signals": [
  {"id": "A", "fmt": {"len": 8, "mul": 2, "map": {"0": "x"}}}]}]}`, "cannot be combined"},
		{"bit out of range", `{"commands": [{"hdr": "7E0", "cmd": {"01": "0D"}, "signals": [
  {"id": "A", "fmt": {"len": 4, "bits": {"4": "x"}}}]}]}`, "invalid key"},
		{"duplicate map key", `{"commands": [{"hdr": "7E0", "cmd": {"01": "0D"}, "signals": [
  {"id": "A", "fmt": {"len": 8, "map": {"1": "x", "1": "y"}}}]}]}`, "duplicate key"},
		{"zero div", `{"commands": [{"hdr": "7E0", "cmd": {"01": "0D"}, "signals": [
  {"id": "A", "fmt": {"len": 8, "div": 0}}]}]}`, "must not be zero"},
		{"len too wide", `{"commands": [{"hdr": "7E0", "cmd": {"01": "0D"}, "signals": [
  {"id": "A", "fmt": {"len": 65}}]}]}`, "1..64"},
		{"unaligned le", `{"commands": [{"hdr": "7E0", "cmd": {"01": "0D"}, "signals": [
  {"id": "A", "fmt": {"len": 12, "order": "le"}}]}]}`, "byte-aligned"},
		{"min above max", `{"commands": [{"hdr": "7E0", "cmd": {"01": "0D"}, "signals": [
  {"id": "A", "fmt": {"len": 8, "min": 10, "max": 1}}]}]}`, "greater than max"},
		{"two services", `{"commands": [{"hdr": "7E0", "cmd": {"01": "0D", "22": "01"}, "signals": []}]}`, "exactly one"},
		{"bad hdr", `{"commands": [{"hdr": "7E", "cmd": {"01": "0D"}, "signals": []}]}`, "3 or 8 hex digits"},
		{"default without map", `{"commands": [{"hdr": "7E0", "cmd": {"01": "0D"}, "signals": [
  {"id": "A", "fmt": {"len": 8, "default": "x"}}]}]}`, "default requires map"},
		{"trailing data", `{"commands": []} {}`, "unexpected data"},
	}
	for _, tc := range cases {
		_, err := Load([]byte(tc.doc))
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !errors.Is(err, ErrParse) {
			t.Fatalf("%s: error %v is not ErrParse", tc.name, err)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestLoadErrorPath(t *testing.T) {
	_, err := Load([]byte(`{"commands": [
  {"hdr": "7E0", "cmd": {"01": "0D"}, "signals": [{"id": "A", "fmt": {"len": 8}}]},
  {"hdr": "7E0", "cmd": {"01": "0C"}, "signals": [{"id": "B", "fmt": {"len": 0}}]}]}`))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ParseError", err)
	}
	if pe.Path != "commands[1].signals[0].fmt.len" {
		t.Fatalf("Path = %q", pe.Path)
	}
}

func TestLoadSyntaxErrorPosition(t *testing.T) {
	_, err := Load([]byte("{\n  \"commands\": [\n    ,\n  ]\n}"))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ParseError", err)
	}
	if pe.Line != 3 {
		t.Fatalf("Line = %d, want 3 (%v)", pe.Line, err)
	}
}

func TestLoadFileNamesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"commands": 1}`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	_, err := LoadFile(path)
	if err == nil || !strings.HasPrefix(err.Error(), path) {
		t.Fatalf("error %v should start with file name", err)
	}
}
