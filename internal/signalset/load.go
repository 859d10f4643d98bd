package signalset

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

const (
	maxStdID = 0x7FF
	maxExtID = 0x1FFFFFFF

	maxBitLength = 64
	maxPrecision = 15
	maxPIDBytes  = 4
)

type fileJSON struct {
	CANIDFormat string         `json:"canIdFormat"`
	Commands    *[]commandJSON `json:"commands"`
}

type commandJSON struct {
	Hdr     string          `json:"hdr"`
	Rax     string          `json:"rax"`
	Cmd     *orderedStrings `json:"cmd"`
	Freq    json.Number     `json:"freq"`
	Len     json.Number     `json:"len"`
	Signals *[]signalJSON   `json:"signals"`
}

type signalJSON struct {
	ID              string   `json:"id"`
	Path            string   `json:"path"`
	Fmt             *fmtJSON `json:"fmt"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	SuggestedMetric string   `json:"suggestedMetric"`
	Overlay         *bool    `json:"overlay"`
}

type fmtJSON struct {
	Bix     json.Number     `json:"bix"`
	Len     json.Number     `json:"len"`
	Sign    *bool           `json:"sign"`
	Order   string          `json:"order"`
	Mul     json.Number     `json:"mul"`
	Div     json.Number     `json:"div"`
	Add     json.Number     `json:"add"`
	Prec    json.Number     `json:"prec"`
	Map     *orderedStrings `json:"map"`
	Default *string         `json:"default"`
	Bits    *orderedStrings `json:"bits"`
	Min     json.Number     `json:"min"`
	Max     json.Number     `json:"max"`
	Unit    string          `json:"unit"`
}

type keyValue struct {
	Key   string
	Value string
}

// orderedStrings decodes a JSON object of string values keeping declaration
// order and rejecting duplicate keys.
type orderedStrings []keyValue

func (o *orderedStrings) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("expected an object")
	}
	out := orderedStrings{}
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var val string
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("key %q: value must be a string", key)
		}
		if seen[key] {
			return fmt.Errorf("duplicate key %q", key)
		}
		seen[key] = true
		out = append(out, keyValue{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*o = out
	return nil
}

// LoadFile reads and validates a signalset file. Errors carry the file name.
func LoadFile(path string) (*Signalset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	set, err := Load(data)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.File = path
		}
		return nil, err
	}
	return set, nil
}

// Load parses and fully validates a signalset. It never returns a partially
// valid set.
func Load(data []byte) (*Signalset, error) {
	var file fileJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, decodeErr(data, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		line, col := lineCol(data, dec.InputOffset())
		return nil, &ParseError{Line: line, Column: col, Msg: "unexpected data after top-level object"}
	}
	return build(file)
}

func decodeErr(data []byte, err error) error {
	var syntax *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntax):
		line, col := lineCol(data, syntax.Offset)
		return &ParseError{Line: line, Column: col, Msg: syntax.Error(), Err: err}
	case errors.As(err, &typeErr):
		line, col := lineCol(data, typeErr.Offset)
		return &ParseError{Path: typeErr.Field, Line: line, Column: col,
			Msg: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value), Err: err}
	case errors.Is(err, io.EOF):
		return &ParseError{Msg: "empty document", Err: err}
	default:
		return &ParseError{Msg: strings.TrimPrefix(err.Error(), "json: "), Err: err}
	}
}

func build(file fileJSON) (*Signalset, error) {
	set := &Signalset{
		CANIDFormat: file.CANIDFormat,
		byID:        make(map[string]*Command),
		bySignal:    make(map[string]*Signal),
		owner:       make(map[string]*Command),
	}
	switch file.CANIDFormat {
	case "", "11bit", "29bit":
	default:
		return nil, schemaErr("canIdFormat", "unknown format %q (want 11bit or 29bit)", file.CANIDFormat)
	}
	if file.Commands == nil {
		return nil, schemaErr("", "missing commands")
	}
	for i, cj := range *file.Commands {
		path := fmt.Sprintf("commands[%d]", i)
		cmd, err := buildCommand(path, cj)
		if err != nil {
			return nil, err
		}
		if (set.CANIDFormat == "11bit" && cmd.extended) || (set.CANIDFormat == "29bit" && !cmd.extended) {
			return nil, schemaErr(path+".hdr", "header %s does not match canIdFormat %s", cmd.Hdr, set.CANIDFormat)
		}
		if _, exists := set.byID[cmd.id]; exists {
			return nil, schemaErr(path, "duplicate command %s", cmd.id)
		}
		for j, sig := range cmd.signals {
			if _, exists := set.bySignal[sig.ID]; exists {
				return nil, schemaErr(fmt.Sprintf("%s.signals[%d]", path, j), "duplicate signal id %q", sig.ID)
			}
			set.bySignal[sig.ID] = sig
			set.owner[sig.ID] = cmd
		}
		set.byID[cmd.id] = cmd
		set.commands = append(set.commands, cmd)
	}
	return set, nil
}

func buildCommand(path string, cj commandJSON) (*Command, error) {
	cmd := &Command{
		Hdr: strings.ToUpper(strings.TrimSpace(cj.Hdr)),
		Rax: strings.ToUpper(strings.TrimSpace(cj.Rax)),
	}
	var err error
	if cmd.Hdr == "" {
		return nil, schemaErr(path, "missing hdr")
	}
	cmd.hdrID, cmd.extended, err = parseArbitrationID(cmd.Hdr)
	if err != nil {
		return nil, schemaErr(path+".hdr", "%v", err)
	}
	if cmd.Rax != "" {
		var ext bool
		cmd.raxID, ext, err = parseArbitrationID(cmd.Rax)
		if err != nil {
			return nil, schemaErr(path+".rax", "%v", err)
		}
		if ext != cmd.extended {
			return nil, schemaErr(path+".rax", "rax %s and hdr %s differ in width", cmd.Rax, cmd.Hdr)
		}
	}

	if cj.Cmd == nil || len(*cj.Cmd) != 1 {
		return nil, schemaErr(path+".cmd", "cmd must hold exactly one service entry")
	}
	entry := (*cj.Cmd)[0]
	cmd.Service = strings.ToUpper(strings.TrimSpace(entry.Key))
	cmd.PID = strings.ToUpper(strings.TrimSpace(entry.Value))
	svc, err := hex.DecodeString(cmd.Service)
	if err != nil || len(svc) != 1 {
		return nil, schemaErr(path+".cmd", "service %q must be one hex byte", entry.Key)
	}
	if svc[0] == 0 || svc[0] > 0x3F {
		return nil, schemaErr(path+".cmd", "service 0x%02X out of range", svc[0])
	}
	pid, err := hex.DecodeString(cmd.PID)
	if err != nil || len(pid) > maxPIDBytes {
		return nil, schemaErr(path+".cmd", "pid %q must be at most %d hex bytes", entry.Value, maxPIDBytes)
	}
	cmd.respHeader = append([]byte{svc[0] + 0x40}, pid...)
	cmd.id = cmd.Hdr + "."
	if cmd.Rax != "" {
		cmd.id += cmd.Rax + "."
	}
	cmd.id += cmd.Service + cmd.PID

	if cmd.Freq, err = numberField(cj.Freq); err != nil {
		return nil, schemaErr(path+".freq", "%v", err)
	}
	if cmd.Freq.IsSet() && cmd.Freq.Float64() < 0 {
		return nil, schemaErr(path+".freq", "must not be negative")
	}
	if cmd.Len, err = numberField(cj.Len); err != nil {
		return nil, schemaErr(path+".len", "%v", err)
	}
	declared := -1
	if cmd.Len.IsSet() {
		n, ok := cmd.Len.Int()
		if !ok || n < 0 {
			return nil, schemaErr(path+".len", "must be a non-negative integer")
		}
		declared = n
	}

	if cj.Signals == nil {
		return nil, schemaErr(path, "missing signals")
	}
	seen := make(map[string]bool)
	maxEnd := 0
	for j, sj := range *cj.Signals {
		spath := fmt.Sprintf("%s.signals[%d]", path, j)
		sig, err := buildSignal(spath, sj)
		if err != nil {
			return nil, err
		}
		if seen[sig.ID] {
			return nil, schemaErr(spath, "duplicate signal id %q in command", sig.ID)
		}
		seen[sig.ID] = true
		if declared >= 0 && sig.end() > declared*8 {
			return nil, schemaErr(spath, "bits %d..%d exceed declared payload of %d bytes",
				sig.Fmt.offset, sig.end()-1, declared)
		}
		if sig.end() > maxEnd {
			maxEnd = sig.end()
		}
		cmd.signals = append(cmd.signals, sig)
	}
	if err := checkOverlaps(path, cmd.signals); err != nil {
		return nil, err
	}
	if declared >= 0 {
		cmd.minPayload = declared
	} else {
		cmd.minPayload = (maxEnd + 7) / 8
	}
	return cmd, nil
}

func parseArbitrationID(s string) (uint32, bool, error) {
	switch len(s) {
	case 3, 8:
	default:
		return 0, false, fmt.Errorf("arbitration id %q must be 3 or 8 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, false, fmt.Errorf("arbitration id %q is not hex", s)
	}
	if len(s) == 3 {
		if v > maxStdID {
			return 0, false, fmt.Errorf("arbitration id %s exceeds 11 bits", s)
		}
		return uint32(v), false, nil
	}
	if v > maxExtID {
		return 0, false, fmt.Errorf("arbitration id %s exceeds 29 bits", s)
	}
	return uint32(v), true, nil
}

func buildSignal(path string, sj signalJSON) (*Signal, error) {
	sig := &Signal{
		ID:              strings.TrimSpace(sj.ID),
		Path:            sj.Path,
		Name:            sj.Name,
		Description:     sj.Description,
		SuggestedMetric: sj.SuggestedMetric,
		Overlay:         sj.Overlay,
	}
	if sig.ID == "" {
		return nil, schemaErr(path, "missing id")
	}
	if strings.ContainsAny(sig.ID, " \t\r\n") {
		return nil, schemaErr(path, "id %q must not contain whitespace", sig.ID)
	}
	if sj.Fmt == nil {
		return nil, schemaErr(path, "signal %s: missing fmt", sig.ID)
	}
	f, err := buildFmt(path+".fmt", *sj.Fmt)
	if err != nil {
		return nil, err
	}
	sig.Fmt = f
	return sig, nil
}

func buildFmt(path string, fj fmtJSON) (Fmt, error) {
	f := Fmt{
		Sign:    fj.Sign,
		Order:   fj.Order,
		Default: fj.Default,
		Unit:    fj.Unit,
	}
	numbers := []struct {
		name string
		raw  json.Number
		dst  *Number
	}{
		{"bix", fj.Bix, &f.Bix},
		{"len", fj.Len, &f.Len},
		{"mul", fj.Mul, &f.Mul},
		{"div", fj.Div, &f.Div},
		{"add", fj.Add, &f.Add},
		{"prec", fj.Prec, &f.Prec},
		{"min", fj.Min, &f.Min},
		{"max", fj.Max, &f.Max},
	}
	for _, n := range numbers {
		v, err := numberField(n.raw)
		if err != nil {
			return f, schemaErr(path+"."+n.name, "%v", err)
		}
		*n.dst = v
	}

	if !f.Len.IsSet() {
		return f, schemaErr(path, "missing len")
	}
	length, ok := f.Len.Int()
	if !ok || length < 1 || length > maxBitLength {
		return f, schemaErr(path+".len", "must be an integer in 1..%d", maxBitLength)
	}
	f.length = length
	if f.Bix.IsSet() {
		off, ok := f.Bix.Int()
		if !ok || off < 0 {
			return f, schemaErr(path+".bix", "must be a non-negative integer")
		}
		f.offset = off
	}
	switch f.Order {
	case "", "be":
	case "le":
		if length%8 != 0 {
			return f, schemaErr(path+".order", "little-endian requires a byte-aligned len, got %d", length)
		}
	default:
		return f, schemaErr(path+".order", "unknown byte order %q", f.Order)
	}
	if f.Div.IsSet() && f.Div.Float64() == 0 {
		return f, schemaErr(path+".div", "must not be zero")
	}
	if f.Prec.IsSet() {
		p, ok := f.Prec.Int()
		if !ok || p < 0 || p > maxPrecision {
			return f, schemaErr(path+".prec", "must be an integer in 0..%d", maxPrecision)
		}
	}
	if f.Min.IsSet() && f.Max.IsSet() && f.Min.Float64() > f.Max.Float64() {
		return f, schemaErr(path, "min %s is greater than max %s", f.Min, f.Max)
	}

	linear := f.Mul.IsSet() || f.Div.IsSet() || f.Add.IsSet() || f.Prec.IsSet()
	switch {
	case fj.Map != nil && fj.Bits != nil:
		return f, schemaErr(path, "map and bits are mutually exclusive")
	case fj.Map != nil:
		if linear {
			return f, schemaErr(path, "map cannot be combined with mul/div/add/prec")
		}
		entries, err := buildEntries(path+".map", *fj.Map, func(k int64) bool { return true })
		if err != nil {
			return f, err
		}
		f.Map = entries
		f.kind = LookupTable
	case fj.Bits != nil:
		if linear {
			return f, schemaErr(path, "bits cannot be combined with mul/div/add/prec")
		}
		entries, err := buildEntries(path+".bits", *fj.Bits, func(k int64) bool {
			return k >= 0 && k < int64(length)
		})
		if err != nil {
			return f, err
		}
		f.Bits = entries
		f.kind = Bitmask
	default:
		f.kind = Linear
	}
	if f.Default != nil {
		if f.kind != LookupTable {
			return f, schemaErr(path+".default", "default requires map")
		}
		if *f.Default == "" {
			return f, schemaErr(path+".default", "must not be empty")
		}
	}
	return f, nil
}

func buildEntries(path string, raw orderedStrings, valid func(int64) bool) ([]Entry, error) {
	if len(raw) == 0 {
		return nil, schemaErr(path, "must have at least one entry")
	}
	entries := make([]Entry, 0, len(raw))
	seen := make(map[int64]bool)
	for _, kv := range raw {
		key, err := strconv.ParseInt(strings.TrimSpace(kv.Key), 10, 64)
		if err != nil || !valid(key) {
			return nil, schemaErr(path, "invalid key %q", kv.Key)
		}
		if seen[key] {
			return nil, schemaErr(path, "duplicate key %d", key)
		}
		if kv.Value == "" {
			return nil, schemaErr(path, "empty label for key %d", key)
		}
		seen[key] = true
		entries = append(entries, Entry{Key: key, Label: kv.Value})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func numberField(raw json.Number) (Number, error) {
	if raw == "" {
		return Number{}, nil
	}
	return ParseNumber(raw.String())
}

// checkOverlaps rejects signals sharing bits unless one of them is marked as
// an overlay.
func checkOverlaps(path string, signals []*Signal) error {
	for i := 0; i < len(signals); i++ {
		a := signals[i]
		if a.IsOverlay() {
			continue
		}
		for j := i + 1; j < len(signals); j++ {
			b := signals[j]
			if b.IsOverlay() {
				continue
			}
			if a.Fmt.offset < b.end() && b.Fmt.offset < a.end() {
				return schemaErr(fmt.Sprintf("%s.signals[%d]", path, j),
					"signal %s overlaps %s (bits %d..%d); mark one as overlay", b.ID, a.ID, a.Fmt.offset, a.end()-1)
			}
		}
	}
	return nil
}
