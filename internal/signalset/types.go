package signalset

import "strings"

// TransformKind selects how a signal's raw bits become a value. The set is
// closed; consumers switch over it exhaustively.
type TransformKind int

const (
	Linear TransformKind = iota
	LookupTable
	Bitmask
)

func (k TransformKind) String() string {
	switch k {
	case Linear:
		return "linear"
	case LookupTable:
		return "lookup"
	case Bitmask:
		return "bitmask"
	default:
		return "unknown"
	}
}

type ByteOrder int

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

// Entry is one lookup-table row or one labeled bit, keyed by raw value or
// bit index.
type Entry struct {
	Key   int64
	Label string
}

// Fmt is the bit layout and value transform of a signal. Fields keep their
// source presence so the canonical form can reproduce them.
type Fmt struct {
	Bix     Number
	Len     Number
	Sign    *bool
	Order   string
	Mul     Number
	Div     Number
	Add     Number
	Prec    Number
	Map     []Entry
	Default *string
	Bits    []Entry
	Min     Number
	Max     Number
	Unit    string

	kind   TransformKind
	offset int
	length int
}

func (f *Fmt) Kind() TransformKind { return f.kind }
func (f *Fmt) BitOffset() int      { return f.offset }
func (f *Fmt) BitLength() int      { return f.length }

func (f *Fmt) Signed() bool {
	return f.Sign != nil && *f.Sign
}

func (f *Fmt) ByteOrder() ByteOrder {
	if f.Order == "le" {
		return LittleEndian
	}
	return BigEndian
}

// Scale returns the multiplier and divisor of a linear transform with their
// defaults applied.
func (f *Fmt) Scale() (mul, div, add float64) {
	mul, div = 1, 1
	if f.Mul.IsSet() {
		mul = f.Mul.Float64()
	}
	if f.Div.IsSet() {
		div = f.Div.Float64()
	}
	return mul, div, f.Add.Float64()
}

// Precision reports the declared number of decimal places, if any.
func (f *Fmt) Precision() (int, bool) {
	if !f.Prec.IsSet() {
		return 0, false
	}
	return f.Prec.Int()
}

func (f *Fmt) Lookup(raw int64) (string, bool) {
	for _, e := range f.Map {
		if e.Key == raw {
			return e.Label, true
		}
	}
	if f.Default != nil {
		return *f.Default, true
	}
	return "", false
}

type Signal struct {
	ID              string
	Path            string
	Fmt             Fmt
	Name            string
	Description     string
	SuggestedMetric string
	Overlay         *bool
}

func (s *Signal) IsOverlay() bool {
	return s.Overlay != nil && *s.Overlay
}

// end is the exclusive bit position one past the signal's last bit.
func (s *Signal) end() int {
	return s.Fmt.offset + s.Fmt.length
}

// Command is a request/response pattern whose response payload carries an
// ordered list of signals.
type Command struct {
	Hdr     string
	Rax     string
	Service string
	PID     string
	Freq    Number
	Len     Number
	signals []*Signal

	id         string
	hdrID      uint32
	raxID      uint32
	extended   bool
	respHeader []byte
	minPayload int
}

func (c *Command) ID() string { return c.id }

// Signals returns the command's signals in declaration order.
func (c *Command) Signals() []*Signal {
	out := make([]*Signal, len(c.signals))
	copy(out, c.signals)
	return out
}

func (c *Command) SignalCount() int { return len(c.signals) }

// RequestID is the arbitration ID the request is sent on.
func (c *Command) RequestID() uint32 { return c.hdrID }

// ResponseID is the declared response arbitration ID, zero when derived.
func (c *Command) ResponseID() (uint32, bool) {
	return c.raxID, c.Rax != ""
}

func (c *Command) Extended() bool { return c.extended }

// ResponseHeader is the positive-response service byte followed by the PID.
func (c *Command) ResponseHeader() []byte {
	out := make([]byte, len(c.respHeader))
	copy(out, c.respHeader)
	return out
}

// MinPayload is the number of payload bytes, after the response header, the
// command needs to decode every signal.
func (c *Command) MinPayload() int { return c.minPayload }

// Signalset is an immutable, validated set of commands.
type Signalset struct {
	CANIDFormat string
	commands    []*Command
	byID        map[string]*Command
	bySignal    map[string]*Signal
	owner       map[string]*Command
}

// Commands returns the commands in declaration order.
func (s *Signalset) Commands() []*Command {
	out := make([]*Command, len(s.commands))
	copy(out, s.commands)
	return out
}

func (s *Signalset) CommandByID(id string) (*Command, bool) {
	c, ok := s.byID[strings.ToUpper(id)]
	return c, ok
}

func (s *Signalset) SignalByID(id string) (*Signal, *Command, bool) {
	sig, ok := s.bySignal[id]
	if !ok {
		return nil, nil, false
	}
	return sig, s.owner[id], true
}

func (s *Signalset) HasSignal(id string) bool {
	_, ok := s.bySignal[id]
	return ok
}

func (s *Signalset) SignalCount() int {
	return len(s.bySignal)
}
