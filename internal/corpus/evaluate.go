package corpus

import (
	"errors"
	"fmt"

	"example.com/signalgate/internal/canframe"
	"example.com/signalgate/internal/decode"
)

// Status classifies one recorded expectation against a fresh decode.
type Status string

const (
	StatusUnchanged    Status = "UNCHANGED"
	StatusDrifted      Status = "DRIFTED"
	StatusOrphaned     Status = "ORPHANED"
	StatusMatchFailed  Status = "MATCH_FAILED"
	StatusDecodeFailed Status = "DECODE_FAILED"
)

// IsError reports whether the status needs a maintainer and fails a run.
func (s Status) IsError() bool {
	return s == StatusMatchFailed || s == StatusDecodeFailed
}

// Outcome is the verdict for one signal of a case. Case-wide failures
// (no match, unusable response or signalset) carry an empty Signal.
// ORPHANED is reserved for signals the signalset no longer defines; a
// defined signal whose command did not match is MATCH_FAILED.
type Outcome struct {
	Signal   string
	Status   Status
	Recorded *decode.Value
	Decoded  *decode.Value
	Err      error

	exp *Expectation
}

// CaseResult is everything learned from re-decoding one test case.
type CaseResult struct {
	File      string
	ModelYear int
	Signalset string
	Case      int
	Response  string
	Outcomes  []Outcome
}

// Failed reports whether any outcome is an error.
func (r CaseResult) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Status.IsError() {
			return true
		}
	}
	return false
}

// Describe names the model year, signalset, response and signal of an
// outcome for reports.
func (r CaseResult) Describe(o Outcome) string {
	where := fmt.Sprintf("%s [%d] case %d (signalset %s, response %q)", r.File, r.ModelYear, r.Case, r.Signalset, r.Response)
	var msg string
	switch o.Status {
	case StatusDrifted:
		msg = fmt.Sprintf("%s: %s -> %s", o.Signal, o.Recorded.String(), o.Decoded.String())
	case StatusOrphaned:
		msg = fmt.Sprintf("%s: no longer defined by the signalset", o.Signal)
	case StatusUnchanged:
		msg = fmt.Sprintf("%s: %s", o.Signal, o.Recorded.String())
	default:
		if o.Signal != "" {
			msg = fmt.Sprintf("%s: %v", o.Signal, o.Err)
		} else {
			msg = fmt.Sprint(o.Err)
		}
	}
	return fmt.Sprintf("%s %s: %s", o.Status, where, msg)
}

// EvaluateCase decodes the case response against its signalset and
// classifies every recorded expectation. force overrides the file's CAN ID
// format when set.
func EvaluateCase(f *File, c *Case, sets *SignalsetCache, force canframe.Format) CaseResult {
	res := CaseResult{
		File:      f.Path,
		ModelYear: f.ModelYear,
		Signalset: f.SignalsetFor(c),
		Case:      c.Index,
		Response:  c.Response,
	}
	fail := func(status Status, err error) CaseResult {
		res.Outcomes = append(res.Outcomes, Outcome{Status: status, Err: err})
		return res
	}
	set, err := sets.Get(res.Signalset)
	if err != nil {
		return fail(StatusDecodeFailed, err)
	}
	format := force
	if format == canframe.FormatUnspecified {
		format = f.CANIDFormat
	}
	decoded, err := decode.Decode(set, c.Response, format)
	if err != nil {
		if errors.Is(err, decode.ErrNoMatch) {
			return fail(StatusMatchFailed, err)
		}
		return fail(StatusDecodeFailed, err)
	}

	declared := make(map[string]bool)
	for _, m := range decoded.Matches {
		for _, sig := range m.Command.Signals() {
			declared[sig.ID] = true
		}
	}
	values := decoded.Values.Map()
	for _, e := range c.Expected {
		recorded := e.Value
		o := Outcome{Signal: e.Signal, Recorded: &recorded, exp: e}
		got, ok := values[e.Signal]
		switch {
		case ok:
			o.Decoded = &got
			o.Status = StatusUnchanged
			if !got.Equal(recorded) {
				o.Status = StatusDrifted
			}
		case declared[e.Signal]:
			o.Status = StatusDecodeFailed
			o.Err = signalError(decoded.Err(), e.Signal)
		case set.HasSignal(e.Signal):
			// the signal still exists but its command no longer matches this
			// response; left for a maintainer like a case-wide MATCH_FAILED
			o.Status = StatusMatchFailed
			_, cmd, _ := set.SignalByID(e.Signal)
			o.Err = fmt.Errorf("%w: signal %s belongs to command %s", decode.ErrNoMatch, e.Signal, cmd.ID())
		default:
			o.Status = StatusOrphaned
		}
		res.Outcomes = append(res.Outcomes, o)
	}
	return res
}

// signalError picks the extraction error that concerns signal out of a
// joined error tree, falling back to the whole error.
func signalError(err error, signal string) error {
	if err == nil {
		return fmt.Errorf("signal %s was not decoded", signal)
	}
	if found := findUnmapped(err, signal); found != nil {
		return found
	}
	return err
}

func findUnmapped(err error, signal string) error {
	if u, ok := err.(*decode.UnmappedValueError); ok && u.Signal == signal {
		return u
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, inner := range joined.Unwrap() {
			if found := findUnmapped(inner, signal); found != nil {
				return found
			}
		}
		return nil
	}
	if inner := errors.Unwrap(err); inner != nil {
		return findUnmapped(inner, signal)
	}
	return nil
}
