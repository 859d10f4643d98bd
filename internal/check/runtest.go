// Package check runs recorded test cases against signalsets and reports
// pass/fail results, per-signal diffs and an acceptance summary.
package check

import (
	"fmt"
	"sort"

	"example.com/signalgate/internal/canframe"
	"example.com/signalgate/internal/decode"
	"example.com/signalgate/internal/signalset"
)

type DiffStatus string

const (
	DiffMatch    DiffStatus = "MATCH"
	DiffMismatch DiffStatus = "MISMATCH"
	DiffMissing  DiffStatus = "MISSING"
	DiffInvalid  DiffStatus = "INVALID"
)

// Diff compares one expected signal value with the decoded one.
type Diff struct {
	Signal     string     `json:"signal"`
	Status     DiffStatus `json:"status"`
	Expected   any        `json:"expected,omitempty"`
	Actual     any        `json:"actual,omitempty"`
	OutOfRange bool       `json:"outOfRange,omitempty"`
	Message    string     `json:"message,omitempty"`
}

// Result is the outcome of one decode check. Err is set when the signalset
// or response cannot be used at all; Diffs are sorted by signal.
type Result struct {
	Pass   bool
	Diffs  []Diff
	Values decode.Values
	Err    error
}

// RunTest loads signalsetText, decodes rawHex and compares the result with
// expected, a signal to value mapping as found in test case files.
func RunTest(signalsetText []byte, rawHex string, expected map[string]any, format canframe.Format) Result {
	set, err := signalset.Load(signalsetText)
	if err != nil {
		return Result{Err: err}
	}
	return RunTestSet(set, rawHex, expected, format)
}

// RunTestSet is RunTest against an already loaded signalset.
func RunTestSet(set *signalset.Signalset, rawHex string, expected map[string]any, format canframe.Format) Result {
	decoded, err := decode.Decode(set, rawHex, format)
	if err != nil {
		return Result{Err: err}
	}
	res := Result{Pass: true, Values: decoded.Values}
	values := decoded.Values.Map()
	names := make([]string, 0, len(expected))
	for name := range expected {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d := Diff{Signal: name, Expected: expected[name]}
		want, ok := decode.ValueOf(expected[name])
		got, decodedOK := values[name]
		switch {
		case !ok:
			d.Status = DiffInvalid
			d.Message = fmt.Sprintf("unsupported expected value %v", expected[name])
		case !decodedOK:
			d.Status = DiffMissing
			switch {
			case !set.HasSignal(name):
				d.Message = "signal not defined in signalset"
			case decoded.Err() != nil:
				d.Message = decoded.Err().Error()
			default:
				d.Message = "signal not decoded from response"
			}
		default:
			d.Actual = got.Interface()
			d.OutOfRange = got.OutOfRange
			d.Status = DiffMatch
			if !got.Equal(want) {
				d.Status = DiffMismatch
				d.Message = fmt.Sprintf("expected %s, decoded %s", want.String(), got.String())
			}
		}
		if d.Status != DiffMatch {
			res.Pass = false
		}
		res.Diffs = append(res.Diffs, d)
	}
	return res
}
