package check

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"example.com/signalgate/internal/canframe"
	"example.com/signalgate/internal/corpus"
	"example.com/signalgate/internal/decode"
)

const speedSignalset = `{
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
      "cmd": {"22": "0100"},
      "signals": [
        {"id": "MODE", "fmt": {"len": 8, "map": {"0": "OFF", "1": "ON"}}}
      ]
    }
  ]
}`

const fiveCases = `signalset: car.json
test_cases:
  - response: 7E8 03 41 0D 41
    expected_values:
      SPEED: 6.5
  - response: 7E8 03 41 0D 0A
    expected_values:
      SPEED: 1
  - response: 7E8 03 41 0C 00
    expected_values:
      SPEED: 0
  - response: 7E8 04 62 01 00 01
    expected_values:
      MODE: "ON"
  - response: 7E8 03 41 0D FF
    expected_values:
      SPEED: 25.5
`

func TestRunTestScaledValue(t *testing.T) {
	res := RunTest([]byte(speedSignalset), "7E8 03 41 0D 41", map[string]any{"SPEED": 6.5}, canframe.FormatUnspecified)
	if res.Err != nil {
		t.Fatalf("RunTest failed: %v", res.Err)
	}
	if !res.Pass || len(res.Diffs) != 1 || res.Diffs[0].Status != DiffMatch {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunTestReportsDiffs(t *testing.T) {
	expected := map[string]any{"SPEED": 7, "OTHER": 1, "BAD": map[string]any{"x": 1}}
	res := RunTest([]byte(speedSignalset), "7E8 03 41 0D 41", expected, canframe.FormatUnspecified)
	if res.Err != nil {
		t.Fatalf("RunTest failed: %v", res.Err)
	}
	if res.Pass {
		t.Fatalf("mismatching expectations must fail")
	}
	want := []DiffStatus{DiffInvalid, DiffMissing, DiffMismatch}
	if len(res.Diffs) != len(want) {
		t.Fatalf("expected %d diffs, got %+v", len(want), res.Diffs)
	}
	for i, d := range res.Diffs {
		if d.Status != want[i] {
			t.Fatalf("diff %d (%s) = %s, want %s", i, d.Signal, d.Status, want[i])
		}
	}
	if res.Diffs[1].Message != "signal not defined in signalset" {
		t.Fatalf("unexpected missing message %q", res.Diffs[1].Message)
	}
}

func TestRunTestLookupMiss(t *testing.T) {
	res := RunTest([]byte(speedSignalset), "7E8 04 62 01 00 07", map[string]any{"MODE": "ON"}, canframe.FormatUnspecified)
	if res.Err != nil {
		t.Fatalf("RunTest failed: %v", res.Err)
	}
	if res.Pass || res.Diffs[0].Status != DiffMissing {
		t.Fatalf("unmapped lookup should be missing: %+v", res.Diffs)
	}
}

func TestRunTestNoMatch(t *testing.T) {
	res := RunTest([]byte(speedSignalset), "7E8 03 41 0C 00", map[string]any{"SPEED": 0}, canframe.FormatUnspecified)
	if !errors.Is(res.Err, decode.ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", res.Err)
	}
}

func newCorpus(t *testing.T) (root string, sets *corpus.SignalsetCache) {
	t.Helper()
	dir := t.TempDir()
	setDir := filepath.Join(dir, "signalsets")
	root = filepath.Join(dir, "test_cases")
	for path, content := range map[string]string{
		filepath.Join(setDir, "car.json"):            speedSignalset,
		filepath.Join(root, "2019", "cases.yaml"):    fiveCases,
		filepath.Join(root, "2020", "bad.yaml"):      "test_cases: {}\n",
		filepath.Join(root, "notes", "ignored.yaml"): fiveCases,
	} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	return root, corpus.NewSignalsetCache(setDir)
}

func TestEvalContinuesPastFailingCase(t *testing.T) {
	root, sets := newCorpus(t)
	eng := NewEngine(sets)
	eng.Concurrency = 2
	diags, err := eng.Eval(context.Background(), root, []int{2019})
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	var pass, errs, warns int
	for _, d := range diags {
		switch d.Severity {
		case INFO:
			pass++
		case ERROR:
			errs++
			if d.Case != 2 || d.Status != string(corpus.StatusMatchFailed) {
				t.Fatalf("unexpected error diagnostic %+v", d)
			}
			if d.Response != "7E8 03 41 0C 00" || d.Signalset != "car.json" || d.ModelYear != 2019 {
				t.Fatalf("diagnostic lacks context: %+v", d)
			}
		case WARN:
			warns++
			if d.Status != StatusOutOfRange || d.Signal != "SPEED" {
				t.Fatalf("unexpected warning %+v", d)
			}
		}
	}
	if pass != 4 || errs != 1 || warns != 1 {
		t.Fatalf("pass=%d errs=%d warns=%d", pass, errs, warns)
	}

	rep := eng.MakeAcceptance()
	if rep.Summary.Pass || rep.Summary.Errors != 1 || rep.Summary.Warnings != 1 {
		t.Fatalf("unexpected summary %+v", rep.Summary)
	}
	if rep.Summary.Cases != 5 || rep.Summary.PassedCases != 4 || rep.Summary.FailedCases != 1 {
		t.Fatalf("unexpected case counts %+v", rep.Summary)
	}
	if len(rep.GateMatrix) != 1 || rep.GateMatrix[0].Year != 2019 || rep.GateMatrix[0].Pass {
		t.Fatalf("unexpected gate matrix %+v", rep.GateMatrix)
	}
	if len(rep.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(rep.Findings))
	}
}

func TestEvalReportsBrokenFile(t *testing.T) {
	root, sets := newCorpus(t)
	diags, rep, err := RunCorpus(context.Background(), root, nil, sets)
	if err != nil {
		t.Fatalf("RunCorpus failed: %v", err)
	}
	var fileErrors int
	for _, d := range diags {
		if d.Status == StatusFileError {
			fileErrors++
			if d.ModelYear != 2020 {
				t.Fatalf("unexpected file error %+v", d)
			}
		}
	}
	if fileErrors != 1 {
		t.Fatalf("expected one file error, got %d", fileErrors)
	}
	if len(rep.GateMatrix) != 2 || rep.GateMatrix[1].Pass || rep.GateMatrix[1].Failed != 1 {
		t.Fatalf("unexpected gate matrix %+v", rep.GateMatrix)
	}
}

func TestWriteDiagnosticsNDJSON(t *testing.T) {
	root, sets := newCorpus(t)
	eng := NewEngine(sets)
	if _, err := eng.Eval(context.Background(), root, []int{2019}); err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "diag.ndjson")
	if err := eng.WriteDiagnosticsNDJSON(path); err != nil {
		t.Fatalf("WriteDiagnosticsNDJSON failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	var lines int
	for sc.Scan() {
		var d Diagnostic
		if err := json.Unmarshal(sc.Bytes(), &d); err != nil {
			t.Fatalf("line %d is not JSON: %v", lines+1, err)
		}
		if d.File == "" || d.Severity == "" {
			t.Fatalf("incomplete diagnostic %+v", d)
		}
		lines++
	}
	if lines != len(eng.Diagnostics()) {
		t.Fatalf("expected %d lines, got %d", len(eng.Diagnostics()), lines)
	}
}
