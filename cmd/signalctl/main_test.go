package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/signalgate/internal/report"
)

const carSignalset = `{
  "commands": [
    {
      "hdr": "7E0",
      "cmd": {"01": "0D"},
      "signals": [
        {"id": "SPEED", "fmt": {"len": 8, "mul": 0.1, "unit": "kilometersPerHour"}}
      ]
    }
  ]
}
`

const driftCases = `signalset: car.json
test_cases:
  - response: 7E8 03 41 0D 41
    expected_values:
      SPEED: 6.0
`

type workspace struct {
	sets  string
	tests string
	cases string
	dir   string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	ws := workspace{
		dir:   dir,
		sets:  filepath.Join(dir, "signalsets", "v3"),
		tests: filepath.Join(dir, "tests", "test_cases"),
	}
	ws.cases = filepath.Join(ws.tests, "2019", "car.yaml")
	for path, content := range map[string]string{
		filepath.Join(ws.sets, "car.json"): carSignalset,
		ws.cases:                           driftCases,
	} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	return ws
}

func runCLI(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var out bytes.Buffer
	code := run(args, &out)
	return code, out.String()
}

func TestDecodeCommand(t *testing.T) {
	ws := newWorkspace(t)
	set := filepath.Join(ws.sets, "car.json")
	code, out := runCLI(t, "decode", "--signalset", set, "--response", "7E8 03 41 0D 41")
	if code != 0 || !strings.Contains(out, "SPEED") || !strings.Contains(out, "6.5 kilometersPerHour") {
		t.Fatalf("decode failed (%d):\n%s", code, out)
	}
	code, out = runCLI(t, "decode", "--signalset", set, "--response", "7E8 03 41 0D 41", "--expect", "SPEED=6.5")
	if code != 0 || !strings.Contains(out, "PASS") {
		t.Fatalf("expect should pass (%d):\n%s", code, out)
	}
	code, out = runCLI(t, "decode", "--signalset", set, "--response", "7E8 03 41 0D 41", "--expect", "SPEED=7")
	if code != 1 || !strings.Contains(out, "MISMATCH") {
		t.Fatalf("expect should fail (%d):\n%s", code, out)
	}
	if code, _ := runCLI(t, "decode", "--signalset", set); code != 2 {
		t.Fatalf("missing --response should be a usage error, got %d", code)
	}
}

func TestFmtCommand(t *testing.T) {
	ws := newWorkspace(t)
	messy := filepath.Join(ws.sets, "messy.json")
	if err := os.WriteFile(messy, []byte(`{"commands":[]}`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	code, out := runCLI(t, "fmt", "--signalsets", ws.sets)
	if code != 1 || !strings.Contains(out, "not canonical: "+messy) {
		t.Fatalf("fmt should flag messy.json (%d):\n%s", code, out)
	}
	if code, out := runCLI(t, "fmt", "--signalsets", ws.sets, "--write"); code != 0 {
		t.Fatalf("fmt --write failed (%d):\n%s", code, out)
	}
	if code, out := runCLI(t, "fmt", "--signalsets", ws.sets); code != 0 {
		t.Fatalf("tree should be canonical after --write (%d):\n%s", code, out)
	}
}

func TestSyncCommand(t *testing.T) {
	ws := newWorkspace(t)
	args := []string{"sync", "--signalsets", ws.sets, "--test-cases", ws.tests, "--year", "2019"}
	code, out := runCLI(t, append(args, "--dry-run")...)
	if code != 0 || !strings.Contains(out, "DRIFTED") || !strings.Contains(out, "(dry run)") {
		t.Fatalf("dry run (%d):\n%s", code, out)
	}
	data, _ := os.ReadFile(ws.cases)
	if string(data) != driftCases {
		t.Fatalf("dry run rewrote the file")
	}

	audit := filepath.Join(ws.dir, "audit.jsonl")
	code, out = runCLI(t, append(args, "--audit", audit)...)
	if code != 0 || !strings.Contains(out, "1 signalsets:") || !strings.Contains(out, "1 files written") {
		t.Fatalf("sync (%d):\n%s", code, out)
	}
	data, _ = os.ReadFile(ws.cases)
	if !strings.Contains(string(data), "SPEED: 6.5") {
		t.Fatalf("drift not rewritten:\n%s", data)
	}
	if _, err := os.Stat(audit); err != nil {
		t.Fatalf("audit log missing: %v", err)
	}
}

func TestCheckReportManifestPipeline(t *testing.T) {
	ws := newWorkspace(t)
	acc := filepath.Join(ws.dir, "acceptance.json")
	diag := filepath.Join(ws.dir, "diagnostics.jsonl")
	man := filepath.Join(ws.dir, "manifest.json")
	code, out := runCLI(t, "check", "--signalsets", ws.sets, "--test-cases", ws.tests,
		"--out", diag, "--acceptance", acc, "--manifest", man)
	if code != 1 || !strings.Contains(out, "PASS=false") || !strings.Contains(out, "DRIFTED") {
		t.Fatalf("check should fail on drift (%d):\n%s", code, out)
	}
	rep, err := report.LoadAcceptanceJSON(acc)
	if err != nil {
		t.Fatalf("LoadAcceptanceJSON failed: %v", err)
	}
	if rep.ManifestDigest == "" || rep.Summary.Cases != 1 {
		t.Fatalf("unexpected acceptance %+v", rep.Summary)
	}

	pdf := filepath.Join(ws.dir, "acceptance.pdf")
	if code, out := runCLI(t, "report", "--acceptance", acc, "--pdf", pdf, "--manifest", man); code != 0 {
		t.Fatalf("report failed (%d):\n%s", code, out)
	}
	if info, err := os.Stat(pdf); err != nil || info.Size() == 0 {
		t.Fatalf("pdf missing: %v", err)
	}

	if code, out := runCLI(t, "sync", "--signalsets", ws.sets, "--test-cases", ws.tests); code != 0 {
		t.Fatalf("sync failed (%d):\n%s", code, out)
	}
	code, out = runCLI(t, "check", "--signalsets", ws.sets, "--test-cases", ws.tests)
	if code != 0 || !strings.Contains(out, "PASS=true") {
		t.Fatalf("check after sync (%d):\n%s", code, out)
	}
}

func TestVerifyManifestCommand(t *testing.T) {
	ws := newWorkspace(t)
	man := filepath.Join(ws.dir, "manifest.json")
	key := filepath.Join(ws.dir, "key.pem")
	if err := os.WriteFile(key, []byte("not a key"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if code, out := runCLI(t, "manifest", "--signalsets", ws.sets, "--test-cases", ws.tests, "--out", man); code != 0 {
		t.Fatalf("manifest failed (%d):\n%s", code, out)
	}
	code, out := runCLI(t, "verify-manifest", "--manifest", man, "--key", key)
	if code != 1 || !strings.Contains(out, "manifest is not signed") {
		t.Fatalf("unsigned manifest should fail (%d):\n%s", code, out)
	}
	code, out = runCLI(t, "verify-manifest", "--manifest", man, "--key", key, "--log-level", "loud")
	if code != 1 || !strings.Contains(out, "logging:") {
		t.Fatalf("bad log level should be rejected (%d):\n%s", code, out)
	}
	missing := filepath.Join(ws.dir, "missing.yaml")
	code, out = runCLI(t, "verify-manifest", "--manifest", man, "--key", key, "--config", missing)
	if code != 1 || !strings.Contains(out, "config:") {
		t.Fatalf("missing config should be rejected (%d):\n%s", code, out)
	}
}

func TestYearListFlag(t *testing.T) {
	var y yearList
	if err := y.Set("2019,2020"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := y.Set("2021"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if y.String() != "2019,2020,2021" {
		t.Fatalf("years = %s", y.String())
	}
	if err := y.Set("twenty"); err == nil {
		t.Fatalf("expected an error for a non-numeric year")
	}
}
