package check

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"example.com/signalgate/internal/canframe"
	"example.com/signalgate/internal/common"
	"example.com/signalgate/internal/corpus"
)

type Severity string

const (
	ERROR Severity = "ERROR"
	WARN  Severity = "WARN"
	INFO  Severity = "INFO"
)

// Status values used next to the corpus statuses in diagnostics.
const (
	StatusPass       = "PASS"
	StatusOutOfRange = "OUT_OF_RANGE"
	StatusFileError  = "FILE_ERROR"
)

// Diagnostic is one finding about a test case. Every diagnostic names the
// file, model year, signalset and response it concerns.
type Diagnostic struct {
	Ts        time.Time `json:"ts"`
	File      string    `json:"file"`
	ModelYear int       `json:"modelYear,omitempty"`
	Signalset string    `json:"signalset,omitempty"`
	Case      int       `json:"case"`
	Response  string    `json:"response,omitempty"`
	Signal    string    `json:"signal,omitempty"`
	Status    string    `json:"status"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Expected  any       `json:"expected,omitempty"`
	Actual    any       `json:"actual,omitempty"`
}

// GateResult is one row of the acceptance gate matrix: the cases of one
// model year.
type GateResult struct {
	Year     int  `json:"year"`
	Files    int  `json:"files"`
	Cases    int  `json:"cases"`
	Passed   int  `json:"passed"`
	Failed   int  `json:"failed"`
	Findings int  `json:"findings"`
	Pass     bool `json:"pass"`
}

type AcceptanceReport struct {
	Summary struct {
		Total       int  `json:"total"`
		Errors      int  `json:"errors"`
		Warnings    int  `json:"warnings"`
		Cases       int  `json:"cases"`
		PassedCases int  `json:"passedCases"`
		FailedCases int  `json:"failedCases"`
		Pass        bool `json:"pass"`
	} `json:"summary"`
	GateMatrix     []GateResult `json:"gateMatrix"`
	Findings       []Diagnostic `json:"findings,omitempty"`
	ManifestDigest string       `json:"manifestDigest,omitempty"`
	GeneratedAt    time.Time    `json:"generatedAt"`
}

// Engine runs a test case corpus. It is not reused across goroutines; Eval
// parallelizes internally.
type Engine struct {
	Signalsets  *corpus.SignalsetCache
	Concurrency int
	CANIDFormat canframe.Format
	Metrics     *common.Metrics
	Logger      *zap.Logger

	diagnostics []Diagnostic
	gates       []GateResult
}

func NewEngine(signalsets *corpus.SignalsetCache) *Engine {
	return &Engine{Signalsets: signalsets}
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return common.Logger()
}

type fileReport struct {
	year   int
	diags  []Diagnostic
	cases  int
	passed int
}

// Eval runs every test case under root, restricted to years when given. A
// failing case never stops the others; the error covers discovery and
// cancellation only.
func (e *Engine) Eval(ctx context.Context, root string, years []int) ([]Diagnostic, error) {
	if e.Signalsets == nil {
		return nil, errors.New("engine has no signalset directory")
	}
	groups, err := corpus.FindFiles(root, years)
	if err != nil {
		return nil, fmt.Errorf("find test cases: %w", err)
	}
	type job struct {
		path string
		year int
	}
	var jobs []job
	for _, g := range groups {
		for _, p := range g.Files {
			jobs = append(jobs, job{path: p, year: g.Year})
		}
	}
	if e.Metrics != nil {
		e.Metrics.SetTotalFiles(int64(len(jobs)))
		e.Metrics.Start()
		defer e.Metrics.Stop()
	}

	limit := e.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	reports := make([]fileReport, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reports[i] = e.evalFile(j.path, j.year)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var diags []Diagnostic
	byYear := make(map[int]*GateResult)
	for _, r := range reports {
		gate, ok := byYear[r.year]
		if !ok {
			gate = &GateResult{Year: r.year}
			byYear[r.year] = gate
		}
		gate.Files++
		gate.Cases += r.cases
		gate.Passed += r.passed
		gate.Failed += r.cases - r.passed
		for _, d := range r.diags {
			if d.Severity != INFO {
				gate.Findings++
			}
			if d.Severity == ERROR && d.Status == StatusFileError {
				gate.Failed++
			}
		}
		diags = append(diags, r.diags...)
	}
	e.gates = e.gates[:0]
	for _, gate := range byYear {
		gate.Pass = gate.Failed == 0
		e.gates = append(e.gates, *gate)
	}
	sort.Slice(e.gates, func(i, j int) bool { return e.gates[i].Year < e.gates[j].Year })
	e.diagnostics = diags
	return diags, nil
}

func (e *Engine) evalFile(path string, year int) fileReport {
	rep := fileReport{year: year}
	now := time.Now().UTC()
	f, err := corpus.LoadFile(path, year)
	if err != nil {
		e.logger().Error("cannot load test case file", zap.String("file", path), zap.Error(err))
		rep.diags = append(rep.diags, Diagnostic{
			Ts: now, File: path, ModelYear: year, Status: StatusFileError,
			Severity: ERROR, Message: err.Error(),
		})
		if e.Metrics != nil {
			e.Metrics.AddFile(0)
			e.Metrics.AddFailed(1)
		}
		return rep
	}
	var failed, drifted int64
	for _, c := range f.Cases {
		cr := corpus.EvaluateCase(f, c, e.Signalsets, e.CANIDFormat)
		rep.cases++
		base := Diagnostic{
			Ts: now, File: f.Path, ModelYear: cr.ModelYear, Signalset: cr.Signalset,
			Case: cr.Case, Response: cr.Response,
		}
		casePass := true
		for _, o := range cr.Outcomes {
			d := base
			d.Signal = o.Signal
			d.Status = string(o.Status)
			if o.Recorded != nil {
				d.Expected = o.Recorded.Interface()
			}
			if o.Decoded != nil {
				d.Actual = o.Decoded.Interface()
			}
			switch o.Status {
			case corpus.StatusUnchanged:
				if o.Decoded.OutOfRange {
					d.Status = StatusOutOfRange
					d.Severity = WARN
					d.Message = fmt.Sprintf("%s decoded outside its valid range: %s", o.Signal, o.Decoded.String())
					rep.diags = append(rep.diags, d)
				}
				continue
			case corpus.StatusDrifted:
				drifted++
				d.Message = fmt.Sprintf("expected %s, decoded %s", o.Recorded.String(), o.Decoded.String())
			case corpus.StatusOrphaned:
				d.Message = "signal is no longer defined by the signalset"
			default:
				d.Message = fmt.Sprint(o.Err)
			}
			d.Severity = ERROR
			casePass = false
			rep.diags = append(rep.diags, d)
		}
		if casePass {
			rep.passed++
			d := base
			d.Status = StatusPass
			d.Severity = INFO
			d.Message = fmt.Sprintf("%d signals match", len(c.Expected))
			rep.diags = append(rep.diags, d)
		} else {
			failed++
		}
	}
	if e.Metrics != nil {
		e.Metrics.AddFile(0)
		e.Metrics.AddCases(int64(rep.cases))
		e.Metrics.AddDrifted(drifted)
		e.Metrics.AddFailed(failed)
	}
	return rep
}

// Diagnostics returns the findings of the last Eval.
func (e *Engine) Diagnostics() []Diagnostic {
	return e.diagnostics
}

func (e *Engine) WriteDiagnosticsNDJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, d := range e.diagnostics {
		if err := enc.Encode(d); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// MakeAcceptance summarizes the last Eval. Passing cases count toward the
// gate matrix but are not listed as findings.
func (e *Engine) MakeAcceptance() AcceptanceReport {
	var rep AcceptanceReport
	var errs, warns int
	for _, d := range e.diagnostics {
		switch d.Severity {
		case ERROR:
			errs++
		case WARN:
			warns++
		default:
			continue
		}
		rep.Findings = append(rep.Findings, d)
	}
	for _, g := range e.gates {
		rep.Summary.Cases += g.Cases
		rep.Summary.PassedCases += g.Passed
		rep.Summary.FailedCases += g.Cases - g.Passed
	}
	rep.Summary.Total = len(rep.Findings)
	rep.Summary.Errors = errs
	rep.Summary.Warnings = warns
	rep.Summary.Pass = errs == 0
	rep.GateMatrix = append([]GateResult(nil), e.gates...)
	rep.GeneratedAt = time.Now().UTC()
	return rep
}

// RunCorpus evaluates a corpus with default settings and returns its
// diagnostics and acceptance report.
func RunCorpus(ctx context.Context, root string, years []int, signalsets *corpus.SignalsetCache) ([]Diagnostic, AcceptanceReport, error) {
	eng := NewEngine(signalsets)
	diags, err := eng.Eval(ctx, root, years)
	if err != nil {
		return nil, AcceptanceReport{}, err
	}
	return diags, eng.MakeAcceptance(), nil
}
