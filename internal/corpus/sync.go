package corpus

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"example.com/signalgate/internal/canframe"
	"example.com/signalgate/internal/common"
)

var ErrSyncIO = errors.New("test case file I/O failed")

// SyncIOError is a read or write failure on one test case file. The file
// is left as it was; other files continue.
type SyncIOError struct {
	Path string
	Op   string
	Err  error
}

func (e *SyncIOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SyncIOError) Is(target error) bool { return target == ErrSyncIO }

func (e *SyncIOError) Unwrap() error { return e.Err }

// FileResult is the synchronization result of one test case file.
type FileResult struct {
	Path    string
	Year    int
	Cases   []CaseResult
	Written bool
	Err     error
}

// Summary aggregates a synchronization run. Files are sorted by year and
// path.
type Summary struct {
	Files      []FileResult
	Cases      int
	Counts     map[Status]int
	Written    int
	FileErrors int
	IOErrors   int
	// Signalsets is the number of distinct signalsets the run referenced.
	Signalsets int
	DryRun     bool
}

// Failed reports whether the run needs a non-zero exit: a case that no
// command matches, a signal that could not be decoded, or a file that
// could not be read, parsed or written.
func (s Summary) Failed() bool {
	return s.Counts[StatusMatchFailed] > 0 || s.Counts[StatusDecodeFailed] > 0 || s.FileErrors > 0
}

// Synchronizer recomputes the expected values of a test case corpus from
// the current signalsets and rewrites the ones that drifted.
type Synchronizer struct {
	Signalsets  *SignalsetCache
	DryRun      bool
	Concurrency int
	CANIDFormat canframe.Format
	Audit       *common.AuditLog
	Metrics     *common.Metrics
	Logger      *zap.Logger
}

func (s *Synchronizer) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return common.Logger()
}

type syncJob struct {
	path string
	year int
}

// Run synchronizes every test case file under root, restricted to years
// when given. Files are processed in parallel, one worker per file. The
// returned error covers discovery and cancellation only; per-file problems
// are in the Summary.
func (s *Synchronizer) Run(ctx context.Context, root string, years []int) (Summary, error) {
	summary := Summary{Counts: make(map[Status]int), DryRun: s.DryRun}
	if s.Signalsets == nil {
		return summary, errors.New("synchronizer has no signalset directory")
	}
	groups, err := FindFiles(root, years)
	if err != nil {
		return summary, fmt.Errorf("find test cases: %w", err)
	}
	var jobs []syncJob
	for _, g := range groups {
		for _, p := range g.Files {
			jobs = append(jobs, syncJob{path: p, year: g.Year})
		}
	}
	if s.Metrics != nil {
		s.Metrics.SetTotalFiles(int64(len(jobs)))
		s.Metrics.Start()
		defer s.Metrics.Stop()
	}

	limit := s.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	results := make([]FileResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.SyncFile(job.path, job.year)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	for _, r := range results {
		summary.Files = append(summary.Files, r)
		summary.Cases += len(r.Cases)
		for _, c := range r.Cases {
			for _, o := range c.Outcomes {
				summary.Counts[o.Status]++
			}
		}
		if r.Written {
			summary.Written++
		}
		if r.Err != nil {
			summary.FileErrors++
			if errors.Is(r.Err, ErrSyncIO) {
				summary.IOErrors++
			}
		}
	}
	summary.Signalsets = s.Signalsets.Len()
	return summary, nil
}

// SyncFile synchronizes one test case file. All updates of the file are
// written together with a single atomic replace, or not at all.
func (s *Synchronizer) SyncFile(path string, year int) FileResult {
	res := FileResult{Path: path, Year: year}
	log := s.logger().With(zap.String("file", path), zap.Int("year", year))

	f, err := LoadFile(path, year)
	if err != nil {
		if errors.Is(err, ErrFormat) {
			res.Err = err
		} else {
			res.Err = &SyncIOError{Path: path, Op: "read", Err: err}
		}
		log.Error("cannot load test case file", zap.Error(err))
		s.count(func(m *common.Metrics) { m.AddFile(0); m.AddFailed(1) })
		return res
	}

	changed := false
	var failed, drifted, orphaned int64
	for _, c := range f.Cases {
		cr := EvaluateCase(f, c, s.Signalsets, s.CANIDFormat)
		var removals []string
		for _, o := range cr.Outcomes {
			switch o.Status {
			case StatusDrifted:
				drifted++
				if !s.DryRun {
					c.Set(o.exp, *o.Decoded)
					changed = true
				}
				s.audit(f, c, o, o.Recorded.Interface(), o.Decoded.Interface())
				log.Info("drifted", zap.Int("case", c.Index), zap.String("signal", o.Signal),
					zap.Stringer("recorded", o.Recorded), zap.Stringer("decoded", o.Decoded))
			case StatusOrphaned:
				orphaned++
				if !s.DryRun {
					removals = append(removals, o.Signal)
					changed = true
				}
				s.audit(f, c, o, o.Recorded.Interface(), nil)
				log.Info("orphaned", zap.Int("case", c.Index), zap.String("signal", o.Signal))
			case StatusMatchFailed, StatusDecodeFailed:
				failed++
				log.Warn(string(o.Status), zap.Int("case", c.Index), zap.String("signalset", cr.Signalset),
					zap.String("response", cr.Response), zap.String("signal", o.Signal), zap.Error(o.Err))
			}
		}
		for _, sig := range removals {
			c.Remove(sig)
		}
		res.Cases = append(res.Cases, cr)
	}

	s.count(func(m *common.Metrics) {
		m.AddFile(f.size)
		m.AddCases(int64(len(f.Cases)))
		m.AddDrifted(drifted)
		m.AddOrphaned(orphaned)
		m.AddFailed(failed)
	})

	if !changed {
		return res
	}
	data, err := f.Encode()
	if err != nil {
		res.Err = &SyncIOError{Path: path, Op: "encode", Err: err}
		log.Error("cannot encode test case file", zap.Error(err))
		return res
	}
	if err := common.WriteFileAtomic(path, data, f.perm); err != nil {
		res.Err = &SyncIOError{Path: path, Op: "write", Err: err}
		log.Error("cannot write test case file", zap.Error(err))
		return res
	}
	res.Written = true
	s.count(func(m *common.Metrics) { m.IncWritten() })
	log.Debug("rewrote test case file", zap.Int("bytes", len(data)))
	return res
}

func (s *Synchronizer) count(fn func(*common.Metrics)) {
	if s.Metrics != nil {
		fn(s.Metrics)
	}
}

func (s *Synchronizer) audit(f *File, c *Case, o Outcome, before, after any) {
	if s.Audit == nil {
		return
	}
	err := s.Audit.Append(common.AuditEntry{
		File:      f.Path,
		ModelYear: f.ModelYear,
		Case:      c.Index,
		Signal:    o.Signal,
		Status:    string(o.Status),
		Before:    before,
		After:     after,
		DryRun:    s.DryRun,
	})
	if err != nil {
		s.logger().Warn("cannot append audit entry", zap.String("file", f.Path), zap.Error(err))
	}
}
