package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"example.com/signalgate/internal/canframe"
	"example.com/signalgate/internal/check"
	"example.com/signalgate/internal/common"
	"example.com/signalgate/internal/config"
	"example.com/signalgate/internal/corpus"
	"example.com/signalgate/internal/decode"
	"example.com/signalgate/internal/jsonfmt"
	"example.com/signalgate/internal/manifest"
	"example.com/signalgate/internal/report"
	"example.com/signalgate/internal/signalset"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	if len(args) < 1 {
		usage(out)
		return 2
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "decode":
		return decodeCmd(rest, out)
	case "fmt":
		return fmtCmd(rest, out)
	case "check":
		return checkCmd(rest, out)
	case "sync":
		return syncCmd(rest, out)
	case "report":
		return reportCmd(rest, out)
	case "manifest":
		return manifestCmd(rest, out)
	case "verify-manifest":
		return verifyManifestCmd(rest, out)
	case "version":
		fmt.Fprintf(out, "signalctl %s (built %s)\n", version, buildDate)
		return 0
	default:
		usage(out)
		return 2
	}
}

func usage(out io.Writer) {
	fmt.Fprintf(out, `signalctl %s (built %s) <command> [options]

Commands:
  decode    --signalset <file> --response <hex> [--can-id-format 11bit|29bit] [--expect SIGNAL=value ...] [--json]
  fmt       [--signalsets <dir>] [--write] | --in <file>
  check     [--test-cases <dir>] [--signalsets <dir>] [--year N ...] [--out <diagnostics.jsonl>] [--acceptance <acceptance.json>] [--manifest <manifest.json>] [--progress]
  sync      [--test-cases <dir>] [--signalsets <dir>] [--year N ...] [--dry-run] [-v] [--audit <audit.jsonl>] [--concurrency N] [--progress]
  report    --acceptance <acceptance.json> --pdf <out.pdf> [--manifest <manifest.json>]
  manifest  [--signalsets <dir>] [--test-cases <dir>] --out <manifest.json> [--sign-key <key.pem> --key-id <id>]
  verify-manifest --manifest <manifest.json> --key <public.pem>

Every command accepts --config <signalgate.yaml> and --log-level <level>.
`, version, buildDate)
}

// yearList is a repeatable --year flag; each value may also be a comma
// separated list.
type yearList []int

func (y *yearList) String() string {
	parts := make([]string, len(*y))
	for i, v := range *y {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (y *yearList) Set(s string) error {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil || v <= 0 {
			return fmt.Errorf("invalid model year %q", part)
		}
		*y = append(*y, v)
	}
	return nil
}

// expectList is a repeatable SIGNAL=value flag. Values are read as YAML
// scalars or flow lists, the way test case files spell them.
type expectList map[string]any

func (e expectList) String() string {
	return fmt.Sprint(map[string]any(e))
}

func (e expectList) Set(s string) error {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("expected SIGNAL=value, got %q", s)
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return fmt.Errorf("value for %s: %w", name, err)
	}
	if v == nil {
		v = ""
	}
	e[name] = v
	return nil
}

// settings holds the flags every command shares.
type settings struct {
	configPath *string
	logLevel   *string
}

func newFlagSet(name string, out io.Writer) (*flag.FlagSet, *settings) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	s := &settings{
		configPath: fs.String("config", "", "configuration file (default "+config.DefaultFile+" when present)"),
		logLevel:   fs.String("log-level", "", "log level (debug, info, warn, error)"),
	}
	return fs, s
}

// setup loads the configuration and installs the shared logger. The
// returned function flushes the logger.
func (s *settings) setup(out io.Writer, verbose bool) (config.Config, func(), bool) {
	cfg, err := config.Load(*s.configPath)
	if err != nil {
		fmt.Fprintln(out, "config:", err)
		return cfg, nil, false
	}
	opts := cfg.LogOptions()
	if *s.logLevel != "" {
		opts.Level = *s.logLevel
	}
	if verbose {
		opts.Level = "debug"
	}
	logger, closeLog, err := common.NewLogger(opts)
	if err != nil {
		fmt.Fprintln(out, "logging:", err)
		return cfg, nil, false
	}
	common.SetLogger(logger)
	return cfg, func() {
		_ = closeLog()
		common.SetLogger(nil)
	}, true
}

func orDefault(flagValue, cfgValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	return cfgValue
}

func parseFormat(out io.Writer, flagValue string, cfg config.Config) (canframe.Format, bool) {
	format, err := canframe.ParseFormat(orDefault(flagValue, cfg.CANIDFormat))
	if err != nil {
		fmt.Fprintln(out, "can-id-format:", err)
		return format, false
	}
	return format, true
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func decodeCmd(args []string, out io.Writer) int {
	fs, s := newFlagSet("decode", out)
	setPath := fs.String("signalset", "", "signalset JSON file")
	response := fs.String("response", "", "raw response, e.g. \"7E8 03 41 0D 41\"")
	formatFlag := fs.String("can-id-format", "", "CAN ID format: 11bit or 29bit")
	asJSON := fs.Bool("json", false, "print decoded values as JSON")
	expected := expectList{}
	fs.Var(expected, "expect", "expected value SIGNAL=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *setPath == "" || *response == "" {
		fmt.Fprintln(out, "required: --signalset, --response")
		return 2
	}
	cfg, done, ok := s.setup(out, false)
	if !ok {
		return 1
	}
	defer done()
	format, ok := parseFormat(out, *formatFlag, cfg)
	if !ok {
		return 2
	}

	set, err := signalset.LoadFile(*setPath)
	if err != nil {
		fmt.Fprintln(out, "load signalset:", err)
		return 1
	}
	if len(expected) > 0 {
		res := check.RunTestSet(set, *response, expected, format)
		if res.Err != nil {
			fmt.Fprintln(out, "decode:", res.Err)
			return 1
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, d := range res.Diffs {
			fmt.Fprintf(tw, "%s\t%s\texpected=%v\tactual=%v\t%s\n", d.Status, d.Signal, d.Expected, d.Actual, d.Message)
		}
		tw.Flush()
		if !res.Pass {
			fmt.Fprintln(out, "FAIL")
			return 1
		}
		fmt.Fprintln(out, "PASS")
		return 0
	}

	res, err := decode.Decode(set, *response, format)
	if err != nil {
		fmt.Fprintln(out, "decode:", err)
		return 1
	}
	if *asJSON {
		type jsonValue struct {
			Signal     string `json:"signal"`
			Command    string `json:"command"`
			Header     string `json:"header"`
			Value      any    `json:"value"`
			Unit       string `json:"unit,omitempty"`
			OutOfRange bool   `json:"outOfRange,omitempty"`
		}
		values := make([]jsonValue, 0, len(res.Values))
		for _, sv := range res.Values {
			values = append(values, jsonValue{
				Signal: sv.Signal, Command: sv.Command, Header: sv.Header,
				Value: sv.Value.Interface(), Unit: sv.Value.Unit, OutOfRange: sv.Value.OutOfRange,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(values); err != nil {
			fmt.Fprintln(out, "encode:", err)
			return 1
		}
	} else {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, sv := range res.Values {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", sv.Header, sv.Command, sv.Signal, sv.Value.String())
		}
		tw.Flush()
	}
	if err := res.Err(); err != nil {
		fmt.Fprintln(out, "extract:", err)
		return 1
	}
	return 0
}

func fmtCmd(args []string, out io.Writer) int {
	fs, s := newFlagSet("fmt", out)
	dir := fs.String("signalsets", "", "signalset directory")
	in := fs.String("in", "", "format a single file to stdout")
	write := fs.Bool("write", false, "rewrite files that are not canonical")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, done, ok := s.setup(out, false)
	if !ok {
		return 1
	}
	defer done()

	if *in != "" {
		formatted, err := jsonfmt.FormatFile(*in)
		if err != nil {
			fmt.Fprintln(out, "format:", err)
			return 1
		}
		out.Write(formatted)
		return 0
	}

	root := orDefault(*dir, cfg.Signalsets)
	results, err := jsonfmt.CheckTree(root, *write)
	if err != nil {
		fmt.Fprintln(out, "list signalsets:", err)
		return 1
	}
	failed := 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			fmt.Fprintf(out, "ERROR %s: %v\n", r.Path, r.Err)
		case r.Rewritten:
			fmt.Fprintf(out, "formatted %s\n", r.Path)
		case !r.Canonical:
			failed++
			fmt.Fprintf(out, "not canonical: %s\n", r.Path)
		}
	}
	fmt.Fprintf(out, "%d signalsets checked, %d failing\n", len(results), failed)
	if failed > 0 {
		return 1
	}
	return 0
}

func checkCmd(args []string, out io.Writer) int {
	fs, s := newFlagSet("check", out)
	testRoot := fs.String("test-cases", "", "test case root directory")
	setDir := fs.String("signalsets", "", "signalset directory")
	formatFlag := fs.String("can-id-format", "", "force CAN ID format: 11bit or 29bit")
	outDiag := fs.String("out", "", "diagnostics output (ndjson)")
	outAcc := fs.String("acceptance", "", "acceptance report output (json)")
	outManifest := fs.String("manifest", "", "write a manifest of the inputs and embed its digest")
	concurrency := fs.Int("concurrency", 0, "files checked in parallel")
	progress := fs.Bool("progress", false, "display progress on stderr")
	var years yearList
	fs.Var(&years, "year", "model year to check (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, done, ok := s.setup(out, false)
	if !ok {
		return 1
	}
	defer done()
	format, ok := parseFormat(out, *formatFlag, cfg)
	if !ok {
		return 2
	}
	if len(years) == 0 {
		years = cfg.Years
	}
	root := orDefault(*testRoot, cfg.TestCases)
	sets := orDefault(*setDir, cfg.Signalsets)

	eng := check.NewEngine(corpus.NewSignalsetCache(sets))
	eng.CANIDFormat = format
	eng.Concurrency = cfg.Concurrency
	if *concurrency > 0 {
		eng.Concurrency = *concurrency
	}
	eng.Metrics = common.NewMetrics()
	var stopProgress func()
	if *progress {
		stopProgress = common.StartProgressPrinter(os.Stderr, eng.Metrics, 500*time.Millisecond)
	}
	ctx, cancel := signalContext()
	defer cancel()
	diags, err := eng.Eval(ctx, root, years)
	if stopProgress != nil {
		stopProgress()
	}
	if err != nil {
		fmt.Fprintln(out, "check:", err)
		return 1
	}

	if *outDiag != "" {
		if err := eng.WriteDiagnosticsNDJSON(*outDiag); err != nil {
			fmt.Fprintln(out, "write diagnostics:", err)
			return 1
		}
	}
	rep := eng.MakeAcceptance()
	if *outManifest != "" {
		m, err := manifest.BuildCorpus(sets, root)
		if err != nil {
			fmt.Fprintln(out, "manifest:", err)
			return 1
		}
		if err := manifest.Save(m, *outManifest); err != nil {
			fmt.Fprintln(out, "manifest save:", err)
			return 1
		}
		rep.ManifestDigest = manifest.Digest(m)
	}
	if *outAcc != "" {
		if err := report.SaveAcceptanceJSON(rep, *outAcc); err != nil {
			fmt.Fprintln(out, "write report:", err)
			return 1
		}
	}
	for _, d := range rep.Findings {
		fmt.Fprintf(out, "%s %s %s [%d] case %d (signalset %s, response %q) %s: %s\n",
			d.Severity, d.Status, d.File, d.ModelYear, d.Case, d.Signalset, d.Response, d.Signal, d.Message)
	}
	fmt.Fprintf(out, "PASS=%v, cases=%d, failed=%d, errors=%d, warnings=%d, diagnostics=%d\n",
		rep.Summary.Pass, rep.Summary.Cases, rep.Summary.FailedCases, rep.Summary.Errors, rep.Summary.Warnings, len(diags))
	if !rep.Summary.Pass {
		return 1
	}
	return 0
}

func syncCmd(args []string, out io.Writer) int {
	fs, s := newFlagSet("sync", out)
	testRoot := fs.String("test-cases", "", "test case root directory")
	setDir := fs.String("signalsets", "", "signalset directory")
	formatFlag := fs.String("can-id-format", "", "force CAN ID format: 11bit or 29bit")
	dryRun := fs.Bool("dry-run", false, "report changes without writing files")
	verbose := fs.Bool("v", false, "verbose output")
	auditPath := fs.String("audit", "", "audit log output (jsonl)")
	concurrency := fs.Int("concurrency", 0, "files synchronized in parallel")
	progress := fs.Bool("progress", false, "display progress on stderr")
	var years yearList
	fs.Var(&years, "year", "model year to synchronize (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, done, ok := s.setup(out, *verbose)
	if !ok {
		return 1
	}
	defer done()
	format, ok := parseFormat(out, *formatFlag, cfg)
	if !ok {
		return 2
	}
	if len(years) == 0 {
		years = cfg.Years
	}

	syncer := &corpus.Synchronizer{
		Signalsets:  corpus.NewSignalsetCache(orDefault(*setDir, cfg.Signalsets)),
		DryRun:      *dryRun,
		Concurrency: cfg.Concurrency,
		CANIDFormat: format,
		Metrics:     common.NewMetrics(),
		Logger:      common.Logger(),
	}
	if *concurrency > 0 {
		syncer.Concurrency = *concurrency
	}
	if p := orDefault(*auditPath, cfg.AuditLog); p != "" {
		syncer.Audit = common.NewAuditLog(p)
	}
	var stopProgress func()
	if *progress {
		stopProgress = common.StartProgressPrinter(os.Stderr, syncer.Metrics, 500*time.Millisecond)
	}
	ctx, cancel := signalContext()
	defer cancel()
	summary, err := syncer.Run(ctx, orDefault(*testRoot, cfg.TestCases), years)
	if stopProgress != nil {
		stopProgress()
	}
	if err != nil {
		fmt.Fprintln(out, "sync:", err)
		return 1
	}

	for _, f := range summary.Files {
		if f.Err != nil {
			fmt.Fprintf(out, "ERROR %s: %v\n", f.Path, f.Err)
		}
		for _, c := range f.Cases {
			for _, o := range c.Outcomes {
				if o.Status == corpus.StatusUnchanged && !*verbose {
					continue
				}
				fmt.Fprintln(out, c.Describe(o))
			}
		}
		if f.Written && *verbose {
			fmt.Fprintf(out, "wrote %s\n", f.Path)
		}
	}
	mode := ""
	if summary.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(out, "%d files, %d cases, %d signalsets: %d unchanged, %d drifted, %d orphaned, %d match failed, %d decode failed, %d file errors, %d files written%s\n",
		len(summary.Files), summary.Cases, summary.Signalsets,
		summary.Counts[corpus.StatusUnchanged], summary.Counts[corpus.StatusDrifted], summary.Counts[corpus.StatusOrphaned],
		summary.Counts[corpus.StatusMatchFailed], summary.Counts[corpus.StatusDecodeFailed],
		summary.FileErrors, summary.Written, mode)
	if syncer.Audit != nil && !summary.DryRun && summary.Written > 0 {
		fmt.Fprintf(out, "Audit log: %s\n", syncer.Audit.Path())
	}
	if summary.Failed() {
		return 1
	}
	return 0
}

func reportCmd(args []string, out io.Writer) int {
	fs, s := newFlagSet("report", out)
	accPath := fs.String("acceptance", "", "acceptance report (json)")
	pdfPath := fs.String("pdf", "", "output acceptance report PDF")
	manifestPath := fs.String("manifest", "", "manifest whose digest is printed on the report")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *accPath == "" || *pdfPath == "" {
		fmt.Fprintln(out, "required: --acceptance, --pdf")
		return 2
	}
	_, done, ok := s.setup(out, false)
	if !ok {
		return 1
	}
	defer done()

	rep, err := report.LoadAcceptanceJSON(*accPath)
	if err != nil {
		fmt.Fprintln(out, "load acceptance:", err)
		return 1
	}
	if *manifestPath != "" {
		m, err := manifest.Load(*manifestPath)
		if err != nil {
			fmt.Fprintln(out, "load manifest:", err)
			return 1
		}
		rep.ManifestDigest = manifest.Digest(m)
	}
	if err := report.SaveAcceptancePDF(rep, *pdfPath); err != nil {
		fmt.Fprintln(out, "write pdf:", err)
		return 1
	}
	fmt.Fprintln(out, "Wrote PDF:", *pdfPath)
	return 0
}

func manifestCmd(args []string, out io.Writer) int {
	fs, s := newFlagSet("manifest", out)
	setDir := fs.String("signalsets", "", "signalset directory")
	testRoot := fs.String("test-cases", "", "test case root directory")
	outPath := fs.String("out", "manifest.json", "output json")
	keyPath := fs.String("sign-key", "", "PEM RSA private key; signs the manifest digest")
	keyID := fs.String("key-id", "", "key identifier recorded with the signature")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, done, ok := s.setup(out, false)
	if !ok {
		return 1
	}
	defer done()

	m, err := manifest.BuildCorpus(orDefault(*setDir, cfg.Signalsets), orDefault(*testRoot, cfg.TestCases))
	if err != nil {
		fmt.Fprintln(out, "manifest build:", err)
		return 1
	}
	if *keyPath != "" {
		keyBytes, err := os.ReadFile(*keyPath)
		if err != nil {
			fmt.Fprintln(out, "read key:", err)
			return 1
		}
		if err := manifest.Sign(&m, keyBytes, *keyID); err != nil {
			fmt.Fprintln(out, err)
			return 1
		}
	}
	if err := manifest.Save(m, *outPath); err != nil {
		fmt.Fprintln(out, "manifest save:", err)
		return 1
	}
	fmt.Fprintf(out, "Wrote %s (%d items, digest %s)\n", *outPath, len(m.Items), manifest.Digest(m))
	return 0
}

func verifyManifestCmd(args []string, out io.Writer) int {
	fs, s := newFlagSet("verify-manifest", out)
	manifestPath := fs.String("manifest", "", "manifest JSON file")
	keyPath := fs.String("key", "", "PEM public key or certificate of the signer")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *manifestPath == "" || *keyPath == "" {
		fmt.Fprintln(out, "required: --manifest, --key")
		return 2
	}
	_, done, ok := s.setup(out, false)
	if !ok {
		return 1
	}
	defer done()
	m, err := manifest.Load(*manifestPath)
	if err != nil {
		fmt.Fprintln(out, "load manifest:", err)
		return 1
	}
	keyBytes, err := os.ReadFile(*keyPath)
	if err != nil {
		fmt.Fprintln(out, "read key:", err)
		return 1
	}
	if err := manifest.Verify(m, keyBytes); err != nil {
		if errors.Is(err, manifest.ErrUnsigned) {
			fmt.Fprintln(out, "manifest is not signed")
		} else {
			fmt.Fprintln(out, "verify signature:", err)
		}
		return 1
	}
	fmt.Fprintln(out, "Signature OK")
	return 0
}
