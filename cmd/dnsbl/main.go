// dnsbl checks hosts and URLs against DNS-based blacklists
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/commjoen/dnsbl/internal/blacklist"
	"github.com/commjoen/dnsbl/internal/cache"
	"github.com/commjoen/dnsbl/internal/cctld"
	"github.com/commjoen/dnsbl/internal/config"
	"github.com/commjoen/dnsbl/internal/dns"
	"github.com/commjoen/dnsbl/internal/output"
	"github.com/commjoen/dnsbl/internal/server"
	"github.com/commjoen/dnsbl/pkg/models"
)

// Version information (set during build)
var version = "dev"

// maxCandidates bounds a single check invocation
const maxCandidates = 1000

// errListed is returned by check --fail-on-listed when any candidate is listed
var errListed = errors.New("one or more candidates are listed")

func main() {
	initVersion()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errListed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// initVersion takes the module version from build info unless set via LDFLAGS
func initVersion() {
	if version != "dev" && version != "" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		version = v
	}
}

// cli holds flag values; cfg is the merged result of environment and flags
type cli struct {
	flags config.Config
	cfg   config.Config

	verbose      bool
	checkAll     bool
	failOnListed bool
	inputFile    string
	outputFile   string

	log *zap.SugaredLogger
}

func newRootCmd() *cobra.Command {
	return newCLI().rootCmd()
}

func newCLI() *cli {
	return &cli{flags: config.Default(), log: zap.NewNop().Sugar()}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "dnsbl",
		Short:   "DNS blacklist (DNSBL/SURBL) checker",
		Version: version,
		Long: `dnsbl checks IP addresses and host names against DNS-based blacklists
(DNSBL), and URLs against URI blacklists (SURBL).

Query results are cached per candidate and zone. With --dump-file every
result is written to a JSON file which can be fed back with --preload-file
to answer later checks without DNS.

Settings may also be given as DNSBL_* environment variables; flags win.`,
		Example: `  # Check an address against the default DNSBL zones
  dnsbl check 127.0.0.2

  # Check URLs against SURBL, querying every zone
  dnsbl check --mode surbl --check-all http://example.com/page

  # Reuse earlier answers
  dnsbl check --dump-file cache.json --preload-file cache.json 192.0.2.1

  # Serve the HTTP API
  dnsbl serve --addr :8080`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.mergeConfig(cmd)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.log = newLogger(c.verbose, cmd.ErrOrStderr())
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.flags.Mode, "mode", "m", c.flags.Mode, "Check mode: dnsbl (hosts/addresses) or surbl (URLs)")
	pf.StringSliceVarP(&c.flags.Blacklists, "blacklists", "b", nil, "Comma-separated zones to query (default: the mode's built-in list)")
	pf.StringVar(&c.flags.DumpFile, "dump-file", "", "Write every query result to this JSON file")
	pf.StringVar(&c.flags.PreloadFile, "preload-file", "", "Load cached results from this JSON file")
	pf.StringVar(&c.flags.CCTLDSource, "cctld-source", "", "Two-level ccTLD list: file path or http(s) URL (default: bundled list)")
	pf.StringSliceVar(&c.flags.Servers, "servers", nil, "Comma-separated DNS servers (default: /etc/resolv.conf)")
	pf.DurationVarP(&c.flags.Timeout, "timeout", "t", c.flags.Timeout, "Per-exchange timeout for one server")
	pf.DurationVar(&c.flags.QueryTimeout, "query-timeout", 0, "Bound on one zone lookup across servers and retries (default: derived)")
	pf.IntVar(&c.flags.Retries, "retries", c.flags.Retries, "Query rounds over all servers before giving up")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(c.newCheckCmd(), c.newServeCmd())
	return root
}

func (c *cli) newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [candidate...]",
		Short: "Check hosts, addresses or URLs",
		RunE:  c.runCheck,
	}
	f := cmd.Flags()
	f.BoolVarP(&c.checkAll, "check-all", "a", false, "Query every zone instead of stopping at the first listing")
	f.StringVarP(&c.flags.Format, "format", "f", c.flags.Format, "Output format: text, json, or csv")
	f.StringVarP(&c.outputFile, "out", "o", "", "Write output to file (default: stdout)")
	f.StringVarP(&c.inputFile, "input", "i", "", "Read candidates from file, one per line (- for stdin)")
	f.IntVarP(&c.flags.Concurrent, "concurrent", "c", c.flags.Concurrent, "Maximum concurrent candidates")
	f.BoolVar(&c.failOnListed, "fail-on-listed", false, "Exit with status 2 when any candidate is listed")
	return cmd
}

func (c *cli) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP check API with metrics",
		Args:  cobra.NoArgs,
		RunE:  c.runServe,
	}
	cmd.Flags().StringVar(&c.flags.HTTPAddr, "addr", c.flags.HTTPAddr, "HTTP listen address")
	return cmd
}

// mergeConfig applies explicitly set flags on top of the environment
func (c *cli) mergeConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, err
	}

	changed := cmd.Flags().Changed
	f := c.flags
	if changed("mode") {
		cfg.Mode = strings.ToLower(f.Mode)
	}
	if changed("blacklists") {
		cfg.Blacklists = f.Blacklists
	}
	if changed("dump-file") {
		cfg.DumpFile = f.DumpFile
	}
	if changed("preload-file") {
		cfg.PreloadFile = f.PreloadFile
	}
	if changed("cctld-source") {
		cfg.CCTLDSource = f.CCTLDSource
	}
	if changed("servers") {
		cfg.Servers = f.Servers
	}
	if changed("timeout") {
		cfg.Timeout = f.Timeout
	}
	if changed("retries") {
		cfg.Retries = f.Retries
	}
	if changed("query-timeout") {
		cfg.QueryTimeout = f.QueryTimeout
	}
	if changed("format") {
		cfg.Format = f.Format
	}
	if changed("concurrent") {
		cfg.Concurrent = f.Concurrent
	}
	if changed("addr") {
		cfg.HTTPAddr = f.HTTPAddr
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(verbose bool, w io.Writer) *zap.SugaredLogger {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if verbose {
		level.SetLevel(zap.DebugLevel)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core).Sugar()
}

// newEvaluator wires the resolver, name builder and cache for cfg
func newEvaluator(cfg config.Config, log *zap.SugaredLogger, metrics *blacklist.Metrics) (*blacklist.Evaluator, error) {
	client := dns.NewClient(cfg.Timeout, dns.WithServers(cfg.Servers), dns.WithRetries(cfg.Retries))
	queryTimeout := cfg.QueryTimeout
	if queryTimeout == 0 {
		queryTimeout = client.MaxLookupDuration()
	}
	log.Debugw("using DNS servers", "servers", client.Servers(), "query_timeout", queryTimeout)

	var builder blacklist.NameBuilder
	switch cfg.Mode {
	case blacklist.ModeSURBL:
		builder = blacklist.NewURLBuilder(cctld.New(cctld.SourceFor(cfg.CCTLDSource), cctld.WithLogger(log)))
	default:
		builder = blacklist.NewHostBuilder(client, log)
	}

	return blacklist.New(blacklist.Config{
		Blacklists: cfg.Zones(),
		Builder:    builder,
		Resolver:   client,
		Cache: cache.Options{
			PreloadFile: cfg.PreloadFile,
			DumpFile:    cfg.DumpFile,
		},
		QueryTimeout: queryTimeout,
	}, blacklist.WithLogger(log), blacklist.WithMetrics(metrics))
}

func (c *cli) runCheck(cmd *cobra.Command, args []string) error {
	defer func() { _ = c.log.Sync() }()

	candidates, err := collectCandidates(args, c.inputFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no candidates provided")
	}
	if len(candidates) > maxCandidates {
		return fmt.Errorf("too many candidates specified (max %d, got %d)", maxCandidates, len(candidates))
	}

	formatter, err := output.NewFormatter(c.cfg.Format)
	if err != nil {
		return err
	}

	ev, err := newEvaluator(c.cfg, c.log, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := checkAll(ctx, ev, candidates, c.checkAll, c.cfg.Concurrent)
	if err := ctx.Err(); err != nil {
		return err
	}

	report := models.NewCheckReport(time.Now().UTC(), results)
	if err := c.writeReport(cmd.OutOrStdout(), formatter, report); err != nil {
		return err
	}

	if c.failOnListed && report.Summary.Listed > 0 {
		return errListed
	}
	return nil
}

// checkAll evaluates candidates with at most limit in flight, keeping input order
func checkAll(ctx context.Context, ev *blacklist.Evaluator, candidates []string, all bool, limit int) []models.CheckResult {
	results := make([]models.CheckResult, len(candidates))
	var wg sync.WaitGroup
	sem := make(chan struct{}, limit)

	for i, candidate := range candidates {
		wg.Add(1)
		go func(idx int, candidate string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = ev.Check(ctx, candidate, all)
		}(i, candidate)
	}

	wg.Wait()
	return results
}

// collectCandidates merges positional arguments with the input file
func collectCandidates(args []string, inputFile string, stdin io.Reader) ([]string, error) {
	candidates := append([]string(nil), args...)
	if inputFile == "" {
		return candidates, nil
	}

	r := stdin
	if inputFile != "-" {
		// #nosec G304 -- reading a user-provided candidate list is intentional
		f, err := os.Open(filepath.Clean(inputFile))
		if err != nil {
			return nil, fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()
		r = f
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		candidates = append(candidates, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return candidates, nil
}

func (c *cli) writeReport(stdout io.Writer, formatter output.Formatter, report *models.CheckReport) error {
	if c.outputFile == "" {
		return formatter.Write(stdout, report)
	}

	// #nosec G304 -- User-provided output file path is intentional for CLI tool
	f, err := os.Create(filepath.Clean(c.outputFile))
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()
	return formatter.Write(f, report)
}

func (c *cli) runServe(cmd *cobra.Command, _ []string) error {
	defer func() { _ = c.log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ev, err := newEvaluator(c.cfg, c.log, blacklist.NewMetrics(reg))
	if err != nil {
		return err
	}
	c.log.Infow("serving blacklist checks", "mode", ev.Mode(), "zones", ev.Blacklists())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(ev, server.WithLogger(c.log), server.WithRegistry(reg))
	return srv.ListenAndServe(ctx, c.cfg.HTTPAddr)
}
