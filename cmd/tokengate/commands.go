package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/tokengate"
	"github.com/BaSui01/tokengate/agent/strategy"
	"github.com/BaSui01/tokengate/config"
	internalcache "github.com/BaSui01/tokengate/internal/cache"
	"github.com/BaSui01/tokengate/internal/metrics"
	"github.com/BaSui01/tokengate/internal/server"
	"github.com/BaSui01/tokengate/internal/telemetry"
	"github.com/BaSui01/tokengate/internal/tlsutil"
	"github.com/BaSui01/tokengate/llm/budget"
	"github.com/BaSui01/tokengate/llm/cache"
	"github.com/BaSui01/tokengate/llm/dispatch"
	"github.com/BaSui01/tokengate/llm/observability"
)

// =============================================================================
// 🔌 运行时装配
// =============================================================================

// runtime 一次命令执行期间的会话及其外围设施
type runtime struct {
	session *tokengate.Session
	logger  *zap.Logger
	closers []func(context.Context) error
}

func newRuntime(cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	rt := &runtime{logger: logger}

	providers, err := telemetry.Init(cfg.Telemetry, logger,
		telemetry.WithResourceAttributes(attribute.String("tokengate.model", cfg.Dispatch.Model)))
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		rt.closers = append(rt.closers, providers.Shutdown)
	}

	opts := []tokengate.Option{tokengate.WithLogger(logger)}
	if providers != nil && providers.Enabled() {
		otelMetrics, err := observability.NewMetrics(
			observability.WithMeterProvider(providers.MeterProvider()),
			observability.WithTracerProvider(providers.TracerProvider()))
		if err != nil {
			logger.Warn("failed to create otel instruments", zap.Error(err))
		} else {
			opts = append(opts, tokengate.WithSink(otelMetrics))
		}
	}

	if cfg.Metrics.Enabled {
		opts = append(opts, tokengate.WithCollector(metrics.NewCollector(cfg.Metrics.Namespace, logger)))
		if cfg.Metrics.ListenAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srvCfg := server.DefaultConfig()
			srvCfg.Addr = cfg.Metrics.ListenAddr
			srv := server.NewManager(mux, srvCfg, logger)
			if err := srv.Start(); err != nil {
				rt.close()
				return nil, err
			}
			rt.closers = append(rt.closers, srv.Shutdown)
		}
	}

	client := tlsutil.NewHTTPClient(tlsutil.ClientConfig{MaxConnsPerHost: cfg.Dispatch.MaxConcurrency})
	transport := dispatch.NewHTTPTransport(cfg.Transport.BaseURL, cfg.Transport.APIKey, client, logger)

	s, err := tokengate.New(cfg, transport, opts...)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.session = s
	return rt, nil
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if rt.session != nil {
		if err := rt.session.Close(); err != nil {
			rt.logger.Warn("session close failed", zap.Error(err))
		}
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			rt.logger.Warn("shutdown failed", zap.Error(err))
		}
	}
	_ = rt.logger.Sync()
}

// =============================================================================
// 📞 call
// =============================================================================

func runCall(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	metricsAddr := fs.String("metrics-addr", "", "Expose /metrics on this address while running")
	instructions := fs.String("instructions", "", "System instruction")
	contextFile := fs.String("context-file", "", "File whose content is cached and reused across calls")
	label := fs.String("label", "", "Label attached to telemetry")
	ttl := fs.Int("ttl", 0, "Cache TTL in minutes (0 uses cache.ttl_minutes)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	prompt := strings.Join(fs.Args(), " ")
	if prompt == "" {
		return errors.New("call requires a prompt")
	}

	content, err := readOptional(*contextFile)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	overrideMetricsAddr(cfg, *metricsAddr)
	rt, err := newRuntime(cfg, initLogger(cfg.Log))
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.session.ExecuteCached(ctx, tokengate.CallRequest{
		Instructions: *instructions,
		Context:      content,
		Prompt:       prompt,
		Label:        *label,
		TTLMinutes:   *ttl,
	})
	if res != nil {
		fmt.Fprintln(out, res.Text)
	}
	fmt.Fprintln(out, rt.session.Snapshot())
	return err
}

// =============================================================================
// 📦 batch
// =============================================================================

// runBatch 每行一个提示词，并发执行；并发与 RPM 由会话的准入门约束
func runBatch(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	metricsAddr := fs.String("metrics-addr", "", "Expose /metrics on this address while running")
	instructions := fs.String("instructions", "", "System instruction")
	contextFile := fs.String("context-file", "", "File whose content is cached and shared by every prompt")
	promptsFile := fs.String("prompts", "", "File with one prompt per line")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *promptsFile == "" {
		return errors.New("batch requires --prompts")
	}
	prompts, err := readLines(*promptsFile)
	if err != nil {
		return err
	}
	content, err := readOptional(*contextFile)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	overrideMetricsAddr(cfg, *metricsAddr)
	rt, err := newRuntime(cfg, initLogger(cfg.Log))
	if err != nil {
		return err
	}
	defer rt.close()

	results := make([]string, len(prompts))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, prompt := range prompts {
		eg.Go(func() error {
			res, err := rt.session.ExecuteCached(egCtx, tokengate.CallRequest{
				Instructions: *instructions,
				Context:      content,
				Prompt:       prompt,
				Label:        fmt.Sprintf("batch-%d", i),
			})
			if err != nil {
				return fmt.Errorf("prompt %d: %w", i+1, err)
			}
			results[i] = res.Text
			return nil
		})
	}
	err = eg.Wait()

	for i, text := range results {
		fmt.Fprintf(out, "[%d] %s\n", i+1, text)
	}
	fmt.Fprintln(out, rt.session.Snapshot())
	return err
}

func readLines(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var lines []string
	for _, line := range strings.Split(string(b), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read context file: %w", err)
	}
	return string(b), nil
}

func overrideMetricsAddr(cfg *config.Config, addr string) {
	if addr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddr = addr
	}
}

// =============================================================================
// 🧭 route / classify
// =============================================================================

func runRoute(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("route", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	metricsAddr := fs.String("metrics-addr", "", "Expose /metrics on this address while running")
	modeFlag := fs.String("mode", "auto", "Strategy mode: auto, fast or deep")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mode, err := strategy.ParseMode(*modeFlag)
	if err != nil {
		return err
	}
	desc := strings.Join(fs.Args(), " ")
	if desc == "" {
		return errors.New("route requires a task description")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	overrideMetricsAddr(cfg, *metricsAddr)
	rt, err := newRuntime(cfg, initLogger(cfg.Log))
	if err != nil {
		return err
	}
	defer rt.close()

	d, err := rt.session.OptimizeOrRoute(ctx, strategy.Task{Description: desc}, mode)
	if err != nil {
		return err
	}
	return writeJSON(out, d)
}

func runClassify(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("classify", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	desc := strings.Join(fs.Args(), " ")
	if desc == "" {
		return errors.New("classify requires a task description")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	c := strategy.NewKeywordClassifier(cfg.Strategy.DeepKeywords, cfg.Strategy.MaxFastWords)
	fmt.Fprintln(out, c.Classify(desc))
	return nil
}

// =============================================================================
// 💰 cost
// =============================================================================

func runCost(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("cost", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	pricingFile := fs.String("pricing", "", "YAML pricing table overriding the built-in one")
	model := fs.String("model", "", "Model identifier (default dispatch.model)")
	input := fs.Int("input", 0, "Input tokens")
	output := fs.Int("output", 0, "Output tokens")
	limit := fs.Float64("limit", -1, "Budget in USD (default budget.limit_usd)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input < 0 || *output < 0 {
		return errors.New("token counts must not be negative")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *model == "" {
		*model = cfg.Dispatch.Model
	}
	if *limit < 0 {
		*limit = cfg.Budget.LimitUSD
	}

	pricing := tokengate.PricingTable(cfg.Pricing)
	if *pricingFile != "" {
		extra, err := budget.LoadPricingFile(*pricingFile)
		if err != nil {
			return err
		}
		pricing = pricing.Merge(extra)
	}

	ledger := budget.NewLedger(budget.Config{Model: *model, LimitUSD: *limit, Pricing: pricing}, zap.NewNop())
	ledger.RecordUsage(*input, *output)
	if _, err := ledger.TotalCost(); err != nil {
		return err
	}
	fmt.Fprintln(out, ledger.Snapshot())
	return nil
}

// =============================================================================
// 🗂️ cache
// =============================================================================

func runCache(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("cache requires a subcommand: list or prune")
	}
	sub := args[0]

	fs := flag.NewFlagSet("cache "+sub, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	store, closeStore, err := openManifestStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	mgr := cache.NewManager(store, nil, nil, logger, cache.WithDefaultTTL(cfg.Cache.TTLMinutes))

	switch sub {
	case "list":
		entries, err := mgr.Entries(ctx)
		if err != nil {
			return err
		}
		return printManifest(out, entries, cfg.Cache.TTLMinutes, time.Now())
	case "prune":
		n, err := mgr.Prune(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "pruned %d expired entries\n", n)
		return nil
	default:
		return fmt.Errorf("unknown cache subcommand: %s", sub)
	}
}

func openManifestStore(cfg *config.Config, logger *zap.Logger) (cache.ManifestStore, func(), error) {
	if cfg.Cache.Backend != "redis" {
		return cache.NewFileStore(cfg.Cache.ManifestPath, logger), func() {}, nil
	}
	rcfg := internalcache.DefaultConfig()
	rcfg.Addr = cfg.Redis.Addr
	rcfg.Password = cfg.Redis.Password
	rcfg.DB = cfg.Redis.DB
	rs, err := cache.NewRedisStore(rcfg, cfg.Cache.RedisKey, logger)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { _ = rs.Close() }, nil
}

func printManifest(out io.Writer, m cache.Manifest, defaultTTL int, now time.Time) error {
	fps := make([]string, 0, len(m))
	for fp := range m {
		fps = append(fps, fp)
	}
	sort.Strings(fps)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINGERPRINT\tNAME\tCREATED\tSTATUS")
	for _, fp := range fps {
		e := m[fp]
		status := "live"
		if e.Expired(now, defaultTTL) {
			status = "expired"
		}
		short := fp
		if len(short) > 12 {
			short = short[:12]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", short, e.Name, e.Created, status)
	}
	return tw.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
