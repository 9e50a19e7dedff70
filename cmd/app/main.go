package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"runtime/trace"

	"github.com/Harvey-AU/huntsman/internal/archive"
	"github.com/Harvey-AU/huntsman/internal/crawler"
	"github.com/Harvey-AU/huntsman/internal/driver"
	"github.com/Harvey-AU/huntsman/internal/notifications"
	"github.com/Harvey-AU/huntsman/internal/observability"
	"github.com/Harvey-AU/huntsman/internal/techdetect"
	"github.com/Harvey-AU/huntsman/internal/util"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the application configuration loaded from environment variables
type Config struct {
	TargetURL             string // Site to crawl; first CLI argument overrides
	Env                   string // Environment (development/production)
	SentryDSN             string // Sentry DSN for error tracking
	LogLevel              string // Log level (debug, info, warn, error)
	FlightRecorderEnabled bool   // Flight recorder for performance debugging
	ObservabilityEnabled  bool   // Toggle OpenTelemetry + Prometheus exporters
	MetricsAddr           string // Address for Prometheus metrics endpoint (":9464" style)
	OTLPEndpoint          string // OTLP HTTP endpoint for trace export
	OTLPHeaders           string // Comma separated headers for OTLP exporter
	OTLPInsecure          bool   // Disable TLS verification for OTLP exporter
	ArchiveDir            string // Directory crawl runs are archived into
	SlackWebhookURL       string // Incoming webhook for crawl reports
	LoopsAPIKey           string // Loops.so API key for emailed reports
	EmailReportTo         string // Recipient address for emailed reports
	LoopsTransactionalID  string // Loops template used for emailed reports
}

func main() {
	// Load .env files - .env.local takes priority for development
	godotenv.Load(".env.local", ".env")

	// Load configuration
	config := &Config{
		TargetURL:             os.Getenv("TARGET_URL"),
		Env:                   getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:             os.Getenv("SENTRY_DSN"),
		LogLevel:              getEnvWithDefault("LOG_LEVEL", "info"),
		FlightRecorderEnabled: getEnvWithDefault("FLIGHT_RECORDER_ENABLED", "false") == "true",
		ObservabilityEnabled:  getEnvWithDefault("OBSERVABILITY_ENABLED", "true") == "true",
		MetricsAddr:           getEnvWithDefault("METRICS_ADDR", ":9464"),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:           os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		OTLPInsecure:          getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
		ArchiveDir:            getEnvWithDefault("ARCHIVE_DIR", "archive"),
		SlackWebhookURL:       os.Getenv("SLACK_WEBHOOK_URL"),
		LoopsAPIKey:           os.Getenv("LOOPS_API_KEY"),
		EmailReportTo:         os.Getenv("EMAIL_REPORT_TO"),
		LoopsTransactionalID:  os.Getenv("LOOPS_TRANSACTIONAL_ID"),
	}
	if len(os.Args) > 1 {
		config.TargetURL = os.Args[1]
	}

	// Start flight recorder if enabled
	if config.FlightRecorderEnabled {
		f, err := os.Create("trace.out")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create trace file")
		}

		if err := trace.Start(f); err != nil {
			log.Fatal().Err(err).Msg("failed to start flight recorder")
		}
		log.Info().Msg("Flight recorder enabled, writing to trace.out")

		// Defer closing the trace and the file to the shutdown sequence
		defer func() {
			trace.Stop()
			f.Close()
			log.Info().Msg("Flight recorder stopped and trace file closed.")
		}()
	}

	setupLogging(config)

	target := util.NormaliseURL(config.TargetURL)
	if target == "" {
		log.Fatal().Msg("A target URL is required: pass it as the first argument or set TARGET_URL")
	}
	if err := util.ValidateDomain(target); err != nil {
		log.Fatal().Err(err).Str("target", config.TargetURL).Msg("Target is not a crawlable domain")
	}

	// Initialise Sentry for error tracking and performance monitoring
	if config.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.SentryDSN,
			Environment: config.Env,
			TracesSampleRate: func() float64 {
				if config.Env == "production" {
					return 0.1 // 10% sampling in production
				}
				return 1.0 // 100% sampling in development
			}(),
			AttachStacktrace: true,
			Debug:            config.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", config.Env).Msg("Sentry initialised successfully")
			// Ensure Sentry flushes before application exits
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	var obsProviders *observability.Providers

	if config.ObservabilityEnabled {
		var err error
		obsProviders, err = observability.Init(context.Background(), observability.Config{
			Enabled:        true,
			ServiceName:    "huntsman",
			Environment:    config.Env,
			OTLPEndpoint:   strings.TrimSpace(config.OTLPEndpoint),
			OTLPHeaders:    parseOTLPHeaders(config.OTLPHeaders),
			OTLPInsecure:   config.OTLPInsecure,
			MetricsAddress: config.MetricsAddr,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise observability providers")
		} else if obsProviders != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := obsProviders.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
				}
			}()

			if obsProviders.MetricsHandler != nil && config.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", obsProviders.MetricsHandler)
				mux.HandleFunc("/health", healthHandler)

				metricsSrv := &http.Server{
					Addr:              config.MetricsAddr,
					Handler:           mux,
					ReadHeaderTimeout: 5 * time.Second,
				}

				go func() {
					log.Info().Str("addr", config.MetricsAddr).Msg("Metrics server listening")
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						sentry.CaptureException(err)
						log.Error().Err(err).Msg("Metrics server failed")
					}
				}()

				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Warn().Err(err).Msg("Graceful shutdown of metrics server failed")
					}
				}()
			}
		}
	}

	opts, err := buildCrawlOptions(target)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid crawl configuration")
	}

	driverConfig := driver.DefaultConfig()
	driverConfig.UserAgent = opts.UserAgent
	driverConfig.RateLimit = getEnvInt("DRIVER_RATE_LIMIT", driverConfig.RateLimit)
	if obsProviders != nil {
		driverConfig.WrapTransport = func(rt http.RoundTripper) http.RoundTripper {
			return observability.WrapTransport(rt, obsProviders)
		}
	}
	httpDriver := driver.NewHTTP(driverConfig)

	c, err := crawler.New(opts, httpDriver)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Failed to create crawler")
	}

	// Signals cancel the crawl; partial results still get reported
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("target", target).
		Int("max_pages", opts.MaxPages).
		Int("max_depth", opts.MaxDepth).
		Bool("respect_robots", opts.RespectRobots).
		Msg("🕷️ Huntsman starting crawl")

	spanCtx, crawlSpan := observability.StartCrawlSpan(ctx, observability.CrawlSpanInfo{
		RunID:    c.RunID(),
		BaseURL:  target,
		MaxPages: opts.MaxPages,
		MaxDepth: opts.MaxDepth,
	})

	start := time.Now()
	pages, crawlErr := c.CrawlSite(spanCtx)
	duration := time.Since(start)
	crawlSpan.End()

	results := c.Results()
	for _, res := range results {
		observability.RecordPage(ctx, observability.PageMetrics{
			RunID:    c.RunID(),
			Status:   res.StatusCode,
			Depth:    res.Depth,
			Retries:  res.RetryCount,
			Duration: time.Duration(res.LoadTime) * time.Millisecond,
		})
	}

	if crawlErr != nil {
		if len(results) == 0 {
			sentry.CaptureException(crawlErr)
			log.Fatal().Err(crawlErr).Msg("Crawl failed before any page was fetched")
		}
		log.Warn().Err(crawlErr).Int("pages", len(results)).Msg("Crawl interrupted, reporting partial results")
	}

	summary := c.Summary()
	log.Info().
		Str("run_id", c.RunID()).
		Int("total", summary.Total).
		Int("accessible", len(pages)).
		Int("errors", summary.Errors).
		Float64("success_rate", summary.Performance.SuccessRate).
		Float64("avg_load_time_ms", summary.Performance.AverageLoadTime).
		Int("total_retries", summary.Performance.TotalRetries).
		Interface("by_depth", summary.ByDepth).
		Dur("duration", duration).
		Msg("Crawl finished")

	var technologies []string
	if header, body, ok := httpDriver.FirstPage(); ok {
		detector, derr := techdetect.New()
		if derr != nil {
			log.Warn().Err(derr).Msg("Technology detection unavailable")
		} else {
			technologies = techdetect.Names(detector.Detect(header, body))
			if len(technologies) > 0 {
				log.Info().Strs("technologies", technologies).Msg("Detected technology stack")
			}
		}
	}

	var delta archive.Delta
	store, storeErr := archive.NewStore(config.ArchiveDir)
	if storeErr != nil {
		log.Warn().Err(storeErr).Str("dir", config.ArchiveDir).Msg("Archive unavailable, skipping run comparison")
	} else {
		previous, loadErr := store.Load(target)
		if loadErr != nil && !errors.Is(loadErr, fs.ErrNotExist) {
			log.Warn().Err(loadErr).Msg("Could not read previous crawl archive")
		}

		run := &archive.CrawlRun{
			RunID:        c.RunID(),
			BaseURL:      target,
			StartedAt:    start,
			FinishedAt:   start.Add(duration),
			Summary:      summary,
			Results:      results,
			Technologies: technologies,
		}

		delta = archive.Compare(previous, run)
		if previous != nil && !delta.Empty() {
			log.Info().
				Int("new", len(delta.New)).
				Int("removed", len(delta.Removed)).
				Int("changed", len(delta.Changed)).
				Msg("Site changed since last crawl")
		}

		if path, saveErr := store.Save(run); saveErr != nil {
			sentry.CaptureException(saveErr)
			log.Error().Err(saveErr).Msg("Failed to archive crawl run")
		} else {
			log.Info().Str("path", path).Msg("Crawl run archived")
		}
	}

	service := notifications.NewService()
	channelCount := 0

	if config.SlackWebhookURL != "" {
		webhook, whErr := notifications.NewSlackWebhook(config.SlackWebhookURL)
		if whErr != nil {
			log.Warn().Err(whErr).Msg("Slack webhook misconfigured, skipping channel")
		} else {
			service.AddChannel(webhook)
			channelCount++
		}
	}

	if config.LoopsAPIKey != "" || config.EmailReportTo != "" || config.LoopsTransactionalID != "" {
		email, emErr := notifications.NewEmailReport(config.LoopsAPIKey, config.EmailReportTo, config.LoopsTransactionalID)
		if emErr != nil {
			log.Warn().Err(emErr).Msg("Email report misconfigured, skipping channel")
		} else {
			service.AddChannel(email)
			channelCount++
		}
	}

	if channelCount > 0 {
		report := &notifications.CrawlReport{
			BaseURL:      target,
			RunID:        c.RunID(),
			Duration:     duration,
			Summary:      summary,
			Technologies: technologies,
			NewPages:     len(delta.New),
			RemovedPages: len(delta.Removed),
			ChangedPages: len(delta.Changed),
			Errors:       c.Errors(),
		}

		// A fresh context so the report still goes out when the crawl
		// itself was cancelled
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		service.Notify(notifyCtx, report)
	}

	log.Info().Str("run_id", c.RunID()).Msg("Done")
}

// buildCrawlOptions assembles crawl options for the target from environment
// variables, starting from the library defaults.
func buildCrawlOptions(targetURL string) (*crawler.CrawlOptions, error) {
	opts := crawler.DefaultOptions()
	opts.BaseURL = targetURL
	opts.MaxPages = getEnvInt("MAX_PAGES", opts.MaxPages)
	opts.MaxDepth = getEnvInt("MAX_DEPTH", opts.MaxDepth)
	opts.MaxRetries = getEnvInt("MAX_RETRIES", opts.MaxRetries)
	opts.DelayBetweenRequests = time.Duration(getEnvInt("CRAWL_DELAY_MS", 500)) * time.Millisecond
	opts.RetryDelay = time.Duration(getEnvInt("RETRY_DELAY_MS", 1000)) * time.Millisecond
	opts.Timeout = time.Duration(getEnvInt("TIMEOUT_MS", 30000)) * time.Millisecond
	opts.UserAgent = getEnvWithDefault("USER_AGENT", opts.UserAgent)
	opts.RespectRobots = getEnvWithDefault("RESPECT_ROBOTS", "true") == "true"
	opts.AllowedDomains = splitList(os.Getenv("ALLOWED_DOMAINS"))

	var err error
	opts.ExcludePatterns, err = compilePatterns(splitList(os.Getenv("EXCLUDE_PATTERNS")))
	if err != nil {
		return nil, fmt.Errorf("invalid EXCLUDE_PATTERNS: %w", err)
	}
	opts.IncludePatterns, err = compilePatterns(splitList(os.Getenv("INCLUDE_PATTERNS")))
	if err != nil {
		return nil, fmt.Errorf("invalid INCLUDE_PATTERNS: %w", err)
	}

	return opts, nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt retrieves an environment variable as an integer or returns a default value if not set or invalid
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var result int
	if _, err := fmt.Sscanf(value, "%d", &result); err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
		return defaultValue
	}

	return result
}

// splitList splits a comma separated environment value into trimmed entries.
func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// compilePatterns compiles each expression, failing on the first invalid one
// so a typo never silently widens the crawl.
func compilePatterns(exprs []string) ([]*regexp.Regexp, error) {
	if len(exprs) == 0 {
		return nil, nil
	}

	patterns := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", expr, err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}

func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return headers
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}

		headers[key] = value
	}

	return headers
}

// setupLogging configures the logging system
func setupLogging(config *Config) {
	// Configure log level
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	// Use console writer in development
	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		// In production, use a more verbose JSON format that works well with Fly.io logs
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "huntsman").
			Logger()
	}
}
