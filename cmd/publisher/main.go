package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.mongodb.org/mongo-driver/mongo"

	"crimson-pen/clock"
	"crimson-pen/config"
	"crimson-pen/db"
	"crimson-pen/feeder"
	"crimson-pen/generator"
	"crimson-pen/metrics"
	"crimson-pen/models"
	"crimson-pen/pipeline"
	"crimson-pen/quota"
	"crimson-pen/renderer"
	"crimson-pen/repositories"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"config.yaml" type:"path"`
	Verbose bool   `short:"v" help:"Enable debug logging"`

	Run struct {
		Date   string `help:"Publish for this day (YYYY-MM-DD) instead of today"`
		DryRun bool   `help:"Generate and render without writing the history or pages"`
	} `cmd:"" help:"Run one publishing cycle and exit"`

	Daemon struct {
		At string `help:"Daily run time HH:MM in the configured time zone (overrides daemon.at)"`
	} `cmd:"" help:"Stay resident and publish once a day"`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("publisher"),
		kong.Description("Generates the daily column and publishes the history and pages."),
	)

	if err := config.InitFromFile(CLI.Config); err != nil {
		config.Logger.Errorf("failed to load configuration: %v", err)
		os.Exit(1)
	}
	cfg := config.GetConfig()
	if CLI.Verbose {
		cfg.Logging.Level = "debug"
	}
	config.InitLogger(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, cleanup, err := buildPipeline(ctx, cfg, filepath.Dir(CLI.Config))
	if err != nil {
		config.Logger.Errorf("failed to initialize publisher: %v", err)
		os.Exit(1)
	}
	defer cleanup()

	switch kctx.Command() {
	case "run":
		opts := pipeline.RunOptions{DryRun: CLI.Run.DryRun}
		if CLI.Run.Date != "" {
			day, err := time.ParseInLocation(models.DateLayout, CLI.Run.Date, cfg.Location())
			if err != nil {
				config.Logger.Errorf("invalid --date %q: expected YYYY-MM-DD", CLI.Run.Date)
				os.Exit(1)
			}
			opts.Date = day
		}
		if _, err := p.Run(ctx, opts); err != nil {
			cleanup()
			os.Exit(1)
		}
	case "daemon":
		if CLI.Daemon.At != "" {
			cfg.Daemon.At = CLI.Daemon.At
		}
		if err := runDaemon(ctx, cfg, p); err != nil {
			config.Logger.Errorf("daemon failed: %v", err)
			cleanup()
			os.Exit(1)
		}
	default:
		config.Logger.Errorf("unknown command: %s", kctx.Command())
		os.Exit(1)
	}
}

// buildPipeline wires the production collaborators. Relative template
// directories are resolved against the configuration file's directory.
func buildPipeline(ctx context.Context, cfg config.AppConfig, baseDir string) (*pipeline.Pipeline, func(), error) {
	cleanup := func() {}

	service, err := generator.NewGeminiService(ctx, cfg.Generation.APIKeyEnv, cfg.Generation.RequestTimeout)
	if err != nil {
		return nil, cleanup, err
	}

	var mongoDB *mongo.Database
	if cfg.History.Backend == "mongo" || cfg.Mongo.URI != "" {
		if err := db.Init(ctx, cfg.Mongo); err != nil {
			return nil, cleanup, err
		}
		mongoDB = db.Database()
		cleanup = func() {
			if err := db.Close(context.Background()); err != nil {
				config.Logger.Warnf("mongo disconnect: %v", err)
			}
		}
	}

	backend, err := repositories.NewHistoryBackend(cfg.History, mongoDB)
	if err != nil {
		return nil, cleanup, err
	}

	templatesDir := cfg.Render.TemplatesDir
	if !filepath.IsAbs(templatesDir) {
		templatesDir = filepath.Join(baseDir, templatesDir)
	}

	deps := pipeline.Deps{
		Service:  service,
		Store:    repositories.NewHistoryStore(backend, cfg.History.MaxEntries),
		Renderer: renderer.NewRenderer(os.DirFS(templatesDir), cfg.Render),
		Feeds:    feeder.New(nil),
		Clock:    clock.System{},
		Quota:    quota.NewGenerationQuotaLimiter(cfg.Generation.Quota, clock.System{}),
		Recorder: metrics.NewPrometheusRecorder(),
	}
	if mongoDB != nil && cfg.Generation.LogAttempts {
		deps.AttemptLog = repositories.NewAILogRepository(mongoDB)
	}
	return pipeline.New(cfg, deps), cleanup, nil
}
