// Command scraper is the one-shot sync job: it pulls products, prices and
// store locations from the supported liquor retailers and pushes them to
// the pisspricer API.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	cli "github.com/jawher/mow.cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pisspricer/pisspricer-scraper/pkg/config"
	"github.com/pisspricer/pisspricer-scraper/pkg/fanout"
	"github.com/pisspricer/pisspricer-scraper/pkg/geocode"
	"github.com/pisspricer/pisspricer-scraper/pkg/pipeline"
	"github.com/pisspricer/pisspricer-scraper/pkg/pisspricer"
	"github.com/pisspricer/pisspricer-scraper/pkg/progress"
	"github.com/pisspricer/pisspricer-scraper/pkg/stores"

	_ "github.com/pisspricer/pisspricer-scraper/pkg/stores/countdown"
	_ "github.com/pisspricer/pisspricer-scraper/pkg/stores/henrys"
	_ "github.com/pisspricer/pisspricer-scraper/pkg/stores/liquorland"
)

func main() {
	app := cli.App("scraper", "Sync liquor retailer products, prices and stores to pisspricer")

	app.Command("scrape", "sync items and prices for one retailer", func(cmd *cli.Cmd) {
		store := cmd.StringArg("STORE", "", "retailer to scrape: "+retailerList())
		cmd.Action = func() {
			run(func(p *pipeline.Pipeline, ext stores.Extractor) error {
				return p.SyncItems(ext)
			}, *store)
		}
	})

	app.Command("find-stores", "sync store locations for one retailer", func(cmd *cli.Cmd) {
		store := cmd.StringArg("STORE", "", "retailer to scrape: "+retailerList())
		cmd.Action = func() {
			run(func(p *pipeline.Pipeline, ext stores.Extractor) error {
				return p.SyncStores(ext)
			}, *store)
		}
	})

	app.Command("scrape-all", "sync stores, items and prices for every retailer", func(cmd *cli.Cmd) {
		cmd.Action = func() {
			runAll()
		}
	})

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func retailerList() string {
	return strings.Join(stores.Names(), ", ")
}

type syncFunc func(p *pipeline.Pipeline, ext stores.Extractor) error

func run(sync syncFunc, retailer string) {
	opts, deps, log, cleanup := setup()
	defer cleanup()

	ext, err := stores.New(retailer, deps)
	if err != nil {
		log.Fatalw("unknown retailer", "retailer", retailer, "error", err)
	}
	if err := sync(pipeline.New(opts), ext); err != nil {
		log.Fatalw("sync failed", "retailer", retailer, "error", err)
	}
}

func runAll() {
	opts, deps, log, cleanup := setup()
	defer cleanup()

	failed := 0
	for _, name := range stores.Names() {
		ext, err := stores.New(name, deps)
		if err != nil {
			log.Errorw("unknown retailer", "retailer", name, "error", err)
			failed++
			continue
		}
		// fresh pipeline per retailer: the identity indices are brand-scoped
		p := pipeline.New(opts)
		if err := p.SyncStores(ext); err != nil {
			log.Errorw("store sync failed", "retailer", name, "error", err)
			failed++
			continue
		}
		if err := p.SyncItems(ext); err != nil {
			log.Errorw("item sync failed", "retailer", name, "error", err)
			failed++
		}
	}
	if failed > 0 {
		log.Fatalw("sync finished with failures", "failed", failed)
	}
}

// setup wires the whole job: config, logger, API session, executor, and
// the dependency bundle handed to each extractor.
func setup() (pipeline.Options, stores.Deps, *zap.SugaredLogger, func()) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, cleanup, err := newLogger(cfg.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	httpClient := &http.Client{}
	api, err := pisspricer.Login(cfg.APIBaseURL, cfg.Email, cfg.Password, httpClient, log)
	if err != nil {
		log.Fatalw("login failed", "error", err)
	}

	exec := fanout.New(httpClient, cfg.Timeout)
	reporter := progress.New(os.Stderr)

	opts := pipeline.Options{
		API:      api,
		Geocoder: geocode.New(cfg.MapsKey, httpClient),
		Exec:     exec,
		Log:      log,
		Progress: reporter.Update,
	}
	deps := stores.Deps{
		HTTP:     httpClient,
		Exec:     exec,
		Log:      log,
		Progress: reporter.Update,
	}
	return opts, deps, log, cleanup
}

// newLogger tees console output (info and up) with an append-only error
// log file (warn and up) that survives across runs.
func newLogger(logFile string) (*zap.SugaredLogger, func(), error) {
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", logFile, err)
	}

	consoleEnc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	fileEnc := zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig())

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), zapcore.InfoLevel),
		zapcore.NewCore(fileEnc, zapcore.AddSync(f), zapcore.WarnLevel),
	)
	logger := zap.New(core)
	cleanup := func() {
		_ = logger.Sync()
		_ = f.Close()
	}
	return logger.Sugar(), cleanup, nil
}
