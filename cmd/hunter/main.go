// Command hunter runs the liquidation-cascade contrarian trading engine:
// it ingests forced-liquidation events, evaluates entries through the
// Hunter's gate chain, and keeps every open position protected through the
// reconciler, exposing a read-only status API throughout.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/config"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/httpapi"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/orchestrator"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	listenAddr := flag.String("listen", ":8080", "address for the read-only HTTP/WS status API")
	vwapInterval := flag.String("vwap-interval", "1m", "kline interval used for the rolling VWAP")
	vwapLookback := flag.Int("vwap-lookback", 100, "number of klines the rolling VWAP keeps in its window")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return 1
	}

	engine := orchestrator.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go forceExitOnSecondSignal()

	apiToken := os.Getenv("HUNTER_API_TOKEN")
	server := httpapi.New(apiToken, engine.Store, engine.Client, engine.VWAP, engine.Broadcaster, engine.Errors)
	httpSrv := &http.Server{Addr: *listenAddr, Handler: server}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http status API exited")
		}
	}()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := config.Watch(watchCtx, *configPath, engine.Store, func(d config.Diff) { engine.ApplyConfig(engine.Store.Current(), d) }); err != nil {
			log.Warn().Err(err).Msg("config watcher exited")
		}
	}()

	log.Info().Str("config", *configPath).Bool("paperMode", cfg.Global.PaperMode).Msg("engine starting")

	if err := engine.Run(ctx, *vwapInterval, *vwapLookback); err != nil {
		log.Error().Err(err).Msg("engine exited with error")
		shutdownHTTP(httpSrv)
		return 1
	}

	shutdownHTTP(httpSrv)

	if ctx.Err() != nil {
		return 130
	}
	return 0
}

func shutdownHTTP(srv *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http status API did not shut down cleanly")
	}
}

// forceExitOnSecondSignal lets an impatient operator force-quit with a
// second Ctrl-C while the engine is draining (§5).
func forceExitOnSecondSignal() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	<-sigCh
	log.Warn().Msg("second interrupt received, forcing exit")
	os.Exit(130)
}
