// Command relaybridge runs the proxy engine: load config, start the
// supervisor and its sidecars (admin API, sample store, metric
// exporters), serve until signalled, shut down cleanly.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bridgelab/relaybridge/config"
	"github.com/bridgelab/relaybridge/internal/accounting"
	"github.com/bridgelab/relaybridge/internal/api"
	"github.com/bridgelab/relaybridge/internal/engine"
	"github.com/bridgelab/relaybridge/internal/logx"
	"github.com/bridgelab/relaybridge/internal/metrics"
	"github.com/bridgelab/relaybridge/internal/store"
)

var cmd = logx.New(logx.WithPrefix("cmd"))

const defaultConfigPath = "./config/config.yaml"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}
	must(run(defaultConfigPath))
}

func run(path string) error {
	cfg, loadedFrom, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logx.SetLevelString(cfg.Logging.Level)
	cmd.Infof("config loaded from %s", loadedFrom)

	reg := prometheus.NewRegistry()
	eng := engine.New(cfg, reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Traffic-sample persistence.
	var db *store.DB
	var recorder *store.Recorder
	if cfg.DB.Enable {
		db, err = store.Open(cfg.DB.Driver, cfg.DB.DSN, store.PoolCfg{
			MaxOpen:        cfg.DB.Pool.MaxOpen,
			MaxIdle:        cfg.DB.Pool.MaxIdle,
			MaxLifetimeSec: cfg.DB.Pool.MaxLifetimeSec,
		})
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		recorder = store.NewRecorder(db, time.Duration(cfg.DB.FlushMs)*time.Millisecond, cfg.DB.MaxBatch)
		recorder.Start()

		var lastUp, lastDn uint64
		eng.Observe(func(snap accounting.Snapshot) {
			// A restart resets the totals; restart the deltas with them.
			if snap.UploadTotal < lastUp {
				lastUp = 0
			}
			if snap.DownloadTotal < lastDn {
				lastDn = 0
			}
			recorder.Add(store.TrafficSample{
				Time:          time.Now().UnixMilli(),
				UploadTotal:   int64(snap.UploadTotal),
				DownloadTotal: int64(snap.DownloadTotal),
				UploadDelta:   int64(snap.UploadTotal - lastUp),
				DownloadDelta: int64(snap.DownloadTotal - lastDn),
				UploadMbps:    snap.UploadMbps,
				DownloadMbps:  snap.DownloadMbps,
				Clients:       eng.Registry.InboundCount(),
			})
			lastUp, lastDn = snap.UploadTotal, snap.DownloadTotal
		})
	}

	// Optional InfluxDB exporter.
	var influx *metrics.InfluxExporter
	if cfg.Influx.URL != "" {
		host, _ := os.Hostname()
		influx = metrics.NewInfluxExporter(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket, host)
		eng.Observe(influx.Observe)
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	cmd.Infof("relaybridge running")

	// Admin/status API.
	var adminSrv *api.Server
	if cfg.Admin.Enable {
		adminSrv = api.New(cfg, eng, db)
		adminSrv.BaseCtx = ctx
		if err := adminSrv.Start(); err != nil {
			return fmt.Errorf("start admin api: %w", err)
		}
	}

	metricsSrv := startMetricsServer(cfg.Metrics.Listen, reg)

	<-ctx.Done()
	cmd.Infof("shutting down")

	eng.Stop()
	if adminSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		adminSrv.Shutdown(shutCtx)
		cancel()
	}
	if metricsSrv != nil {
		_ = metricsSrv.Close()
	}
	if recorder != nil {
		recorder.Shutdown()
	}
	if influx != nil {
		influx.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	return nil
}

func startMetricsServer(listen string, reg *prometheus.Registry) *http.Server {
	if listen == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: listen, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cmd.Warnf("metrics server: %v", err)
		}
	}()
	return srv
}

func must(err error) {
	if err != nil {
		cmd.Errorf("%v", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`Usage:
  relaybridge                 # start the proxy engine using ./config/config.yaml`)
}
