// cmd/aggregator — central measurement service.
//
// Receives readings from the stations over mutual TLS, maintains the
// per-sensor time series with CSV persistence, publishes group snapshots and
// live updates, archives daily summaries and sends operator alerts.
//
// Config (env vars): see config.Load. No arguments.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sensornet/config"
	"sensornet/internal/alert"
	"sensornet/internal/ingest"
	"sensornet/internal/live"
	"sensornet/internal/logger"
	"sensornet/internal/metrics"
	"sensornet/internal/model"
	"sensornet/internal/notification"
	"sensornet/internal/series"
	redisstore "sensornet/internal/store/redis"
	sqlitestore "sensornet/internal/store/sqlite"
	"sensornet/internal/supervisor"
	"sensornet/internal/web"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("aggregator", slog.LevelInfo)
	log.Println("[aggregator] starting...")

	cfg := config.Load()
	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("[aggregator] %v", err)
	}
	devices, err := config.LoadDevices(cfg.SensorFile)
	if err != nil {
		log.Fatalf("[aggregator] %v", err)
	}

	os.MkdirAll(cfg.DataDir, 0o755)
	os.MkdirAll(cfg.WebDir, 0o755)

	// ---- Metrics & health sidecar ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	sidecar := metrics.NewServer(cfg.SidecarAddr, health)

	// ---- Series registry (replays CSV partitions) ----
	registry, err := supervisor.NewRegistry(devices, series.Config{
		DataDir:   cfg.DataDir,
		Timezone:  loc,
		OnCompact: func() { prom.CompactedTotal.Inc() },
	})
	if err != nil {
		log.Fatalf("[aggregator] registry: %v", err)
	}
	log.Printf("[aggregator] %d series in %d group(s)",
		len(registry.All()), len(registry.Groups()))

	// ---- Live hub on the sidecar listener ----
	hub := live.NewHub()
	sidecar.Handle("/ws", hub.Handler())

	// ---- Shutdown context ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Summary archive ----
	archive, err := sqlitestore.Open(sqlitestore.Config{DBPath: cfg.SummaryDB})
	if err != nil {
		log.Fatalf("[aggregator] sqlite init failed: %v", err)
	}
	defer archive.Close()
	health.SetSQLiteOK(true)
	archiveCh := make(chan sqlitestore.Entry, 256)
	go archive.Run(ctx, archiveCh)

	// Counted on the way into the archive.
	summaryCh := make(chan sqlitestore.Entry, 256)
	go func() {
		defer close(archiveCh)
		for e := range summaryCh {
			prom.SummariesTotal.Inc()
			archiveCh <- e
		}
	}()

	// ---- Redis mirror (optional) ----
	var mirror *redisstore.BufferedMirror
	var redisClient = (*redisstore.Mirror)(nil)
	if cfg.RedisAddr != "" {
		m, err := redisstore.NewMirror(redisstore.MirrorConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[aggregator] WARNING: redis init failed: %v (continuing without mirror)", err)
		} else {
			redisClient = m
			health.SetRedisConnected(true)
			cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
			cb.OnStateChange = func(from, to redisstore.State) {
				log.Printf("[redis] circuit breaker %s -> %s", from, to)
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
			}
			mirror = redisstore.NewBufferedMirror(ctx, m, cb, 0)
			mirror.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
		}
	}

	// ---- Liveness checks ----
	if redisClient != nil {
		health.StartLivenessChecker(ctx, redisClient.Client(), archive.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, archive.DB(), 10*time.Second)
	}

	// ---- Notification backends ----
	notifiers := notification.Multi{notification.NewLogNotifier()}
	if cfg.EnableEmail {
		notifiers = append(notifiers, notification.NewMailNotifier(
			cfg.SMTPAddr, cfg.SourceAddress, cfg.AdminAddress, cfg.Users()))
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	alerter := alert.New(notifiers)
	alerter.OnQueued = func() { prom.AlertsQueued.Inc() }
	alerter.OnSuppressed = func() { prom.AlertsSuppressed.Inc() }

	// ---- Ingest server ----
	srv, err := ingest.New(ingest.Config{
		Addr:         cfg.IngestAddr,
		CertFile:     cfg.ServerCert,
		KeyFile:      cfg.ServerKey,
		ClientCAFile: cfg.ClientCA,
		TokenFile:    cfg.TokenFile,
		TOTPSecret:   cfg.TOTPSecret,
		Validate:     registry.Validate,
	})
	if err != nil {
		log.Fatalf("[aggregator] ingest: %v", err)
	}
	srv.OnAccepted = func() {
		prom.RecordsAccepted.Inc()
		health.SetLastRecordTime(time.Now())
	}
	srv.OnRejected = func() { prom.RecordsRejected.Inc() }

	// ---- Snapshots ----
	snapshots := &web.SnapshotWriter{Dir: cfg.WebDir}
	if err := snapshots.CopyIndex(filepath.Join(cfg.StaticDir, "index.html")); err != nil {
		log.Printf("[aggregator] static index: %v", err)
	}

	// ---- Supervisor loop ----
	agg := supervisor.NewAggregator(supervisor.AggregatorConfig{
		Registry:  registry,
		Inbox:     srv.Inbox(),
		Alerter:   alerter,
		Snapshots: snapshots,
		Archive:   summaryCh,
		Publish: func(p model.Payload) {
			hub.Broadcast(p)
			prom.LiveClients.Set(float64(hub.ClientCount()))
			if mirror != nil {
				if err := mirror.Write(p); err != nil {
					log.Printf("[aggregator] mirror: %v", err)
				}
			}
		},
		OnStale:     func() { prom.RecordsStale.Inc() },
		OnAlertSent: func() { prom.AlertsSent.Inc() },
		OnSeriesSize: func(name string, records int) {
			prom.SeriesRecords.WithLabelValues(name).Set(float64(records))
		},
	})
	for _, group := range registry.Groups() {
		for _, s := range registry.Series(group) {
			day, err := archive.LastDay(group, s.Name())
			if err != nil {
				log.Printf("[aggregator] archive seed %s/%s: %v", group, s.Name(), err)
				continue
			}
			agg.SeedArchived(group, s.Name(), day)
		}
	}

	sidecar.Start()
	if err := srv.Start(); err != nil {
		log.Fatalf("[aggregator] ingest start: %v", err)
	}

	// A panic anywhere in the supervisor loop becomes a crash report.
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[aggregator] panic: %v", r)
				crashCtx, crashCancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer crashCancel()
				if err := alerter.Crash(crashCtx, fmt.Errorf("%v", r)); err != nil {
					log.Printf("[aggregator] crash report: %v", err)
				}
				os.Exit(1)
			}
		}()
		agg.Run(ctx)
	}()

	<-sigCh
	log.Println("[aggregator] shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[aggregator] ingest shutdown: %v", err)
	}
	sidecar.Stop(shutdownCtx)
	close(summaryCh)
	log.Println("[aggregator] bye")
}
