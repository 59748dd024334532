// cmd/station — sensor station daemon.
//
// Samples the local sensors listed for this station in the device
// descriptor and delivers the readings to the aggregator through the
// durable outbox.
//
// Usage: station <station-id>
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"sensornet/config"
	"sensornet/internal/logger"
	"sensornet/internal/metrics"
	"sensornet/internal/sender"
	"sensornet/internal/supervisor"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("station", slog.LevelInfo)

	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <station-id>\n", os.Args[0])
		os.Exit(2)
	}
	stationID, err := strconv.Atoi(os.Args[1])
	if err != nil {
		log.Fatalf("[station] station id %q: %v", os.Args[1], err)
	}
	log.Printf("[station] starting as station %d...", stationID)

	cfg := config.Load()
	devices, err := config.LoadDevices(cfg.SensorFile)
	if err != nil {
		log.Fatalf("[station] %v", err)
	}
	var mine []config.Device
	for _, d := range devices {
		if d.Input.Station == stationID {
			mine = append(mine, d)
		}
	}
	if len(mine) == 0 {
		log.Fatalf("[station] no devices for station %d in %s", stationID, cfg.SensorFile)
	}

	// ---- Metrics sidecar ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	sidecar := metrics.NewServer(cfg.SidecarAddr, health)

	// ---- Buffered transport ----
	token := cfg.StationToken
	if token == "" {
		token = firstLine(cfg.TokenFile)
	}
	snd, err := sender.New(sender.Config{
		URL:           cfg.ServerURL,
		ServerCert:    cfg.ServerCert,
		ClientCert:    cfg.StationCert,
		ClientKey:     cfg.StationKey,
		Token:         token,
		BufferPath:    cfg.BufferPath,
		RetryRejected: cfg.RetryRejected,
	})
	if err != nil {
		log.Fatalf("[station] sender: %v", err)
	}
	snd.OnQueued = func(depth int) { prom.OutboxDepth.Set(float64(depth)) }
	snd.OnSent = func(count int) {
		prom.SendsTotal.Add(float64(count))
		prom.OutboxDepth.Set(float64(snd.Pending()))
	}
	snd.OnPostpone = func() { prom.SendPostpones.Inc() }
	snd.OnDropped = func() { prom.SendDrops.Inc() }

	// ---- Sampling loop ----
	station, err := supervisor.NewStation(supervisor.StationConfig{
		Devices:   mine,
		WorkDir:   cfg.DataDir,
		Send:      snd.Send,
		Interval:  cfg.SampleInterval,
		OnFailure: func(device string) { prom.SampleFailures.WithLabelValues(device).Inc() },
	})
	if err != nil {
		log.Fatalf("[station] %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sidecar.Start()
	if err := snd.Start(); err != nil {
		log.Fatalf("[station] %v", err)
	}
	go station.Run(ctx)

	<-sigCh
	log.Println("[station] shutdown signal received")
	cancel()
	snd.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	sidecar.Stop(shutdownCtx)
	log.Println("[station] bye")
}

// firstLine reads the leading line of a file, or "" when unreadable.
func firstLine(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if sc.Scan() {
		return strings.TrimSpace(sc.Text())
	}
	return ""
}
