package supervisor

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"sensornet/internal/alert"
	"sensornet/internal/ingest"
	"sensornet/internal/model"
	"sensornet/internal/series"
	"sensornet/internal/store/sqlite"
	"sensornet/internal/timeutil"
	"sensornet/internal/web"
)

const (
	// DefaultTickInterval is the aggregator evaluation cadence.
	DefaultTickInterval = time.Minute

	// DefaultPlotInterval rate-limits plot rebuilds.
	DefaultPlotInterval = 10 * time.Minute
)

// AggregatorConfig wires the aggregator loop.
type AggregatorConfig struct {
	Registry *Registry
	Inbox    <-chan ingest.Envelope
	Alerter  *alert.Alerter

	// Snapshots is optional; when set, every tick rewrites one HTML
	// fragment per group.
	Snapshots *web.SnapshotWriter

	// Plot is called at most once per PlotInterval; rendering is external.
	Plot func() error

	// Archive receives newly finalized daily summaries. Optional.
	Archive chan<- sqlite.Entry

	// Publish is called for every accepted record (redis mirror, live hub,
	// metrics). Optional.
	Publish func(model.Payload)

	TickInterval time.Duration
	PlotInterval time.Duration

	// Metrics hooks (optional)
	OnStale      func()
	OnAlertSent  func()
	OnSeriesSize func(name string, records int)

	Now func() time.Time
}

// Aggregator drives the per-tick evaluation: drain the inbox, save records
// into their series, classify every series, publish snapshots and flush the
// alerter. It is the only goroutine touching series state.
type Aggregator struct {
	cfg         AggregatorConfig
	plotLimiter *timeutil.Limiter
	archived    map[string]time.Time // "group/name" -> last archived day
	now         func() time.Time
}

// NewAggregator creates the loop.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.PlotInterval <= 0 {
		cfg.PlotInterval = DefaultPlotInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Aggregator{
		cfg:         cfg,
		plotLimiter: timeutil.NewLimiter(cfg.PlotInterval),
		archived:    make(map[string]time.Time),
		now:         cfg.Now,
	}
}

// SeedArchived marks the last archived day of a series, so a restart does
// not re-export history the archive already holds.
func (a *Aggregator) SeedArchived(group, name string, day time.Time) {
	if !day.IsZero() {
		a.archived[group+"/"+name] = day
	}
}

// Run blocks until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	log.Printf("[supervisor] aggregator loop started, tick %s", a.cfg.TickInterval)
	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[supervisor] aggregator loop stopped")
			return
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Tick runs one evaluation round.
func (a *Aggregator) Tick(ctx context.Context) {
	start := a.now()
	saved := a.drain()
	a.classify()
	a.snapshot()
	if a.cfg.Plot != nil && a.plotLimiter.Allow() {
		if err := a.cfg.Plot(); err != nil {
			log.Printf("[supervisor] plot rebuild: %v", err)
		}
	}
	pending := a.cfg.Alerter.Pending()
	if err := a.cfg.Alerter.SendAll(ctx); err != nil {
		log.Printf("[supervisor] alert delivery: %v", err)
	} else if pending > 0 && a.cfg.OnAlertSent != nil {
		a.cfg.OnAlertSent()
	}
	a.cfg.Alerter.Expire()
	a.archiveSummaries()
	log.Printf("[supervisor] tick done in %.3fs, %d new records",
		a.now().Sub(start).Seconds(), saved)
}

// drain consumes every queued envelope without blocking.
func (a *Aggregator) drain() int {
	saved := 0
	for {
		select {
		case e, ok := <-a.cfg.Inbox:
			if !ok {
				return saved
			}
			a.save(e)
			saved++
		default:
			return saved
		}
	}
}

func (a *Aggregator) save(e ingest.Envelope) {
	s, ok := a.cfg.Registry.Lookup(e.Group, e.Name)
	if !ok {
		log.Printf("[supervisor] no series for %s/%s", e.Group, e.Name)
		return
	}
	if err := s.Save(e.Record); err != nil {
		if errors.Is(err, series.ErrOlderThanPrevious) {
			log.Printf("[supervisor] drop record: %v", err)
			if a.cfg.OnStale != nil {
				a.cfg.OnStale()
			}
			return
		}
		log.Printf("[supervisor] save %s/%s: %v", e.Group, e.Name, err)
		return
	}
	if a.cfg.Publish != nil {
		a.cfg.Publish(model.Payload{
			Group:     e.Group,
			Name:      e.Name,
			Timestamp: e.Record.Timestamp.Unix(),
			Value:     e.Record.Value,
		})
	}
}

// classify queues failure and warning messages for every series and reports
// the retained window sizes.
func (a *Aggregator) classify() {
	for _, s := range a.cfg.Registry.All() {
		if msg, bad := s.Error(); bad {
			a.cfg.Alerter.Queue(msg, alert.KindFailure)
		}
		if msg, bad := s.Warning(); bad {
			a.cfg.Alerter.Queue(msg, alert.KindValue)
		}
		if a.cfg.OnSeriesSize != nil {
			a.cfg.OnSeriesSize(s.Name(), s.Len())
		}
	}
}

// snapshot rewrites the per-group HTML fragments.
func (a *Aggregator) snapshot() {
	if a.cfg.Snapshots == nil {
		return
	}
	for _, group := range a.cfg.Registry.Groups() {
		var texts []string
		for _, s := range a.cfg.Registry.Series(group) {
			texts = append(texts, strings.Join(s.Text(), "\n"))
		}
		if err := a.cfg.Snapshots.WriteGroup(group, texts); err != nil {
			log.Printf("[supervisor] snapshot %s: %v", group, err)
		}
	}
}

// archiveSummaries exports every summary newer than the per-series marker.
func (a *Aggregator) archiveSummaries() {
	if a.cfg.Archive == nil {
		return
	}
	for _, group := range a.cfg.Registry.Groups() {
		for _, s := range a.cfg.Registry.Series(group) {
			key := group + "/" + s.Name()
			last := a.archived[key]
			for _, sum := range s.Summaries() {
				if !sum.Date.After(last) {
					continue
				}
				a.cfg.Archive <- sqlite.Entry{
					Group:   group,
					Name:    s.Name(),
					Kind:    s.Kind(),
					Summary: sum,
				}
				last = sum.Date
			}
			a.archived[key] = last
		}
	}
}
