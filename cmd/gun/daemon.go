package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/healthcheck"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"

	"github.com/llfourn/gun-ng/contract"
	"github.com/llfourn/gun-ng/walletadapter"
)

// syncMetrics are the gun-specific Prometheus series `gun daemon`
// exposes; bet counts by state are gauges re-set on every tick rather
// than incremented, since they describe current store contents, not an
// event rate.
type syncMetrics struct {
	syncTotal    prometheus.Counter
	syncFailures prometheus.Counter
	syncSeconds  prometheus.Histogram
	betsByState  *prometheus.GaugeVec
}

func newSyncMetrics() *syncMetrics {
	return &syncMetrics{
		syncTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gun_sync_runs_total",
			Help: "Total number of engine Sync passes attempted.",
		}),
		syncFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gun_sync_failures_total",
			Help: "Total number of engine Sync passes that returned an error.",
		}),
		syncSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gun_sync_duration_seconds",
			Help:    "Wall-clock duration of each engine Sync pass.",
			Buckets: prometheus.DefBuckets,
		}),
		betsByState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gun_bets_by_state",
			Help: "Number of bets currently in each state.",
		}, []string{"state"}),
	}
}

// syncResult is what each daemon tick feeds through the fan-out queue:
// the log/metrics consumer doesn't touch the engine directly, so it can
// run concurrently with the next tick's Sync call without locking.
type syncResult struct {
	duration time.Duration
	err      error
}

// cmdDaemon implements `gun daemon`: a long-running process that syncs
// the bet store on a fixed interval, reports health of the chain
// backend, and exposes Prometheus metrics.
func cmdDaemon(c *cli.Context) error {
	dataDir := c.GlobalString("d")
	pass, err := promptPassphrase("Wallet passphrase: ")
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	app, err := newAppCtx(dataDir, c.GlobalString("torsocks"), pass)
	if err != nil {
		return translateErr(err)
	}
	defer app.close()

	interval := time.Duration(c.Int("interval")) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	metrics := newSyncMetrics()
	metricsAddr := c.String("metrics-addr")
	var metricsSrv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server stopped: %v", err)
			}
		}()
		defer metricsSrv.Close()
		log.Infof("metrics listening on %s", metricsAddr)
	}

	resultQueue := queue.NewConcurrentQueue(20)
	resultQueue.Start()
	defer resultQueue.Stop()

	done := make(chan struct{})
	go consumeSyncResults(resultQueue, metrics, done)
	defer close(done)

	monitor := startHealthMonitor(app)
	if monitor != nil {
		defer monitor.Stop()
	}

	t := ticker.New(interval)
	t.Resume()
	defer t.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	log.Infof("gun daemon syncing every %s", interval)

	for {
		select {
		case <-t.Ticks():
			start := time.Now()
			err := app.engine.Sync(contextBackground())
			resultQueue.ChanIn() <- syncResult{duration: time.Since(start), err: err}
			recordBetStateGauges(app, metrics)
		case sig := <-sigCh:
			log.Infof("received %s, shutting down", sig)
			return nil
		}
	}
}

// consumeSyncResults drains the fan-out queue gun's daemon loop feeds
// its tick results through, updating metrics and logging failures --
// split out from the tick loop itself so a slow metrics update never
// delays the next Sync.
func consumeSyncResults(q *queue.ConcurrentQueue, metrics *syncMetrics, done <-chan struct{}) {
	for {
		select {
		case item, ok := <-q.ChanOut():
			if !ok {
				return
			}
			result := item.(syncResult)
			metrics.syncTotal.Inc()
			metrics.syncSeconds.Observe(result.duration.Seconds())
			if result.err != nil {
				metrics.syncFailures.Inc()
				log.Warnf("sync failed: %v", result.err)
			} else {
				log.Debugf("sync completed in %s", result.duration)
			}
		case <-done:
			return
		}
	}
}

// recordBetStateGauges re-derives the gun_bets_by_state gauge from the
// store's current contents, so a gauge never drifts from reality even
// if an individual transition's metric update were ever missed.
func recordBetStateGauges(app *appCtx, metrics *syncMetrics) {
	bets, err := app.engine.ListBets()
	if err != nil {
		return
	}
	counts := make(map[string]float64)
	for _, b := range bets {
		counts[b.State.String()]++
	}
	for _, state := range []contract.State{
		contract.StateProposing, contract.StateOffered, contract.StateUnconfirmed,
		contract.StateConfirmed, contract.StateWon, contract.StateLost,
		contract.StateClaiming, contract.StateClaimed, contract.StateCancelling,
		contract.StateCancelled, contract.StateCancelledDoubleSpent,
		contract.StateOracleMisbehaved,
	} {
		metrics.betsByState.WithLabelValues(state.String()).Set(counts[state.String()])
	}
}

// startHealthMonitor wires a periodic check of the chain backend
// through lnd's healthcheck.Monitor, logging an error once it has
// failed enough consecutive attempts to be considered down rather than
// merely slow. No oracle check is registered.
func startHealthMonitor(app *appCtx) *healthcheck.Monitor {
	chainCheck := healthcheck.NewObservation(
		"chain backend",
		func() error {
			// Any answer from the backend, "not found" included, shows
			// that it is reachable.
			_, _, err := app.wallet.GetTx(contextBackground(), chainhash.Hash{})
			if errors.Is(err, walletadapter.ErrTxNotFound) {
				return nil
			}
			return err
		},
		time.Minute,
		20*time.Second,
		time.Second,
		2,
	)

	monitor := healthcheck.NewMonitor(&healthcheck.Config{
		Checks: []*healthcheck.Observation{chainCheck},
		Shutdown: func(reason string, args ...interface{}) {
			log.Errorf(reason, args...)
		},
	})

	if err := monitor.Start(); err != nil {
		log.Warnf("health monitor failed to start: %v", err)
		return nil
	}
	return monitor
}
