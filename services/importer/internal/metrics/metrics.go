package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "waterland_import"

// Cycle collects the gauges describing a single import cycle. Each cycle gets
// its own registry so the pushed group only ever holds the latest run.
type Cycle struct {
	registry *prometheus.Registry

	sites           prometheus.Gauge
	siteFailures    prometheus.Gauge
	recordsFetched  prometheus.Gauge
	recordsValid    prometheus.Gauge
	recordsInvalid  prometheus.Gauge
	recordsImported prometheus.Gauge
	importAttempts  prometheus.Gauge
	duration        prometheus.Gauge
	success         prometheus.Gauge
	lastSuccess     prometheus.Gauge
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

// NewCycle returns a Cycle with all gauges registered.
func NewCycle() *Cycle {
	c := &Cycle{
		registry:        prometheus.NewRegistry(),
		sites:           gauge("sites", "Sites listed by the WaterLand token index."),
		siteFailures:    gauge("site_failures", "Sites whose latest reading could not be fetched."),
		recordsFetched:  gauge("records_fetched", "Raw readings fetched from WaterLand."),
		recordsValid:    gauge("records_valid", "Readings that passed validation."),
		recordsInvalid:  gauge("records_invalid", "Readings dropped by validation."),
		recordsImported: gauge("records_imported", "Readings accepted by the ingestion endpoint."),
		importAttempts:  gauge("import_attempts", "POST attempts used by the last import."),
		duration:        gauge("duration_seconds", "Wall time of the last cycle."),
		success:         gauge("success", "1 when the last cycle succeeded, 0 otherwise."),
		lastSuccess:     gauge("last_success_timestamp_seconds", "Unix time of the last successful cycle."),
	}

	c.registry.MustRegister(
		c.sites,
		c.siteFailures,
		c.recordsFetched,
		c.recordsValid,
		c.recordsInvalid,
		c.recordsImported,
		c.importAttempts,
		c.duration,
		c.success,
	)

	return c
}

// Registry exposes the underlying registry.
func (c *Cycle) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveFetch records the fetch stage outcome.
func (c *Cycle) ObserveFetch(sites, failed, records int) {
	c.sites.Set(float64(sites))
	c.siteFailures.Set(float64(failed))
	c.recordsFetched.Set(float64(records))
}

// ObserveProcess records the transform stage outcome.
func (c *Cycle) ObserveProcess(valid, invalid int) {
	c.recordsValid.Set(float64(valid))
	c.recordsInvalid.Set(float64(invalid))
}

// ObserveImport records the import stage outcome.
func (c *Cycle) ObserveImport(imported, attempts int) {
	c.recordsImported.Set(float64(imported))
	c.importAttempts.Set(float64(attempts))
}

// ObserveOutcome records how the cycle ended. The last-success gauge is only
// registered once a cycle succeeds, so a failed run never pushes a zero
// timestamp over the previous success.
func (c *Cycle) ObserveOutcome(d time.Duration, err error, now time.Time) {
	c.duration.Set(d.Seconds())
	if err != nil {
		c.success.Set(0)
		return
	}
	c.success.Set(1)
	c.lastSuccess.Set(float64(now.Unix()))
	_ = c.registry.Register(c.lastSuccess)
}

// Push sends the cycle gauges to a Prometheus Pushgateway under job,
// replacing the previous group. Push (PUT) is used when the cycle succeeded
// and Add (POST) otherwise, which keeps the previously pushed last-success
// timestamp.
func (c *Cycle) Push(ctx context.Context, url, job string, succeeded bool) error {
	pusher := push.New(url, job).Gatherer(c.registry)
	if succeeded {
		return pusher.PushContext(ctx)
	}
	return pusher.AddContext(ctx)
}
