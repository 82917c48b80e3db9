package cycle

import (
	"context"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"

	"github.com/02loveslollipop/waterland-gwin-import/services/importer/internal/ingress"
	"github.com/02loveslollipop/waterland-gwin-import/services/importer/internal/metrics"
	"github.com/02loveslollipop/waterland-gwin-import/services/importer/internal/models"
	"github.com/02loveslollipop/waterland-gwin-import/services/importer/internal/transform"
	"github.com/02loveslollipop/waterland-gwin-import/services/importer/internal/waterland"
)

// Fetcher retrieves raw readings.
type Fetcher interface {
	Fetch(ctx context.Context) (waterland.Result, error)
}

// Processor validates and transforms raw readings.
type Processor interface {
	Process(records []models.RawRecord) ([]models.TransformedRecord, transform.Stats)
}

// Importer delivers a transformed batch.
type Importer interface {
	Import(ctx context.Context, records []models.TransformedRecord) (ingress.Result, error)
}

// Summary describes a finished cycle.
type Summary struct {
	CycleID      string
	Sites        int
	SiteFailures int
	Fetched      int
	Valid        int
	Invalid      int
	Imported     int
	Attempts     int
	DryRun       bool
	Duration     time.Duration
}

// Config holds the optional behaviour of a Runner.
type Config struct {
	DryRun         bool
	PushgatewayURL string
	PushJob        string
}

// Runner sequences fetch, process and import for one cycle.
type Runner struct {
	cfg       Config
	fetcher   Fetcher
	processor Processor
	importer  Importer
	logger    kitlog.Logger
	now       func() time.Time
}

// NewRunner returns a Runner.
func NewRunner(cfg Config, fetcher Fetcher, processor Processor, importer Importer, logger kitlog.Logger) *Runner {
	if cfg.PushJob == "" {
		cfg.PushJob = "waterland_import"
	}
	return &Runner{
		cfg:       cfg,
		fetcher:   fetcher,
		processor: processor,
		importer:  importer,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes one cycle. Only a failed site index fetch or an exhausted
// import escapes as an error.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := r.now()
	summary := Summary{CycleID: uuid.NewString(), DryRun: r.cfg.DryRun}
	logger := kitlog.With(r.logger, "cycle", summary.CycleID)
	m := metrics.NewCycle()

	err := r.run(ctx, logger, m, &summary)

	summary.Duration = r.now().Sub(start)
	m.ObserveOutcome(summary.Duration, err, r.now())
	r.push(ctx, logger, m, err == nil)

	return summary, err
}

func (r *Runner) run(ctx context.Context, logger kitlog.Logger, m *metrics.Cycle, summary *Summary) error {
	level.Info(logger).Log("msg", "starting import cycle", "dryRun", r.cfg.DryRun)

	fetched, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return err
	}
	summary.Sites = fetched.Sites
	summary.SiteFailures = fetched.Failed
	summary.Fetched = len(fetched.Records)
	m.ObserveFetch(fetched.Sites, fetched.Failed, len(fetched.Records))

	records, stats := r.processor.Process(fetched.Records)
	summary.Valid = stats.Valid
	summary.Invalid = stats.Invalid
	m.ObserveProcess(stats.Valid, stats.Invalid)

	if r.cfg.DryRun {
		for _, rec := range records {
			level.Info(logger).Log("msg", "dry-run: would import record", "stationID", rec.StationID, "objectJSON", rec.ObjectJSON)
		}
		level.Info(logger).Log("msg", "dry-run: skipping import", "recordCount", len(records))
		return nil
	}

	res, err := r.importer.Import(ctx, records)
	summary.Attempts = res.Attempts
	m.ObserveImport(res.RecordCount, res.Attempts)
	if err != nil {
		return err
	}
	summary.Imported = res.RecordCount

	return nil
}

func (r *Runner) push(ctx context.Context, logger kitlog.Logger, m *metrics.Cycle, succeeded bool) {
	if r.cfg.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := m.Push(ctx, r.cfg.PushgatewayURL, r.cfg.PushJob, succeeded); err != nil {
		level.Warn(logger).Log("msg", "failed to push cycle metrics", "err", err)
	}
}
