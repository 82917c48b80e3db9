package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/02loveslollipop/waterland-gwin-import/services/importer/internal/models"
)

// ValidationError explains why a raw record was dropped.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid record: " + e.Reason
}

// Validation failure reasons.
const (
	ReasonMissingSite      = "missing site descriptor"
	ReasonEmptyPayload     = "missing sensor payload"
	ReasonMissingProjectID = "missing project_site_id"
	ReasonMissingDevice    = "missing device_name"
	ReasonMissingTimestamp = "missing timestamp"
	ReasonTransformFailed  = "transform failed"
)

// Validate checks that a raw record carries the identity and timestamp
// fields a transformed record is built from.
func Validate(rec models.RawRecord) error {
	switch {
	case rec.Site == nil:
		return &ValidationError{Reason: ReasonMissingSite}
	case len(rec.Payload) == 0:
		return &ValidationError{Reason: ReasonEmptyPayload}
	case rec.Site.ProjectSiteID.String() == "":
		return &ValidationError{Reason: ReasonMissingProjectID}
	case !truthy(rec.Payload["device_name"]):
		return &ValidationError{Reason: ReasonMissingDevice}
	case !truthy(rec.Payload["timestamp"]):
		return &ValidationError{Reason: ReasonMissingTimestamp}
	}
	return nil
}

// Options tunes the output schema.
type Options struct {
	// IncludePublishedAt adds publishedAt when the raw timestamp parses.
	IncludePublishedAt bool
	// Location is used for raw timestamps without a zone. Defaults to UTC.
	Location *time.Location
}

// Stats summarises one Process call. Invalid always equals Total - Valid.
type Stats struct {
	Total   int
	Valid   int
	Invalid int
	Reasons map[string]int
}

// Processor validates raw records and maps them onto the dashboard schema.
type Processor struct {
	opts   Options
	logger kitlog.Logger
}

// NewProcessor returns a Processor.
func NewProcessor(opts Options, logger kitlog.Logger) *Processor {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Processor{
		opts:   opts,
		logger: kitlog.With(logger, "module", "transform"),
	}
}

// StationID prefers the payload device_name, then the site name up to its
// first space, then the project site identifier.
func StationID(rec models.RawRecord) string {
	if v, ok := rec.Field("device_name"); ok && truthy(v) {
		if id := text(v); id != "" {
			return id
		}
	}
	if rec.Site != nil {
		name := rec.Site.Name.String()
		if name != "" {
			prefix, _, _ := strings.Cut(name, " ")
			return prefix
		}
	}
	return projectSiteID(rec)
}

// WaterLevel reads water_depth whenever it is defined, even when zero, and
// falls back to water_level.
func WaterLevel(rec models.RawRecord) float64 {
	if v, ok := rec.Field("water_depth"); ok {
		return ToFloat(v)
	}
	v, _ := rec.Field("water_level")
	return ToFloat(v)
}

// AC is the battery voltage divided by 100, floored; 0 when voltage is absent.
func AC(rec models.RawRecord) int64 {
	v, ok := rec.Field("voltage")
	if !ok || !truthy(v) {
		return 0
	}
	return int64(math.Floor(ToFloat(v) / 100))
}

func projectSiteID(rec models.RawRecord) string {
	if v, ok := rec.Field("project_site_id"); ok && truthy(v) {
		return text(v)
	}
	if rec.Site != nil {
		return rec.Site.ProjectSiteID.String()
	}
	return ""
}

func coordinate(raw models.FlexString) float64 {
	s := raw.String()
	if s == "" {
		return 0
	}
	return ToFloat(s)
}

// Transform maps a validated raw record onto the dashboard schema.
func (p *Processor) Transform(rec models.RawRecord) (models.TransformedRecord, error) {
	stationID := StationID(rec)

	var site models.Site
	if rec.Site != nil {
		site = *rec.Site
	}

	location := site.Name.String()
	if location == "" {
		location = stationID
	}

	waterLevel := WaterLevel(rec)
	voltage, _ := rec.Field("voltage")
	rain, _ := rec.Field("hko_rain_data")
	signal, _ := rec.Field("signal_value")
	timestamp, _ := rec.Field("timestamp")
	deviceType, _ := rec.Field("device_type")

	var projectID any
	if v, ok := rec.Field("project_site_id"); ok {
		projectID = v
	} else if id := site.ProjectSiteID.String(); id != "" {
		projectID = id
	}

	metrics := models.Metrics{
		WaterLevel:     waterLevel,
		BatteryVoltage: ToFloat(voltage),
		Version:        models.MetricsVersion,
		RainGaugeDrop:  ToFloat(rain),
		AC:             AC(rec),
		RSSI:           ToFloat(signal),
		Ultrasonic:     waterLevel,
		Timestamp:      timestamp,
		DeviceType:     deviceType,
		ProjectSiteID:  projectID,
	}

	objectJSON, err := json.Marshal(metrics)
	if err != nil {
		return models.TransformedRecord{}, fmt.Errorf("marshal metrics: %w", err)
	}

	out := models.TransformedRecord{
		StationID:  stationID,
		DeviceName: stationID,
		DevEUI:     stationID,
		Tags: models.Tags{
			StationID:    stationID,
			Latitude:     coordinate(site.Latitude),
			Longitude:    coordinate(site.Longitude),
			Location:     location,
			IsCameraOnly: false,
		},
		ObjectJSON: string(objectJSON),
	}

	if p.opts.IncludePublishedAt {
		if t, ok := ParseTimestamp(timestamp, p.opts.Location); ok {
			published := FormatISO(t)
			out.PublishedAt = &published
		}
	}

	level.Debug(p.logger).Log(
		"msg", "record transformed to SmartDrainage format",
		"stationID", out.StationID,
		"location", out.Tags.Location,
		"waterLevel", waterLevel,
	)

	return out, nil
}

// ProcessRecord validates and transforms one record. Any failure, including
// a panic while transforming, is logged and reported as ok == false.
func (p *Processor) ProcessRecord(rec models.RawRecord) (models.TransformedRecord, bool) {
	_, out, ok := p.processRecord(rec)
	return out, ok
}

func (p *Processor) processRecord(rec models.RawRecord) (reason string, out models.TransformedRecord, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			level.Error(p.logger).Log(
				"msg", "error processing individual record",
				"err", fmt.Sprint(r),
				"deviceName", text(rec.Payload["device_name"]),
			)
			reason, out, ok = ReasonTransformFailed, models.TransformedRecord{}, false
		}
	}()

	if err := Validate(rec); err != nil {
		level.Warn(p.logger).Log(
			"msg", "record validation failed",
			"reason", err.(*ValidationError).Reason,
			"deviceName", text(rec.Payload["device_name"]),
			"projectSiteId", projectSiteID(rec),
		)
		return err.(*ValidationError).Reason, models.TransformedRecord{}, false
	}

	out, err := p.Transform(rec)
	if err != nil {
		level.Error(p.logger).Log(
			"msg", "error processing individual record",
			"err", err,
			"deviceName", text(rec.Payload["device_name"]),
		)
		return ReasonTransformFailed, models.TransformedRecord{}, false
	}

	return "", out, true
}

// Process transforms every record it can and drops the rest. It never
// fails; the returned slice is empty rather than nil when nothing is valid.
func (p *Processor) Process(records []models.RawRecord) ([]models.TransformedRecord, Stats) {
	level.Info(p.logger).Log("msg", "processing data with validation and transformation", "recordCount", len(records))

	stats := Stats{Total: len(records), Reasons: map[string]int{}}
	out := make([]models.TransformedRecord, 0, len(records))

	for _, rec := range records {
		reason, transformed, ok := p.processRecord(rec)
		if !ok {
			stats.Reasons[reason]++
			continue
		}
		out = append(out, transformed)
	}

	stats.Valid = len(out)
	stats.Invalid = stats.Total - stats.Valid

	level.Info(p.logger).Log(
		"msg", "data processed successfully",
		"total", stats.Total,
		"valid", stats.Valid,
		"invalid", stats.Invalid,
	)

	return out, stats
}
