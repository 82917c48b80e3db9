package transform_test

import (
	"encoding/json"
	"testing"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/02loveslollipop/waterland-gwin-import/services/importer/internal/models"
	"github.com/02loveslollipop/waterland-gwin-import/services/importer/internal/transform"
)

func site() *models.Site {
	return &models.Site{
		Name:          "RK005 (Lin Shing Road 2)",
		Latitude:      "22.3354",
		Longitude:     "114.1712",
		ProjectSiteID: "501",
	}
}

func validRecord() models.RawRecord {
	return models.RawRecord{
		Site: site(),
		Payload: map[string]any{
			"device_name":     "RK005",
			"project_site_id": "501",
			"timestamp":       "2024-05-01 10:00:00",
			"water_depth":     "0.42",
			"voltage":         "250",
			"signal_value":    "-71",
			"hko_rain_data":   "1.5",
			"device_type":     "ultrasonic",
		},
	}
}

func newProcessor() *transform.Processor {
	return transform.NewProcessor(transform.Options{IncludePublishedAt: true}, kitlog.NewNopLogger())
}

func decodeMetrics(t *testing.T, rec models.TransformedRecord) map[string]any {
	t.Helper()
	var m map[string]any
	require.Nil(t, json.Unmarshal([]byte(rec.ObjectJSON), &m))
	return m
}

func TestTransform(t *testing.T) {
	out, err := newProcessor().Transform(validRecord())
	require.Nil(t, err)

	assert.Equal(t, "RK005", out.StationID)
	assert.Equal(t, "RK005", out.DeviceName)
	assert.Equal(t, "RK005", out.DevEUI)
	assert.Equal(t, models.Tags{
		StationID:    "RK005",
		Latitude:     22.3354,
		Longitude:    114.1712,
		Location:     "RK005 (Lin Shing Road 2)",
		IsCameraOnly: false,
	}, out.Tags)
	require.NotNil(t, out.PublishedAt)
	assert.Equal(t, "2024-05-01T10:00:00.000Z", *out.PublishedAt)

	expected := `{"waterLevel":0.42,"batteryVoltage":250,"version":2,"rainGaugeDrop":1.5,"flowmeterLevel":0,"flowmeterFlow":0,"flowmeterVelocity":0,"pressure":0,"tide":0,"ac":2,"rssi":-71,"ultrasonic":0.42,"moisture":0,"timestamp":"2024-05-01 10:00:00","deviceType":"ultrasonic","projectSiteId":"501"}`
	assert.Equal(t, expected, out.ObjectJSON)
}

func TestTransformedRecordJSONShape(t *testing.T) {
	out, err := transform.NewProcessor(transform.Options{}, kitlog.NewNopLogger()).Transform(validRecord())
	require.Nil(t, err)

	b, err := json.Marshal(out)
	require.Nil(t, err)

	var m map[string]any
	require.Nil(t, json.Unmarshal(b, &m))
	assert.NotContains(t, m, "publishedAt")
	assert.IsType(t, "", m["objectJSON"])
	assert.Equal(t, map[string]any{
		"StationID":    "RK005",
		"Latitude":     22.3354,
		"Longitude":    114.1712,
		"Location":     "RK005 (Lin Shing Road 2)",
		"isCameraOnly": false,
	}, m["tags"])
}

func TestStationID(t *testing.T) {
	testcases := []struct {
		label    string
		record   models.RawRecord
		expected string
	}{
		{
			label:    "device name wins",
			record:   models.RawRecord{Site: site(), Payload: map[string]any{"device_name": "DEV-1"}},
			expected: "DEV-1",
		},
		{
			label:    "site name up to first space",
			record:   models.RawRecord{Site: site(), Payload: map[string]any{"device_name": ""}},
			expected: "RK005",
		},
		{
			label:    "site name without space",
			record:   models.RawRecord{Site: &models.Site{Name: "RK010"}, Payload: map[string]any{}},
			expected: "RK010",
		},
		{
			label:    "project id fallback from payload",
			record:   models.RawRecord{Site: &models.Site{ProjectSiteID: "501"}, Payload: map[string]any{"project_site_id": "777"}},
			expected: "777",
		},
		{
			label:    "project id fallback from site",
			record:   models.RawRecord{Site: &models.Site{ProjectSiteID: "501"}, Payload: map[string]any{}},
			expected: "501",
		},
		{
			label:    "numeric device name",
			record:   models.RawRecord{Site: site(), Payload: map[string]any{"device_name": float64(1234)}},
			expected: "1234",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.label, func(t *testing.T) {
			assert.Equal(t, tc.expected, transform.StationID(tc.record))
		})
	}
}

func TestWaterLevel(t *testing.T) {
	testcases := []struct {
		label    string
		payload  map[string]any
		expected float64
	}{
		{"depth zero beats level", map[string]any{"water_depth": "0", "water_level": "5"}, 0},
		{"depth numeric zero beats level", map[string]any{"water_depth": float64(0), "water_level": "5"}, 0},
		{"depth empty string beats level", map[string]any{"water_depth": "", "water_level": "5"}, 0},
		{"null depth falls back", map[string]any{"water_depth": nil, "water_level": "5"}, 5},
		{"absent depth falls back", map[string]any{"water_level": "5.25"}, 5.25},
		{"neither", map[string]any{}, 0},
	}

	for _, tc := range testcases {
		t.Run(tc.label, func(t *testing.T) {
			assert.Equal(t, tc.expected, transform.WaterLevel(models.RawRecord{Payload: tc.payload}))
		})
	}
}

func TestAC(t *testing.T) {
	testcases := []struct {
		label    string
		payload  map[string]any
		expected int64
	}{
		{"string voltage", map[string]any{"voltage": "250"}, 2},
		{"numeric voltage", map[string]any{"voltage": float64(399.9)}, 3},
		{"below hundred", map[string]any{"voltage": "99"}, 0},
		{"absent", map[string]any{}, 0},
		{"null", map[string]any{"voltage": nil}, 0},
		{"empty", map[string]any{"voltage": ""}, 0},
		{"non numeric", map[string]any{"voltage": "n/a"}, 0},
	}

	for _, tc := range testcases {
		t.Run(tc.label, func(t *testing.T) {
			assert.Equal(t, tc.expected, transform.AC(models.RawRecord{Payload: tc.payload}))
		})
	}
}

func TestCoordinatesDefaultToZero(t *testing.T) {
	rec := validRecord()
	rec.Site.Latitude = ""
	rec.Site.Longitude = "abc"

	out, err := newProcessor().Transform(rec)
	require.Nil(t, err)
	assert.Equal(t, float64(0), out.Tags.Latitude)
	assert.Equal(t, float64(0), out.Tags.Longitude)
}

func TestTransformOmitsAbsentPassthroughFields(t *testing.T) {
	rec := validRecord()
	delete(rec.Payload, "device_type")
	delete(rec.Payload, "voltage")
	delete(rec.Payload, "project_site_id")
	rec.Site.ProjectSiteID = ""

	out, err := newProcessor().Transform(rec)
	require.Nil(t, err)

	m := decodeMetrics(t, out)
	assert.NotContains(t, m, "deviceType")
	assert.NotContains(t, m, "projectSiteId")
	assert.Equal(t, float64(0), m["ac"])
	assert.Equal(t, float64(0), m["batteryVoltage"])
}

func TestTransformUnparseableTimestampSkipsPublishedAt(t *testing.T) {
	rec := validRecord()
	rec.Payload["timestamp"] = "sometime"

	out, err := newProcessor().Transform(rec)
	require.Nil(t, err)
	assert.Nil(t, out.PublishedAt)
	assert.Equal(t, "sometime", decodeMetrics(t, out)["timestamp"])
}

func TestTransformPublishedAtLocation(t *testing.T) {
	p := transform.NewProcessor(transform.Options{
		IncludePublishedAt: true,
		Location:           time.FixedZone("HKT", 8*3600),
	}, kitlog.NewNopLogger())

	out, err := p.Transform(validRecord())
	require.Nil(t, err)
	require.NotNil(t, out.PublishedAt)
	assert.Equal(t, "2024-05-01T02:00:00.000Z", *out.PublishedAt)
}

func TestValidate(t *testing.T) {
	testcases := []struct {
		label  string
		mutate func(r *models.RawRecord)
		reason string
	}{
		{"valid", func(r *models.RawRecord) {}, ""},
		{"no site", func(r *models.RawRecord) { r.Site = nil }, transform.ReasonMissingSite},
		{"nil payload", func(r *models.RawRecord) { r.Payload = nil }, transform.ReasonEmptyPayload},
		{"empty payload", func(r *models.RawRecord) { r.Payload = map[string]any{} }, transform.ReasonEmptyPayload},
		{"no project id", func(r *models.RawRecord) { r.Site.ProjectSiteID = "" }, transform.ReasonMissingProjectID},
		{"no device name", func(r *models.RawRecord) { delete(r.Payload, "device_name") }, transform.ReasonMissingDevice},
		{"blank device name", func(r *models.RawRecord) { r.Payload["device_name"] = "" }, transform.ReasonMissingDevice},
		{"no timestamp", func(r *models.RawRecord) { delete(r.Payload, "timestamp") }, transform.ReasonMissingTimestamp},
		{"null timestamp", func(r *models.RawRecord) { r.Payload["timestamp"] = nil }, transform.ReasonMissingTimestamp},
	}

	for _, tc := range testcases {
		t.Run(tc.label, func(t *testing.T) {
			rec := validRecord()
			tc.mutate(&rec)

			err := transform.Validate(rec)
			if tc.reason == "" {
				assert.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			verr, ok := err.(*transform.ValidationError)
			require.True(t, ok)
			assert.Equal(t, tc.reason, verr.Reason)
		})
	}
}

func TestProcessDropsInvalidRecords(t *testing.T) {
	noDevice := validRecord()
	delete(noDevice.Payload, "device_name")

	noTimestamp := validRecord()
	noTimestamp.Payload["timestamp"] = ""

	noProject := validRecord()
	noProject.Site.ProjectSiteID = ""

	second := validRecord()
	second.Payload["device_name"] = "RK006"

	records := []models.RawRecord{validRecord(), noDevice, noTimestamp, noProject, second, {}}

	out, stats := newProcessor().Process(records)

	require.Len(t, out, 2)
	assert.Equal(t, "RK005", out[0].StationID)
	assert.Equal(t, "RK006", out[1].StationID)

	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, 2, stats.Valid)
	assert.Equal(t, 4, stats.Invalid)
	assert.Equal(t, map[string]int{
		transform.ReasonMissingDevice:    1,
		transform.ReasonMissingTimestamp: 1,
		transform.ReasonMissingProjectID: 1,
		transform.ReasonMissingSite:      1,
	}, stats.Reasons)
}

func TestProcessEmptyInput(t *testing.T) {
	out, stats := newProcessor().Process(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 0, stats.Invalid)
}

func TestProcessRecordRecoversFromUnmarshalableValues(t *testing.T) {
	rec := validRecord()
	rec.Payload["timestamp"] = func() {}

	out, ok := newProcessor().ProcessRecord(rec)
	assert.False(t, ok)
	assert.Equal(t, models.TransformedRecord{}, out)

	_, stats := newProcessor().Process([]models.RawRecord{rec, validRecord()})
	assert.Equal(t, 1, stats.Valid)
	assert.Equal(t, 1, stats.Reasons[transform.ReasonTransformFailed])
}
