package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	kitlog "github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/02loveslollipop/waterland-gwin-import/services/ingress-sink/config"
	"github.com/02loveslollipop/waterland-gwin-import/services/ingress-sink/db"
	httpserver "github.com/02loveslollipop/waterland-gwin-import/services/ingress-sink/http"
)

const record = `{"stationID":"P1-S1","deviceName":"S1","devEUI":"E1",` +
	`"tags":{"StationID":"P1-S1","Latitude":1.5,"Longitude":2.5,"Location":"S1","isCameraOnly":false},` +
	`"publishedAt":"2024-01-01T00:00:00.000Z",` +
	`"objectJSON":"{\"waterLevel\":1.23,\"version\":2}"}`

func testConfig() config.Config {
	return config.Config{
		Port:           0,
		Path:           "/ingress",
		Username:       "user",
		Password:       "pass",
		Envelope:       "sensorInfo",
		MemoryCapacity: 10,
	}
}

func newServer(t *testing.T, cfg config.Config) (*httpserver.Server, *db.MemoryStore) {
	t.Helper()
	store := db.NewMemoryStore(cfg.MemoryCapacity)
	return httpserver.New(cfg, store, kitlog.NewNopLogger()), store
}

func post(srv *httpserver.Server, path, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.SetBasicAuth("user", "pass")
	}
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	return rec
}

func stored(t *testing.T, store *db.MemoryStore) []db.Reading {
	t.Helper()
	readings, err := store.LatestReadings(context.Background(), 100)
	require.NoError(t, err)
	return readings
}

func TestHealthz(t *testing.T) {
	srv, _ := newServer(t, testConfig())

	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestIngressAcceptsBareArray(t *testing.T) {
	srv, store := newServer(t, testConfig())

	rec := post(srv, "/ingress", "["+record+"]", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Status   string `json:"status"`
		BatchID  string `json:"batchId"`
		Accepted int    `json:"accepted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.BatchID)
	assert.Equal(t, 1, resp.Accepted)

	readings := stored(t, store)
	require.Len(t, readings, 1)
	got := readings[0]
	assert.Equal(t, resp.BatchID, got.BatchID)
	assert.Equal(t, "P1-S1", got.StationID)
	assert.Equal(t, "S1", got.DeviceName)
	assert.Equal(t, "E1", got.DevEUI)
	assert.Equal(t, "S1", got.Tags["Location"])
	require.NotNil(t, got.PublishedAt)
	assert.Equal(t, "2024-01-01T00:00:00Z", got.PublishedAt.Format("2006-01-02T15:04:05Z07:00"))
	assert.JSONEq(t, `{"waterLevel":1.23,"version":2}`, string(got.Object))
}

func TestIngressAcceptsEnvelope(t *testing.T) {
	srv, store := newServer(t, testConfig())

	rec := post(srv, "/ingress", `{"sensorInfo":[`+record+`,`+record+`]}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, stored(t, store), 2)
}

func TestIngressEmptyArray(t *testing.T) {
	srv, store := newServer(t, testConfig())

	rec := post(srv, "/ingress", `[]`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted":0`)
	assert.Empty(t, stored(t, store))
}

func TestIngressRequiresBasicAuth(t *testing.T) {
	srv, store := newServer(t, testConfig())

	rec := post(srv, "/ingress", "["+record+"]", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, stored(t, store))
}

func TestIngressWithoutCredentialsConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Username = ""
	cfg.Password = ""
	srv, _ := newServer(t, cfg)

	rec := post(srv, "/ingress", "["+record+"]", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngressRejectsInvalidBatches(t *testing.T) {
	cases := map[string]string{
		"empty body":          ``,
		"malformed":           `[{`,
		"scalar":              `42`,
		"missing envelope":    `{"records":[]}`,
		"missing stationID":   `[{"objectJSON":"{}"}]`,
		"missing objectJSON":  `[{"stationID":"P1-S1"}]`,
		"objectJSON not JSON": `[{"stationID":"P1-S1","objectJSON":"nope"}]`,
		"objectJSON array":    `[{"stationID":"P1-S1","objectJSON":"[1]"}]`,
		"bad publishedAt":     `[{"stationID":"P1-S1","objectJSON":"{}","publishedAt":"yesterday"}]`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv, store := newServer(t, testConfig())

			rec := post(srv, "/ingress", body, true)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Empty(t, stored(t, store))
		})
	}
}

func TestIngressRejectsObjectWithoutEnvelope(t *testing.T) {
	cfg := testConfig()
	cfg.Envelope = ""
	srv, _ := newServer(t, cfg)

	rec := post(srv, "/ingress", `{"sensorInfo":[`+record+`]}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngressFailFirst(t *testing.T) {
	cfg := testConfig()
	cfg.FailFirst = 2
	srv, store := newServer(t, cfg)

	assert.Equal(t, http.StatusServiceUnavailable, post(srv, "/ingress", "["+record+"]", true).Code)
	assert.Equal(t, http.StatusServiceUnavailable, post(srv, "/ingress", "["+record+"]", true).Code)
	assert.Equal(t, http.StatusOK, post(srv, "/ingress", "["+record+"]", true).Code)
	assert.Len(t, stored(t, store), 1)
}

func TestLatestReadings(t *testing.T) {
	srv, _ := newServer(t, testConfig())
	require.Equal(t, http.StatusOK, post(srv, "/ingress", "["+record+","+record+"]", true).Code)

	req := httptest.NewRequest(http.MethodGet, "/readings/latest?limit=1", nil)
	req.SetBasicAuth("user", "pass")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Meta.Count)
	require.Len(t, resp.Data, 1)
}

func TestLatestReadingsInvalidLimit(t *testing.T) {
	srv, _ := newServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/readings/latest?limit=zero", nil)
	req.SetBasicAuth("user", "pass")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newServer(t, testConfig())
	require.Equal(t, http.StatusOK, post(srv, "/ingress", "["+record+"]", true).Code)

	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ingress_sink_batches_total{outcome="accepted"} 1`)
	assert.Contains(t, rec.Body.String(), `ingress_sink_readings_accepted_total 1`)
}
