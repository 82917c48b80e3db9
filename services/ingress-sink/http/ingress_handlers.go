package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"

	"github.com/02loveslollipop/waterland-gwin-import/services/ingress-sink/db"
)

// sensorInfo mirrors a transformed record as posted by the importer.
type sensorInfo struct {
	StationID   string         `json:"stationID"`
	DeviceName  string         `json:"deviceName"`
	DevEUI      string         `json:"devEUI"`
	Tags        map[string]any `json:"tags"`
	PublishedAt *string        `json:"publishedAt"`
	ObjectJSON  *string        `json:"objectJSON"`
}

// decodeBatch accepts a bare array or an object carrying the array under
// envelope.
func decodeBatch(body []byte, envelope string) ([]sensorInfo, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	var batch []sensorInfo
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, fmt.Errorf("invalid array: %w", err)
		}
	case '{':
		if envelope == "" {
			return nil, fmt.Errorf("expected a JSON array")
		}
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("invalid object: %w", err)
		}
		raw, ok := wrapped[envelope]
		if !ok {
			return nil, fmt.Errorf("missing %s field", envelope)
		}
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", envelope, err)
		}
	default:
		return nil, fmt.Errorf("expected a JSON array or object")
	}
	return batch, nil
}

// toReading validates one record of a batch.
func toReading(info sensorInfo, batchID string, receivedAt time.Time) (db.Reading, error) {
	if strings.TrimSpace(info.StationID) == "" {
		return db.Reading{}, fmt.Errorf("stationID is required")
	}
	if info.ObjectJSON == nil {
		return db.Reading{}, fmt.Errorf("objectJSON is required")
	}

	var object map[string]any
	if err := json.Unmarshal([]byte(*info.ObjectJSON), &object); err != nil || object == nil {
		return db.Reading{}, fmt.Errorf("objectJSON must be a serialized JSON object")
	}

	r := db.Reading{
		BatchID:    batchID,
		StationID:  info.StationID,
		DeviceName: info.DeviceName,
		DevEUI:     info.DevEUI,
		Tags:       info.Tags,
		Object:     json.RawMessage(*info.ObjectJSON),
		ReceivedAt: receivedAt,
	}
	if r.Tags == nil {
		r.Tags = map[string]any{}
	}

	if info.PublishedAt != nil && *info.PublishedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, *info.PublishedAt)
		if err != nil {
			return db.Reading{}, fmt.Errorf("publishedAt must be RFC 3339")
		}
		t = t.UTC()
		r.PublishedAt = &t
	}

	return r, nil
}

// handleIngress accepts a batch of sensor records
// POST {INGRESS_PATH}
func (s *Server) handleIngress(c *gin.Context) {
	if s.failRemaining.Load() > 0 && s.failRemaining.Add(-1) >= 0 {
		s.batches.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sink is rehearsing a failure"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		s.batches.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	batch, err := decodeBatch(body, s.cfg.Envelope)
	if err != nil {
		s.batches.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	batchID := uuid.NewString()
	receivedAt := time.Now().UTC()
	readings := make([]db.Reading, 0, len(batch))
	for i, info := range batch {
		r, err := toReading(info, batchID, receivedAt)
		if err != nil {
			s.batches.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("record %d: %v", i, err)})
			return
		}
		readings = append(readings, r)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := s.store.SaveReadings(ctx, readings); err != nil {
		s.batches.WithLabelValues("error").Inc()
		level.Error(s.logger).Log("msg", "failed to store batch", "batchId", batchID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.batches.WithLabelValues("accepted").Inc()
	s.accepted.Add(float64(len(readings)))
	level.Info(s.logger).Log("msg", "batch accepted", "batchId", batchID, "recordCount", len(readings))

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"batchId":  batchID,
		"accepted": len(readings),
	})
}

// handleLatest returns the most recently received readings
// GET /readings/latest
func (s *Server) handleLatest(c *gin.Context) {
	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	readings, err := s.store.LatestReadings(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": readings,
		"meta": gin.H{
			"count": len(readings),
		},
	})
}
