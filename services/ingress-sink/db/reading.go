package db

import (
	"encoding/json"
	"time"
)

// Reading is one sensor record as accepted by the ingestion endpoint.
type Reading struct {
	BatchID     string          `json:"batch_id"`
	StationID   string          `json:"stationID"`
	DeviceName  string          `json:"deviceName"`
	DevEUI      string          `json:"devEUI"`
	Tags        map[string]any  `json:"tags"`
	PublishedAt *time.Time      `json:"publishedAt,omitempty"`
	Object      json.RawMessage `json:"object"`
	ReceivedAt  time.Time       `json:"received_at"`
}
