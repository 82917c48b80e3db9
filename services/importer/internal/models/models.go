package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// TokenResponse models the JSON payload returned by the WaterLand token index.
type TokenResponse struct {
	Sites []Site `json:"sites"`
}

// Site represents a single monitored site from the token index.
type Site struct {
	Name          FlexString `json:"site_name"`
	Latitude      FlexString `json:"position_latitude"`
	Longitude     FlexString `json:"position_longitude"`
	ProjectSiteID FlexString `json:"project_site_id"`
}

// FlexString holds a JSON scalar that upstream sends either quoted or bare.
// Numbers keep their literal text and null decodes to the empty string.
type FlexString string

// UnmarshalJSON accepts strings, numbers, booleans and null.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexString(n.String())
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	if b {
		*f = "true"
	} else {
		*f = "false"
	}
	return nil
}

// String returns the trimmed value.
func (f FlexString) String() string {
	return strings.TrimSpace(string(f))
}

// RawRecord pairs one latest-reading payload with the site that produced it.
type RawRecord struct {
	Site    *Site
	Payload map[string]any
}

// Field returns a payload value and whether the key is defined and non-null.
func (r RawRecord) Field(key string) (any, bool) {
	if r.Payload == nil {
		return nil, false
	}
	v, ok := r.Payload[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// TransformedRecord is the SmartDrainage ingestion schema.
type TransformedRecord struct {
	StationID   string  `json:"stationID"`
	DeviceName  string  `json:"deviceName"`
	DevEUI      string  `json:"devEUI"`
	Tags        Tags    `json:"tags"`
	PublishedAt *string `json:"publishedAt,omitempty"`
	ObjectJSON  string  `json:"objectJSON"`
}

// Tags is the flat tag map attached to each transformed record.
type Tags struct {
	StationID    string  `json:"StationID"`
	Latitude     float64 `json:"Latitude"`
	Longitude    float64 `json:"Longitude"`
	Location     string  `json:"Location"`
	IsCameraOnly bool    `json:"isCameraOnly"`
}

// MetricsVersion is the schema marker carried in every metrics payload.
const MetricsVersion = 2

// Metrics is serialized into TransformedRecord.ObjectJSON. The zero-valued
// flowmeter, pressure, tide and moisture fields are instrumentation WaterLand
// stations do not carry.
type Metrics struct {
	WaterLevel        float64 `json:"waterLevel"`
	BatteryVoltage    float64 `json:"batteryVoltage"`
	Version           int     `json:"version"`
	RainGaugeDrop     float64 `json:"rainGaugeDrop"`
	FlowmeterLevel    float64 `json:"flowmeterLevel"`
	FlowmeterFlow     float64 `json:"flowmeterFlow"`
	FlowmeterVelocity float64 `json:"flowmeterVelocity"`
	Pressure          float64 `json:"pressure"`
	Tide              float64 `json:"tide"`
	AC                int64   `json:"ac"`
	RSSI              float64 `json:"rssi"`
	Ultrasonic        float64 `json:"ultrasonic"`
	Moisture          float64 `json:"moisture"`
	Timestamp         any     `json:"timestamp"`
	DeviceType        any     `json:"deviceType,omitempty"`
	ProjectSiteID     any     `json:"projectSiteId,omitempty"`
}
