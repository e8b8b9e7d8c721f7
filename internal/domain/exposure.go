package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Coordinates is a WGS84 position in decimal degrees.
type Coordinates struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// EncounterSample is one locally observed proximity or location sample.
// Either Token, Coordinates or both are set.
type EncounterSample struct {
	Timestamp   time.Time    `json:"timestamp"`
	Token       string       `json:"token,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// Valid reports whether the sample carries enough data to be matched.
func (s EncounterSample) Valid() bool {
	if s.Timestamp.IsZero() {
		return false
	}
	return s.Token != "" || s.Coordinates != nil
}

// ExposureFeature is one entry of the published infection list.
type ExposureFeature struct {
	Properties map[string]any `json:"properties"`
}

// ExposureList is the verified payload of the exposure-list endpoint.
type ExposureList struct {
	Features []ExposureFeature `json:"features"`
}

// MatchKind says which evidence produced a match.
type MatchKind string

const (
	MatchToken MatchKind = "token"
	MatchGeo   MatchKind = "geo"
)

// MatchMetadata describes how a record was matched.
type MatchMetadata struct {
	Kind            MatchKind `json:"kind"`
	Fingerprint     string    `json:"fingerprint"`
	SampleTimestamp time.Time `json:"sample_timestamp"`
	DistanceMeters  float64   `json:"distance_meters,omitempty"`
	MatchedAt       time.Time `json:"matched_at"`
}

// ExposureRecord is a confirmed match against the verified list.
type ExposureRecord struct {
	Properties map[string]any `json:"properties"`
	Match      MatchMetadata  `json:"match"`
}

// MapRegion is the viewport the UI centers on an exposure.
type MapRegion struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	LatitudeDelta  float64 `json:"latitude_delta"`
	LongitudeDelta float64 `json:"longitude_delta"`
}

// Region returns the map region for the record's lat/long properties, which
// may be strings or numbers. Missing or unparsable values fall back to 0.
func (r ExposureRecord) Region() MapRegion {
	lat, _ := NumberProperty(r.Properties, "lat")
	long, _ := NumberProperty(r.Properties, "long")
	return MapRegion{Latitude: lat, Longitude: long, LatitudeDelta: 0.01, LongitudeDelta: 0.001}
}

// NumberProperty reads key as a float accepting JSON numbers and numeric strings.
func NumberProperty(props map[string]any, key string) (float64, bool) {
	v, ok := props[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// StringProperty reads key as a non-empty string.
func StringProperty(props map[string]any, key string) (string, bool) {
	s, ok := props[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// TimeProperty reads the first present key as milliseconds since the epoch.
func TimeProperty(props map[string]any, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		if ms, ok := NumberProperty(props, k); ok {
			return time.UnixMilli(int64(ms)).UTC(), true
		}
	}
	return time.Time{}, false
}
