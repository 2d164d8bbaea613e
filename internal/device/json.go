package device

import (
	"encoding/json"
	"time"
)

// positionJSON is the persisted shape of a Position. Timestamps are Unix
// milliseconds.
type positionJSON struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler for Position.
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal(positionJSON{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Timestamp: p.Timestamp.UnixMilli(),
	})
}

// UnmarshalJSON implements json.Unmarshaler for Position.
func (p *Position) UnmarshalJSON(data []byte) error {
	var raw positionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Position{
		Latitude:  raw.Latitude,
		Longitude: raw.Longitude,
		Timestamp: time.UnixMilli(raw.Timestamp),
	}
	return nil
}
