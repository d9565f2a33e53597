package entities

import (
	"encoding/json"
	"gorm.io/datatypes"
)

// RecordingMetadata is stored in Response.Metadata. Every field is optional.
type RecordingMetadata struct {
	Size         int64   `json:"size,omitempty"`
	ContentType  string  `json:"content_type,omitempty"`
	FileName     string  `json:"file_name,omitempty"`
	Language     string  `json:"language,omitempty"`
	SpoolPath    string  `json:"spool_path,omitempty"`
	Duration     float64 `json:"duration,omitempty"`
	Codec        string  `json:"codec,omitempty"`
	SegmentCount int     `json:"segment_count,omitempty"`
}

func (m RecordingMetadata) JSON() datatypes.JSON {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

// DecodeMetadata tolerates empty or malformed columns.
func DecodeMetadata(raw datatypes.JSON) RecordingMetadata {
	var m RecordingMetadata
	if len(raw) == 0 {
		return m
	}
	_ = json.Unmarshal(raw, &m)
	return m
}
