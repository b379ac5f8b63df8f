package dto

import (
	"time"

	"crimson-pen/models"
)

// RecordDTO exposes one published column. Fields keep the open schema as is.
type RecordDTO struct {
	Date      string         `json:"date"`
	Permalink string         `json:"permalink"`
	Fields    map[string]any `json:"fields"`
}

// NewRecordDTO builds the DTO; permalinkDir is the site-relative directory of permalink pages.
func NewRecordDTO(r models.Record, permalinkDir string) RecordDTO {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return RecordDTO{
		Date:      r.Date,
		Permalink: "/" + permalinkDir + "/" + r.Date + ".html",
		Fields:    fields,
	}
}

// AttemptDTO exposes one generation attempt of a run.
type AttemptDTO struct {
	Purpose     string    `json:"purpose"`
	Attempt     int       `json:"attempt"`
	Model       string    `json:"model"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	TotalTokens int64     `json:"total_tokens"`
	DurationMs  int64     `json:"duration_ms"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewAttemptDTO(l models.AILog) AttemptDTO {
	d := AttemptDTO{
		Purpose:     l.Purpose,
		Attempt:     l.Attempt,
		Model:       l.ModelName,
		ErrorKind:   l.ErrorKind,
		TotalTokens: l.TotalTokens,
		DurationMs:  l.DurationMs,
		RequestedAt: l.RequestedAt,
	}
	if l.ErrorMessage != nil {
		d.Error = *l.ErrorMessage
	}
	return d
}
