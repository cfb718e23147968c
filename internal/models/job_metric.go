package models

import "time"

const (
	MetricStatusSuccess = "SUCCESS"
	MetricStatusFailure = "FAILURE"
)

// optionsLimit caps the serialized options column.
const optionsLimit = 512

// JobMetric is one executor run. Rows are insert-only.
type JobMetric struct {
	ID              int64     `json:"id"`
	Tool            string    `json:"tool"`
	TaskID          string    `json:"task_id,omitempty"`
	Status          string    `json:"status"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	InputType       string    `json:"input_type,omitempty"`
	InputWidth      int       `json:"input_width,omitempty"`
	InputHeight     int       `json:"input_height,omitempty"`
	InputFrames     int       `json:"input_frames,omitempty"`
	InputSizeBytes  int64     `json:"input_size_bytes"`
	OutputSizeBytes int64     `json:"output_size_bytes"`
	ProcessingMS    int64     `json:"processing_time_ms"`
	Options         string    `json:"options,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// TruncateOptions clips Options so it fits the column.
func (m *JobMetric) TruncateOptions() {
	if len(m.Options) > optionsLimit {
		m.Options = m.Options[:optionsLimit]
	}
}
