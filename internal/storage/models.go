package storage

// ExperimentRow is one row of the experiments table.
type ExperimentRow struct {
	ID         int64  `json:"id,omitempty" db:"id"`
	StimulusID int64  `json:"stimulus_id" db:"stimulus_id"`
	User       string `json:"user" db:"user"`
	Date       string `json:"date" db:"date"`             // yyyy-mm-dd
	StartTime  string `json:"start_time" db:"start_time"` // HH:MM:SS
	EndTime    string `json:"end_time" db:"end_time"`     // HH:MM:SS
	Params     string `json:"params" db:"params"`
}

// MonitorProfile is one row of the append-only monitor history.
type MonitorProfile struct {
	Width       int `json:"width" db:"width"`
	Height      int `json:"height" db:"height"`
	RefreshRate int `json:"refresh_rate" db:"refresh_rate"`
	PixelDepth  int `json:"pixel_depth" db:"pixel_depth"`
}

// Equal reports whether all four display fields match.
func (m MonitorProfile) Equal(o MonitorProfile) bool {
	return m.Width == o.Width &&
		m.Height == o.Height &&
		m.RefreshRate == o.RefreshRate &&
		m.PixelDepth == o.PixelDepth
}

// ExperimentFilter provides criteria for listing experiments.
type ExperimentFilter struct {
	StimulusID *int64
	User       string
	Limit      int
}

// NoStimulus is the stimulus id stored when the catalog has no entry.
const NoStimulus int64 = -1
