package events

// EventData is implemented by every typed event payload
type EventData interface {
	EventType() EventType
}

// RunStatusData describes a run lifecycle change. Type selects which lifecycle
// event it is emitted as.
type RunStatusData struct {
	RunID     string    `json:"run_id"`
	Symbol    string    `json:"symbol"`
	UniqueKey string    `json:"unique_key,omitempty"`
	Status    string    `json:"status"`
	BestLevel string    `json:"best_level,omitempty"`
	Error     string    `json:"error,omitempty"`
	Type      EventType `json:"-"`
}

// EventType returns the lifecycle event the status belongs to
func (d *RunStatusData) EventType() EventType {
	if d.Type == "" {
		return RunStarted
	}
	return d.Type
}

// RunProgressData is one progress update of a running evaluation
type RunProgressData struct {
	RunID   string                 `json:"run_id"`
	Phase   string                 `json:"phase"`
	Current int                    `json:"current"`
	Total   int                    `json:"total"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// EventType returns the event type for RunProgressData
func (d *RunProgressData) EventType() EventType {
	return RunProgress
}

// ReportStoredData announces an exported run report
type ReportStoredData struct {
	RunID    string `json:"run_id"`
	Path     string `json:"path"`
	Uploaded bool   `json:"uploaded"`
	Location string `json:"location,omitempty"`
}

// EventType returns the event type for ReportStoredData
func (d *ReportStoredData) EventType() EventType {
	return ReportStored
}

// CacheCleanedData reports expired cache entries removed by a cleanup pass
type CacheCleanedData struct {
	Removed int64 `json:"removed"`
}

// EventType returns the event type for CacheCleanedData
func (d *CacheCleanedData) EventType() EventType {
	return CacheCleaned
}

// ErrorEventData carries an error raised outside a request
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
