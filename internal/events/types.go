// Package events carries run lifecycle and progress notifications to subscribers
// such as the websocket stream.
package events

import (
	"encoding/json"
	"time"
)

// EventType names a kind of event
type EventType string

const (
	RunQueued     EventType = "RUN_QUEUED"
	RunStarted    EventType = "RUN_STARTED"
	RunProgress   EventType = "RUN_PROGRESS"
	RunCompleted  EventType = "RUN_COMPLETED"
	RunFailed     EventType = "RUN_FAILED"
	ReportStored  EventType = "REPORT_STORED"
	CacheCleaned  EventType = "CACHE_CLEANED"
	ErrorOccurred EventType = "ERROR_OCCURRED"
)

// AllTypes lists every event type, in declaration order
var AllTypes = []EventType{
	RunQueued, RunStarted, RunProgress, RunCompleted, RunFailed,
	ReportStored, CacheCleaned, ErrorOccurred,
}

// Event is one emitted event. Data is the JSON object form of the typed payload.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// GetTypedData converts Data back to its typed payload, or nil when it does not fit
func (e *Event) GetTypedData() EventData {
	if e.Data == nil {
		return nil
	}

	var data EventData
	switch e.Type {
	case RunQueued, RunStarted, RunCompleted, RunFailed:
		data = &RunStatusData{}
	case RunProgress:
		data = &RunProgressData{}
	case ReportStored:
		data = &ReportStoredData{}
	case CacheCleaned:
		data = &CacheCleanedData{}
	case ErrorOccurred:
		data = &ErrorEventData{}
	default:
		return nil
	}
	if err := convertMapToStruct(e.Data, data); err != nil {
		return nil
	}
	if status, ok := data.(*RunStatusData); ok {
		status.Type = e.Type
	}
	return data
}

func convertMapToStruct(m map[string]interface{}, v interface{}) error {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonBytes, v)
}

func convertEventDataToMap(data EventData) map[string]interface{} {
	if data == nil {
		return nil
	}
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return nil
	}
	return result
}
