package events

import (
	"github.com/rs/zerolog"
)

// Manager emits typed events onto the bus and logs them
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("service", "events").Logger(),
	}
}

// Bus returns the underlying bus for subscribers
func (m *Manager) Bus() *Bus {
	return m.bus
}

// EmitTyped emits an event with typed data. A nil manager drops the event.
func (m *Manager) EmitTyped(module string, data EventData) {
	if m == nil || data == nil {
		return
	}
	eventType := data.EventType()
	m.bus.Emit(eventType, module, convertEventDataToMap(data))

	// progress is frequent; keep it out of the info log
	ev := m.log.Info()
	if eventType == RunProgress {
		ev = m.log.Debug()
	}
	ev.Str("event_type", string(eventType)).
		Str("module", module).
		Msg("Event emitted")
}

// EmitError emits an ErrorOccurred event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	if err == nil {
		return
	}
	m.EmitTyped(module, &ErrorEventData{Error: err.Error(), Context: context})
}
