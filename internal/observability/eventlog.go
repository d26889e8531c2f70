package observability

import (
	"github.com/openrecords/foiabuddy/internal/progress"
)

// EventLog mirrors broadcast run events into the structured log so every
// stage transition lands in the JSONL stream alongside plan and model-call
// entries.
type EventLog struct {
	logger *Logger
}

func NewEventLog(l *Logger) *EventLog {
	return &EventLog{logger: l}
}

// Notify implements progress.Observer. It never returns an error so the hub
// keeps it attached for the lifetime of the process.
func (e *EventLog) Notify(ev progress.Event) error {
	switch ev.Type {
	case progress.EventStageUpdate:
		e.logger.LogStage(ev.RunID, ev.Stage, string(ev.StageStatus), ev.Progress)
	default:
		data := map[string]any{
			"status":   string(ev.Status),
			"progress": ev.Progress,
		}
		if ev.Message != "" {
			data["message"] = ev.Message
		}
		if ev.Error != "" {
			data["error"] = ev.Error
		}
		e.logger.Log(Event{
			Type:  EventTypeRun,
			RunID: ev.RunID,
			Data:  data,
		})
	}
	return nil
}
