// Package observability emits structured JSONL events for pipeline runs and
// model calls, plus terminal progress rendering for the CLI.
package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeRun      EventType = "run"
	EventTypePlan     EventType = "plan"
	EventTypeStage    EventType = "stage"
	EventTypeDecision EventType = "decision"
	EventTypeLLM      EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger emits JSONL events to a writer and mirrors model-call events to a
// rotating file so long transcripts don't swamp the console stream.
type Logger struct {
	mu         sync.Mutex
	out        io.Writer
	llmLogPath string
	maxSize    int64
}

func NewLogger() *Logger {
	return &Logger{
		out:        os.Stdout,
		llmLogPath: filepath.Join("logs", "llm.jsonl"),
		maxSize:    10 * 1024 * 1024, // 10MB
	}
}

// NewLoggerTo directs the event stream at w instead of stdout.
func NewLoggerTo(w io.Writer, llmLogPath string) *Logger {
	return &Logger{out: w, llmLogPath: llmLogPath, maxSize: 10 * 1024 * 1024}
}

// Log emits a structured JSON event.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		l.mu.Lock()
		fmt.Fprintf(l.out, "{\"error\": \"failed to marshal event: %v\"}\n", err)
		l.mu.Unlock()
		return
	}
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()

	if evt.Type == EventTypeLLM {
		l.writeToFile(data)
	}
}

// Printf satisfies the pipeline driver's logger with plain run events.
func (l *Logger) Printf(format string, args ...any) {
	l.Log(Event{
		Type: EventTypeRun,
		Data: map[string]string{"message": fmt.Sprintf(format, args...)},
	})
}

func (l *Logger) writeToFile(data []byte) {
	if l.llmLogPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogPlan(runID string, stages int, fallback bool, analysis string) {
	l.Log(Event{
		Type:  EventTypePlan,
		RunID: runID,
		Data: map[string]any{
			"stages":   stages,
			"fallback": fallback,
			"analysis": analysis,
		},
	})
}

func (l *Logger) LogStage(runID, stage, status string, progress float64) {
	l.Log(Event{
		Type:  EventTypeStage,
		RunID: runID,
		Stage: stage,
		Data: map[string]any{
			"status":   status,
			"progress": progress,
		},
	})
}

func (l *Logger) LogDecision(runID, agentName, decision, reasoning string, confidence float64) {
	l.Log(Event{
		Type:  EventTypeDecision,
		RunID: runID,
		Data: map[string]any{
			"agent":      agentName,
			"decision":   decision,
			"reasoning":  reasoning,
			"confidence": confidence,
		},
	})
}

func (l *Logger) LogLLM(runID, stage string, prompt any, response string) {
	l.Log(Event{
		Type:  EventTypeLLM,
		RunID: runID,
		Stage: stage,
		Data: map[string]any{
			"prompt":   prompt,
			"response": response,
		},
	})
}
