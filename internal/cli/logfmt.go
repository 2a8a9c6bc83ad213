package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/adithyaa-s/atlasd/internal/runtime"
	"github.com/adithyaa-s/atlasd/internal/session"
)

type logRecord struct {
	Timestamp time.Time `json:"ts"`
	Service   string    `json:"service"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"msg"`
	Source    string    `json:"source"`
	Reason    string    `json:"reason,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
}

func newLogRecord(event session.Event) logRecord {
	level := event.Level
	if level == "" {
		level = "info"
	}
	source := event.Source
	if source == "" {
		source = runtime.LogSourceSystem
	}
	message := event.Message
	if message == "" && event.Err != nil {
		message = event.Err.Error()
	}
	record := logRecord{
		Timestamp: event.Timestamp,
		Service:   event.Service,
		Type:      string(event.Type),
		Level:     level,
		Message:   message,
		Source:    source,
		Reason:    event.Reason,
	}
	if event.Type == session.EventTypeExited {
		code := event.ExitCode
		record.ExitCode = &code
	}
	return record
}

func encodeLogEvent(enc *json.Encoder, stderr io.Writer, event session.Event) {
	if enc == nil {
		return
	}
	record := newLogRecord(event)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode log: %v\n", err)
	}
}

// formatEventText renders an event as a single human-readable line for
// interactive terminals.
func formatEventText(event session.Event) string {
	record := newLogRecord(event)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", record.Timestamp.Format("15:04:05.000"), strings.ToUpper(record.Level), record.Service)
	if record.Type != string(session.EventTypeLog) {
		fmt.Fprintf(&b, " [%s]", record.Type)
	}
	if record.Message != "" {
		b.WriteString(" ")
		b.WriteString(record.Message)
	}
	if record.ExitCode != nil {
		fmt.Fprintf(&b, " (exit %d)", *record.ExitCode)
	}
	return b.String()
}
