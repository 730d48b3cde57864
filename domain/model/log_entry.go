package model

import "time"

type LogLevel string

const (
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

// LogEntry is one user-visible event in a destination's append-only log.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"        bson:"timestamp"`
	Level     LogLevel               `json:"level"            bson:"level"`
	Message   string                 `json:"message"          bson:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty" bson:"fields,omitempty"`
}

func NewLogEntry(now time.Time, level LogLevel, message string, fields map[string]interface{}) LogEntry {
	return LogEntry{Timestamp: now.UTC(), Level: level, Message: message, Fields: fields}
}

func (l LogEntry) Clone() LogEntry {
	if l.Fields != nil {
		f := make(map[string]interface{}, len(l.Fields))
		for k, v := range l.Fields {
			f[k] = v
		}
		l.Fields = f
	}
	return l
}

// DestinationLog pairs a log entry with the destination it belongs to.
type DestinationLog struct {
	Destination DestinationKey `json:"destination"`
	LogEntry
}

// DestinationLogs returns a copy of one destination's log sequence.
func (r *UploadRequest) DestinationLogs(key DestinationKey) ([]LogEntry, error) {
	d, ok := r.Destinations[key]
	if !ok {
		return nil, ErrDestinationNotFound
	}
	out := make([]LogEntry, len(d.Logs))
	for i, l := range d.Logs {
		out[i] = l.Clone()
	}
	return out, nil
}

// AllLogs concatenates every destination's log by sorted destination key,
// preserving per-destination order.
func (r *UploadRequest) AllLogs() []DestinationLog {
	var out []DestinationLog
	for _, k := range r.DestinationKeys() {
		for _, l := range r.Destinations[k].Logs {
			out = append(out, DestinationLog{Destination: k, LogEntry: l.Clone()})
		}
	}
	if out == nil {
		out = []DestinationLog{}
	}
	return out
}
