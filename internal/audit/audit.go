// Package audit keeps an append-only journal of state changes in
// <home>/logs/audit.jsonl: task mutations, publisher transitions and fatal
// start-up events.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gitter-badger/gnomato/internal/bus"
	"github.com/gitter-badger/gnomato/internal/shared"
)

// FileName is the journal file inside <home>/logs.
const FileName = "audit.jsonl"

type entry struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Subject   string `json:"subject"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
}

// Journal appends entries to the audit file. A nil *Journal discards.
type Journal struct {
	mu   sync.Mutex
	file *os.File
}

func Open(homeDir string) (*Journal, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(logDir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &Journal{file: f}, nil
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// Record appends one entry. Detail is redacted before it is written.
func (j *Journal) Record(action, subject, outcome, detail string) {
	if j == nil {
		return
	}
	b, err := json.Marshal(entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Action:    action,
		Subject:   subject,
		Outcome:   outcome,
		Detail:    shared.Redact(detail),
	})
	if err != nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		_, _ = j.file.Write(append(b, '\n'))
	}
}

// Follow records every event from sub until the subscription is closed.
func (j *Journal) Follow(sub *bus.Subscription) {
	for ev := range sub.Ch() {
		j.RecordEvent(ev)
	}
}

// RecordEvent maps a bus event to a journal entry. Events that carry no
// state change are skipped.
func (j *Journal) RecordEvent(ev bus.Event) {
	switch p := ev.Payload.(type) {
	case bus.TaskEvent:
		outcome := "applied"
		if p.RowsAffected == 0 {
			outcome = "no_match"
		}
		j.Record(ev.Topic, "task/"+strconv.FormatInt(p.TaskID, 10), outcome, "")
	case bus.PublisherStateEvent:
		j.Record(ev.Topic, p.Name, p.To, p.From+" -> "+p.To+": "+p.Reason)
	}
}
