package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// walRecord is one line in the append-only JSONL state log.
type walRecord struct {
	Op        string  `json:"op"` // "put" or "remove"
	Timestamp string  `json:"ts"`
	Switch    *Switch `json:"switch,omitempty"`
	Key       string  `json:"key,omitempty"`
}

const (
	walOpPut    = "put"
	walOpRemove = "remove"
)

// wal is the durable log backing the store. Append syncs to disk before
// returning: losing the process must not silently lose a restriction.
type wal struct {
	path string
	file *os.File
}

func openWAL(path string) (*wal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("state: create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("state: open log: %w", err)
	}
	return &wal{path: path, file: f}, nil
}

func (w *wal) append(rec walRecord) error {
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("state: marshal record: %w", err)
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("state: write record: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("state: sync: %w", err)
	}
	return nil
}

func (w *wal) close() error {
	return w.file.Close()
}

// replayWAL rebuilds the active switch set from the log. Malformed
// lines (a torn final write) are skipped; a remove for an absent key is
// a no-op, matching the append semantics.
func replayWAL(path string) (map[string]*Switch, error) {
	switches := make(map[string]*Switch)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return switches, nil
		}
		return nil, fmt.Errorf("state: open log for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec walRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		switch rec.Op {
		case walOpPut:
			if rec.Switch != nil {
				switches[rec.Switch.Key().String()] = rec.Switch
			}
		case walOpRemove:
			delete(switches, rec.Key)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("state: replay: %w", err)
	}
	return switches, nil
}
