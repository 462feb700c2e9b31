// Package audit implements an append-only NDJSON trail of order/dispute/
// refund lifecycle transitions (§5 "Shared resources" - the datastore is
// node-owned; this package gives operators a durable, human-inspectable
// record of what happened to each sale alongside it).
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Lifecycle operations an OrderLogEntry records, one per notification kind
// the commerce handlers (internal/rpc, internal/dispute, internal/refund)
// emit through a listener.NotificationSink (§4.2-§4.4), plus OpFollowed for
// the FOLLOW handler's "follow" notification.
const (
	OpFunded         = "ORDER_FUNDED"
	OpOrderConfirmed = "ORDER_CONFIRMED"
	OpOrderCompleted = "ORDER_COMPLETED"
	OpDisputeOpened  = "DISPUTE_OPENED"
	OpDisputeClosed  = "DISPUTE_CLOSED"
	OpRefundIssued   = "REFUND_ISSUED"
	OpFollowed       = "FOLLOWED"
)

// OrderLogEntry represents one lifecycle transition logged for a sale.
type OrderLogEntry struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"orderId"`
	Timestamp     time.Time `json:"timestamp"`
	Operation     string    `json:"operation"`
	Status        string    `json:"status"` // SUCCESS, FAILURE
	FailureReason string    `json:"failureReason,omitempty"`
	PeerGuid      string    `json:"peerGuid,omitempty"`
	PeerHandle    string    `json:"peerHandle,omitempty"`
}

// Logger handles append-only audit logging of order lifecycle events.
type Logger struct {
	filePath string
	mu       sync.Mutex
}

// NewLogger creates a new audit logger appending to filePath, creating its
// parent directory if needed.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: create log directory: %w", err)
	}
	return &Logger{filePath: filePath}, nil
}

// LogOperation appends entry to the log file in NDJSON format, fsyncing
// before returning so the record survives a crash immediately after.
func (l *Logger) LogOperation(entry OrderLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: open log: %w", err)
	}
	defer file.Close()

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := file.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("audit: sync log: %w", err)
	}
	return nil
}

// ReadLog reads every entry from the log file, skipping malformed lines.
func (l *Logger) ReadLog() ([]OrderLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []OrderLogEntry{}, nil
		}
		return nil, fmt.Errorf("audit: read log: %w", err)
	}

	var entries []OrderLogEntry
	lines := string(data)
	start := 0
	for i := 0; i < len(lines); i++ {
		if lines[i] == '\n' {
			if i > start {
				var entry OrderLogEntry
				if err := json.Unmarshal([]byte(lines[start:i]), &entry); err == nil {
					entries = append(entries, entry)
				}
			}
			start = i + 1
		}
	}
	if start < len(lines) {
		var entry OrderLogEntry
		if err := json.Unmarshal([]byte(lines[start:]), &entry); err == nil {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
