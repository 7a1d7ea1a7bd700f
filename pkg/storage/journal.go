package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Entry is one line of the request journal
type Entry struct {
	Time   time.Time `json:"ts"`
	Op     string    `json:"op"`
	Trader string    `json:"trader,omitempty"`
	Ticker string    `json:"ticker,omitempty"`
	Side   string    `json:"side,omitempty"`
	Amount int64     `json:"amount,omitempty"`
	Price  int64     `json:"price,omitempty"`
	Result string    `json:"result"`          // "accepted" or "rejected"
	Error  string    `json:"error,omitempty"` // rejection reason
}

// Journal records every request the exchange handled, append-only
type Journal interface {
	Append(e Entry) error
	Close() error
}

type NopJournal struct{}

func NewNopJournal() *NopJournal           { return &NopJournal{} }
func (j *NopJournal) Append(_ Entry) error { return nil }
func (j *NopJournal) Close() error         { return nil }

// FileJournal appends one JSON object per line
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Append(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = fmt.Fprintln(j.f, string(line))
	return err
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

var _ Journal = (*NopJournal)(nil)
var _ Journal = (*FileJournal)(nil)
