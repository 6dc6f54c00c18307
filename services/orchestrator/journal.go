package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crowdfund/core/campaign"
	"crowdfund/storage"
)

var (
	journalPrefix = []byte("attempt/")
	// attempt-id/<id> maps an attempt id to its time-ordered key.
	journalIndexPrefix = []byte("attempt-id/")

	// ErrUnknownAttempt is returned by Lookup for ids never recorded.
	ErrUnknownAttempt = errors.New("journal: unknown attempt")
)

// Outcome is the terminal state of a journaled attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Entry is the persisted record of one finished attempt.
type Entry struct {
	ID         string          `json:"id"`
	Action     campaign.Action `json:"action"`
	Target     string          `json:"target"`
	Actor      string          `json:"actor"`
	Amount     string          `json:"amount,omitempty"`
	TxHashes   []string        `json:"tx_hashes,omitempty"`
	Outcome    Outcome         `json:"outcome"`
	Kind       string          `json:"kind,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Journal appends finished attempts to an ordered key-value store.
type Journal struct {
	db storage.Database
}

// NewJournal wraps db. Keys are ordered by start time so History can walk them.
func NewJournal(db storage.Database) *Journal {
	return &Journal{db: db}
}

// Record persists entry.
func (j *Journal) Record(entry Entry) error {
	if j == nil || j.db == nil {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("journal: encode %s: %w", entry.ID, err)
	}
	key := fmt.Sprintf("%s%020d/%s", journalPrefix, entry.StartedAt.UnixNano(), entry.ID)
	if err := j.db.Put([]byte(key), payload); err != nil {
		return fmt.Errorf("journal: store %s: %w", entry.ID, err)
	}
	if err := j.db.Put(append(append([]byte(nil), journalIndexPrefix...), entry.ID...), []byte(key)); err != nil {
		return fmt.Errorf("journal: index %s: %w", entry.ID, err)
	}
	return nil
}

// Lookup returns the entry recorded under id.
func (j *Journal) Lookup(id string) (Entry, error) {
	if j == nil || j.db == nil || id == "" {
		return Entry{}, fmt.Errorf("%w %q", ErrUnknownAttempt, id)
	}
	key, err := j.db.Get(append(append([]byte(nil), journalIndexPrefix...), id...))
	if errors.Is(err, storage.ErrNotFound) {
		return Entry{}, fmt.Errorf("%w %q", ErrUnknownAttempt, id)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("journal: index %s: %w", id, err)
	}
	value, err := j.db.Get(key)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: load %s: %w", id, err)
	}
	var entry Entry
	if err := json.Unmarshal(value, &entry); err != nil {
		return Entry{}, fmt.Errorf("journal: decode %s: %w", key, err)
	}
	return entry, nil
}

// History returns up to limit entries, newest first. A limit of zero or less
// returns everything.
func (j *Journal) History(limit int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}
	var (
		entries []Entry
		decErr  error
	)
	err := j.db.Iterate(journalPrefix, func(key, value []byte) bool {
		var entry Entry
		if err := json.Unmarshal(value, &entry); err != nil {
			decErr = fmt.Errorf("journal: decode %s: %w", key, err)
			return false
		}
		entries = append(entries, entry)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("journal: iterate: %w", err)
	}
	if decErr != nil {
		return nil, decErr
	}
	for i, k := 0, len(entries)-1; i < k; i, k = i+1, k-1 {
		entries[i], entries[k] = entries[k], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
