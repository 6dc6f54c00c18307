package orchestrator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crowdfund/core/campaign"
	"crowdfund/storage"
)

func TestJournalLookupByID(t *testing.T) {
	bolt, err := storage.NewBoltDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer bolt.Close()

	for name, db := range map[string]storage.Database{"mem": storage.NewMemDB(), "bolt": bolt} {
		t.Run(name, func(t *testing.T) {
			journal := NewJournal(db)
			started := baseNow.UTC()
			for i, id := range []string{"b-attempt", "a-attempt"} {
				require.NoError(t, journal.Record(Entry{
					ID:         id,
					Action:     campaign.ActionWithdraw,
					Target:     fundraiser.Hex(),
					Actor:      creator.Hex(),
					Outcome:    OutcomeSucceeded,
					StartedAt:  started.Add(time.Duration(i) * time.Minute),
					FinishedAt: started.Add(time.Duration(i)*time.Minute + time.Second),
				}))
			}

			entry, err := journal.Lookup("b-attempt")
			require.NoError(t, err)
			require.Equal(t, started, entry.StartedAt)

			_, err = journal.Lookup("missing")
			require.ErrorIs(t, err, ErrUnknownAttempt)
			_, err = journal.Lookup("")
			require.ErrorIs(t, err, ErrUnknownAttempt)

			// index keys never show up as history entries
			entries, err := journal.History(0)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			require.Equal(t, "a-attempt", entries[0].ID)
		})
	}
}
