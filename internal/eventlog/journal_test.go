package eventlog_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mintweave/nft-market-engine/internal/entity"
	"github.com/mintweave/nft-market-engine/internal/eventlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *eventlog.Journal {
	t.Helper()

	journal, err := eventlog.NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	return journal
}

func TestJournal_AddAndReadEvents(t *testing.T) {
	journal := newTestJournal(t)

	require.NoError(t, journal.AddEvent(entity.Event{
		Standard: entity.LedgerStandard,
		Version:  entity.LedgerVersion,
		Event:    entity.NftMintEvent,
		Data:     entity.NftMintData{TokenID: "1", OwnerID: "alice", MinterID: "minter"},
	}))
	require.NoError(t, journal.AddEvent(entity.Event{
		Standard: entity.MarketStandard,
		Version:  entity.MarketVersion,
		Event:    entity.NftListEvent,
		Data:     map[string]string{"tokenId": "1"},
	}))

	events, err := journal.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first.
	assert.Equal(t, entity.NftListEvent, events[0].Event)
	assert.Equal(t, entity.MarketStandard, events[0].Standard)
	assert.Equal(t, entity.NftMintEvent, events[1].Event)
	assert.JSONEq(t, `{"tokenId":"1","ownerId":"alice","minterId":"minter"}`, string(events[1].Data.(json.RawMessage)))
}

func TestJournal_RecentEventsHonorsLimit(t *testing.T) {
	journal := newTestJournal(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, journal.AddEvent(entity.Event{
			Standard: entity.LedgerStandard,
			Version:  entity.LedgerVersion,
			Event:    entity.NftApproveEvent,
			Data:     map[string]int{"n": i},
		}))
	}

	events, err := journal.RecentEvents(3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
