package eventlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_AppendAssignsVersions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.Append(ctx, "bet-1", 0, []Record{
		{Kind: "bet.placed", Payload: []byte(`{}`)},
		{Kind: "bet.accepted", Payload: []byte(`{}`)},
	})
	require.NoError(t, err)

	records, err := store.ReadAll(ctx, "bet-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].Version)
	assert.Equal(t, int64(2), records[1].Version)
	assert.Equal(t, "bet-1", records[0].StreamID)
	assert.False(t, records[0].At.IsZero())
}

func TestMemoryStore_VersionConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Append(ctx, "bet-1", 0, []Record{{Kind: "bet.placed"}}))

	// expectedVersion defasada: outro escritor já gravou
	err := store.Append(ctx, "bet-1", 0, []Record{{Kind: "bet.accepted"}})
	require.ErrorIs(t, err, ErrVersionConflict)

	// versão correta segue funcionando
	require.NoError(t, store.Append(ctx, "bet-1", 1, []Record{{Kind: "bet.accepted"}}))
}

func TestMemoryStore_StreamsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Append(ctx, "bet-1", 0, []Record{{Kind: "bet.placed"}}))
	require.NoError(t, store.Append(ctx, "bet-2", 0, []Record{{Kind: "bet.placed"}}))

	records, err := store.ReadAll(ctx, "bet-2")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "bet-2", records[0].StreamID)
}
