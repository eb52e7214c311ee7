package poolcmd

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func register(t *testing.T, table PendingTable, id CorrelationID, cb Callback) {
	t.Helper()
	r, err := table.Begin()
	require.NoError(t, err)
	s, err := table.Complete(r, id, cb)
	require.NoError(t, err)
	require.Nil(t, s.Early)
	require.Empty(t, s.Orphans)
}

func TestPendingTableCompleteResolve(t *testing.T) {
	table := NewPendingTable()

	var got error
	register(t, table, "a", func(err error) { got = err })

	r, err := table.Begin()
	require.NoError(t, err)
	_, err = table.Complete(r, "a", func(error) {})
	assert.ErrorIs(t, err, ErrDuplicateCorrelation)
	assert.Equal(t, 1, table.Len())

	cb, held, err := table.Resolve(CloseAck{ID: "a"})
	require.NoError(t, err)
	assert.False(t, held)
	cb(ErrDispatcherClosed)
	assert.ErrorIs(t, got, ErrDispatcherClosed)

	_, held, err = table.Resolve(CloseAck{ID: "a"})
	assert.ErrorIs(t, err, ErrPendingNotFound)
	assert.False(t, held)
	assert.Equal(t, 0, table.Len())
}

func TestPendingTableDrainCloses(t *testing.T) {
	table := NewPendingTable()
	register(t, table, "a", func(error) {})
	register(t, table, "b", func(error) {})

	r, err := table.Begin()
	require.NoError(t, err)
	_, held, err := table.Resolve(CloseAck{ID: "early"})
	require.NoError(t, err)
	require.True(t, held)

	drained, acks := table.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, []CloseAck{{ID: "early"}}, acks)
	assert.Equal(t, 0, table.Len())

	_, err = table.Complete(r, "c", func(error) {})
	assert.ErrorIs(t, err, ErrPendingTableClosed)
	_, err = table.Begin()
	assert.ErrorIs(t, err, ErrPendingTableClosed)
	_, _, err = table.Resolve(CloseAck{ID: "a"})
	assert.ErrorIs(t, err, ErrPendingTableClosed)

	drained, acks = table.Drain()
	assert.Empty(t, drained)
	assert.Empty(t, acks)
}

func TestPendingTableConcurrentAccess(t *testing.T) {
	table := NewPendingTable()
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := CorrelationID(fmt.Sprintf("id-%d", i))
			r, err := table.Begin()
			if err != nil {
				t.Errorf("begin %s: %v", id, err)
				return
			}
			if _, err := table.Complete(r, id, func(error) {}); err != nil {
				t.Errorf("complete %s: %v", id, err)
				return
			}
			if _, _, err := table.Resolve(CloseAck{ID: id}); err != nil {
				t.Errorf("resolve %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, table.Len())
}

func TestPendingTableHoldsEarlyAck(t *testing.T) {
	table := NewPendingTable()

	r, err := table.Begin()
	require.NoError(t, err)

	result := &AckError{Message: "gone"}
	cb, held, err := table.Resolve(CloseAck{ID: "x", Result: result})
	require.NoError(t, err)
	assert.True(t, held)
	assert.Nil(t, cb)

	called := false
	s, err := table.Complete(r, "x", func(error) { called = true })
	require.NoError(t, err)
	require.NotNil(t, s.Early)
	assert.Same(t, result, s.Early.Result)
	assert.Empty(t, s.Orphans)
	assert.False(t, called)
	assert.Equal(t, 0, table.Len())
}

func TestPendingTableExpiresUnclaimedAcks(t *testing.T) {
	table := NewPendingTable()

	first, err := table.Begin()
	require.NoError(t, err)
	_, held, err := table.Resolve(CloseAck{ID: "stray"})
	require.NoError(t, err)
	require.True(t, held)

	// The second ack for a held id is an orphan straight away.
	_, held, err = table.Resolve(CloseAck{ID: "stray"})
	assert.ErrorIs(t, err, ErrPendingNotFound)
	assert.False(t, held)

	// A reservation taken after the ack arrived cannot keep it alive.
	second, err := table.Begin()
	require.NoError(t, err)

	s, err := table.Complete(first, "other", func(error) {})
	require.NoError(t, err)
	assert.Equal(t, []CloseAck{{ID: "stray"}}, s.Orphans)

	assert.Empty(t, table.Cancel(second))
	assert.Equal(t, 1, table.Len())
}

func TestPendingTableCancelReleasesHeldAcks(t *testing.T) {
	table := NewPendingTable()

	r, err := table.Begin()
	require.NoError(t, err)
	_, held, err := table.Resolve(CloseAck{ID: "y"})
	require.NoError(t, err)
	require.True(t, held)

	assert.Equal(t, []CloseAck{{ID: "y"}}, table.Cancel(r))

	_, held, err = table.Resolve(CloseAck{ID: "z"})
	assert.ErrorIs(t, err, ErrPendingNotFound)
	assert.False(t, held)
}

func TestPendingTableBoundsHeldAcks(t *testing.T) {
	table := NewPendingTable()
	_, err := table.Begin()
	require.NoError(t, err)

	for i := 0; i < maxHeldAcks; i++ {
		_, held, err := table.Resolve(CloseAck{ID: CorrelationID(fmt.Sprintf("h-%d", i))})
		require.NoError(t, err)
		require.True(t, held)
	}
	_, held, err := table.Resolve(CloseAck{ID: "overflow"})
	assert.ErrorIs(t, err, ErrPendingNotFound)
	assert.False(t, held)
}
