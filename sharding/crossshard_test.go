package sharding

import (
	"testing"

	"github.com/optimachain/optimachain/shared"
	"github.com/optimachain/optimachain/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCrossShardObserver struct {
	mock.Mock
}

func (m *mockCrossShardObserver) OnReadyForDestination(tx CrossShardTransaction) { m.Called(tx) }
func (m *mockCrossShardObserver) OnFinalized(tx CrossShardTransaction)           { m.Called(tx) }

func txID(b byte) types.TransactionID {
	return types.TransactionID{b}
}

func TestCrossShardHappyPath(t *testing.T) {
	c := NewCrossShardCoordinator(nil)
	obs := new(mockCrossShardObserver)
	obs.On("OnReadyForDestination", mock.Anything).Return()
	obs.On("OnFinalized", mock.Anything).Return()
	c.SetObserver(obs)

	tx, err := c.SubmitTransaction(txID(1), 1, 2, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, StatusPendingSource, tx.Status)
	assert.Len(t, c.PendingForSource(1), 1)

	t.Run("finalize before destination commit fails", func(t *testing.T) {
		_, err := c.FinalizeTransaction(txID(1))
		assert.ErrorIs(t, err, shared.ErrTransactionNotFound)
		_, err = c.CommitInDestination(txID(1), types.BlockID{2})
		assert.ErrorIs(t, err, shared.ErrTransactionNotFound)
		got, _ := c.Transaction(txID(1))
		assert.Equal(t, StatusPendingSource, got.Status)
	})

	tx, err = c.CommitInSource(txID(1), types.BlockID{1})
	require.NoError(t, err)
	assert.Equal(t, StatusCommittedSource, tx.Status)
	require.NotNil(t, tx.SourceBlockID)
	assert.Equal(t, types.BlockID{1}, *tx.SourceBlockID)
	assert.Empty(t, c.PendingForSource(1))
	assert.Len(t, c.PendingForDestination(2), 1)
	obs.AssertCalled(t, "OnReadyForDestination", tx)

	tx, err = c.CommitInDestination(txID(1), types.BlockID{2})
	require.NoError(t, err)
	assert.Equal(t, StatusCommittedDestination, tx.Status)
	assert.Equal(t, types.BlockID{2}, *tx.DestinationBlockID)
	assert.Empty(t, c.PendingForDestination(2))
	assert.Equal(t, 1, c.WaitingForFinality())

	tx, err = c.FinalizeTransaction(txID(1))
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, tx.Status)
	assert.Zero(t, c.WaitingForFinality())
	obs.AssertCalled(t, "OnFinalized", tx)

	_, err = c.FailTransaction(txID(1), "too late")
	assert.ErrorIs(t, err, shared.ErrTransactionNotFound)
	got, ok := c.Transaction(txID(1))
	require.True(t, ok)
	assert.Equal(t, StatusFinalized, got.Status)
}

func TestCrossShardFailFromEveryLiveState(t *testing.T) {
	c := NewCrossShardCoordinator(nil)
	for i := byte(1); i <= 3; i++ {
		_, err := c.SubmitTransaction(txID(i), 1, 2, nil)
		require.NoError(t, err)
	}
	_, err := c.CommitInSource(txID(2), types.BlockID{})
	require.NoError(t, err)
	_, err = c.CommitInSource(txID(3), types.BlockID{})
	require.NoError(t, err)
	_, err = c.CommitInDestination(txID(3), types.BlockID{})
	require.NoError(t, err)

	for i := byte(1); i <= 3; i++ {
		tx, err := c.FailTransaction(txID(i), "aborted")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, tx.Status)
		assert.Equal(t, "aborted", tx.FailureReason)
	}
	assert.Empty(t, c.PendingForSource(1))
	assert.Empty(t, c.PendingForDestination(2))
	assert.Zero(t, c.WaitingForFinality())

	_, err = c.FailTransaction(txID(9), "unknown")
	assert.ErrorIs(t, err, shared.ErrTransactionNotFound)
}

func TestCrossShardQueueOrder(t *testing.T) {
	c := NewCrossShardCoordinator(nil)
	for _, b := range []byte{3, 1, 2} {
		_, err := c.SubmitTransaction(txID(b), 5, 6, nil)
		require.NoError(t, err)
	}
	pending := c.PendingForSource(5)
	require.Len(t, pending, 3)
	assert.Equal(t, txID(3), pending[0].TransactionID)
	assert.Equal(t, txID(2), pending[2].TransactionID)

	_, err := c.CommitInSource(txID(1), types.BlockID{})
	require.NoError(t, err)
	pending = c.PendingForSource(5)
	assert.Equal(t, []types.TransactionID{txID(3), txID(2)}, []types.TransactionID{pending[0].TransactionID, pending[1].TransactionID})

	_, err = c.SubmitTransaction(txID(3), 5, 6, nil)
	assert.ErrorIs(t, err, shared.ErrDuplicateTransaction)
}

func TestCrossShardRestore(t *testing.T) {
	src := NewCrossShardCoordinator(nil)
	for _, b := range []byte{4, 1, 3, 2, 5} {
		_, err := src.SubmitTransaction(txID(b), 1, 2, nil)
		require.NoError(t, err)
	}
	_, err := src.CommitInSource(txID(3), types.BlockID{1})
	require.NoError(t, err)
	_, err = src.CommitInSource(txID(1), types.BlockID{1})
	require.NoError(t, err)
	_, err = src.CommitInSource(txID(2), types.BlockID{1})
	require.NoError(t, err)
	_, err = src.CommitInDestination(txID(2), types.BlockID{2})
	require.NoError(t, err)
	_, err = src.FailTransaction(txID(5), "aborted")
	require.NoError(t, err)

	var saved []CrossShardTransaction
	for b := byte(5); b >= 1; b-- {
		tx, ok := src.Transaction(txID(b))
		require.True(t, ok)
		saved = append(saved, tx)
	}

	c := NewCrossShardCoordinator(nil)
	assert.Zero(t, c.Restore(saved))
	assert.Equal(t, 1, c.Restore(saved[:1]), "an id already loaded is skipped")

	pending := c.PendingForSource(1)
	require.Len(t, pending, 1)
	assert.Equal(t, txID(4), pending[0].TransactionID)

	ready := c.PendingForDestination(2)
	require.Len(t, ready, 2)
	assert.Equal(t, txID(3), ready[0].TransactionID, "destination queue keeps source-commit order")
	assert.Equal(t, txID(1), ready[1].TransactionID)

	waiting := c.Waiting()
	require.Len(t, waiting, 1)
	assert.Equal(t, txID(2), waiting[0].TransactionID)
	require.NotNil(t, waiting[0].DestinationBlockID)
	assert.Equal(t, types.BlockID{2}, *waiting[0].DestinationBlockID)

	failed, ok := c.Transaction(txID(5))
	require.True(t, ok)
	assert.Equal(t, StatusFailed, failed.Status)

	tx, err := c.FinalizeTransaction(txID(2))
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, tx.Status)

	fresh, err := c.SubmitTransaction(txID(9), 1, 2, nil)
	require.NoError(t, err)
	assert.Greater(t, fresh.Sequence, ready[1].Sequence, "new submissions sort after restored ones")
}
