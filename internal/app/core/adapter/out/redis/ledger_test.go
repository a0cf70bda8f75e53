package redis

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/domain"
)

func newTestLedger(t *testing.T, clients ...domain.Client) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := NewRedisLedger(rdb)
	require.NoError(t, l.Provision(context.Background(), clients))
	return l, mr
}

func newTran(t *testing.T, clientID, value int64, kind, desc string) *domain.Transaction {
	t.Helper()
	tran, err := domain.NewTransaction(clientID, domain.Candidate{Value: value, Kind: kind, Description: desc})
	require.NoError(t, err)
	return tran
}

func TestRedisLedger_ApplyAndSnapshot(t *testing.T) {
	l, _ := newTestLedger(t, domain.Client{ID: 1, Limit: 1000})
	ctx := context.Background()

	credit := newTran(t, 1, 500, "c", "pix")
	res, err := l.Apply(ctx, credit)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionResult{Limit: 1000, Balance: 500}, res)
	assert.Equal(t, uint64(1), credit.Sequence)
	assert.False(t, credit.OccurredAt.IsZero())

	res, err = l.Apply(ctx, newTran(t, 1, 1500, "d", "a|b"))
	require.NoError(t, err)
	assert.Equal(t, int64(-1000), res.Balance)

	_, err = l.Apply(ctx, newTran(t, 1, 1, "d", "over"))
	assert.ErrorIs(t, err, domain.ErrLimitExceeded)

	st, err := l.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(-1000), st.Balance)
	assert.Equal(t, int64(1000), st.Limit)
	require.Len(t, st.Recent, 2)
	assert.Equal(t, "a|b", st.Recent[0].Description)
	assert.Equal(t, domain.KindDebit, st.Recent[0].Kind)
	assert.Equal(t, int64(1500), st.Recent[0].Value)
	assert.Equal(t, "pix", st.Recent[1].Description)
	assert.Equal(t, credit.RefID, st.Recent[1].RefID)
	assert.True(t, st.Recent[0].Newer(&st.Recent[1]))
}

func TestRedisLedger_HugeDebitIsRejected(t *testing.T) {
	l, _ := newTestLedger(t, domain.Client{ID: 1, Limit: 100})
	ctx := context.Background()

	_, err := l.Apply(ctx, newTran(t, 1, 50, "d", "a"))
	require.NoError(t, err)
	_, err = l.Apply(ctx, newTran(t, 1, math.MaxInt64, "d", "huge"))
	assert.ErrorIs(t, err, domain.ErrLimitExceeded)

	st, err := l.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(-50), st.Balance)
	assert.Len(t, st.Recent, 1)
}

func TestRedisLedger_ClientNotFound(t *testing.T) {
	l, _ := newTestLedger(t, domain.Client{ID: 1, Limit: 1000})
	ctx := context.Background()

	_, err := l.Apply(ctx, newTran(t, 6, 1, "c", "x"))
	assert.ErrorIs(t, err, domain.ErrClientNotFound)
	_, err = l.Snapshot(ctx, 6)
	assert.ErrorIs(t, err, domain.ErrClientNotFound)
}

func TestRedisLedger_TimeNeverGoesBackwards(t *testing.T) {
	l, _ := newTestLedger(t, domain.Client{ID: 1, Limit: 0})
	ctx := context.Background()

	base := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	l.now = func() time.Time { return clock }

	first := newTran(t, 1, 1, "c", "first")
	_, err := l.Apply(ctx, first)
	require.NoError(t, err)

	// 時鐘倒退
	clock = base.Add(-time.Minute)
	second := newTran(t, 1, 1, "c", "second")
	_, err = l.Apply(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, first.OccurredAt, second.OccurredAt)

	st, err := l.Snapshot(ctx, 1)
	require.NoError(t, err)
	require.Len(t, st.Recent, 2)
	assert.Equal(t, "second", st.Recent[0].Description)
	assert.Equal(t, base, st.Recent[0].OccurredAt)
}

func TestRedisLedger_StatementKeepsTenNewest(t *testing.T) {
	l, mr := newTestLedger(t, domain.Client{ID: 1, Limit: 0})
	ctx := context.Background()

	for i := int64(1); i <= 12; i++ {
		_, err := l.Apply(ctx, newTran(t, 1, i, "c", "c"))
		require.NoError(t, err)
	}
	st, err := l.Snapshot(ctx, 1)
	require.NoError(t, err)
	require.Len(t, st.Recent, domain.StatementSize)
	assert.Equal(t, int64(12), st.Recent[0].Value)
	assert.Equal(t, int64(3), st.Recent[9].Value)
	assert.Equal(t, int64(78), st.Balance)

	// 更舊的交易不會留在 list 裡
	stored, err := mr.List(historyKey(1))
	require.NoError(t, err)
	assert.Len(t, stored, domain.StatementSize)
}

func TestRedisLedger_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	l, _ := newTestLedger(t, domain.Client{ID: 1, Limit: 30})
	ctx := context.Background()

	var ok atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Apply(ctx, newTran(t, 1, 1, "d", "d")); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(30), ok.Load())
	st, err := l.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(-30), st.Balance)
}

func TestRedisLedger_ProvisionKeepsExistingState(t *testing.T) {
	l, _ := newTestLedger(t, domain.Client{ID: 1, Limit: 100}, domain.Client{ID: 2, Limit: 200})
	ctx := context.Background()

	_, err := l.Apply(ctx, newTran(t, 1, 40, "d", "rent"))
	require.NoError(t, err)
	require.NoError(t, l.Provision(ctx, []domain.Client{{ID: 1, Limit: 5}}))

	clients, err := l.LoadAllClients(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, int64(-40), clients[1].Balance)
	assert.Equal(t, int64(100), clients[1].Limit)
	assert.Equal(t, int64(200), clients[2].Limit)
}

func TestRedisLedger_ServerDownIsStoreError(t *testing.T) {
	l, mr := newTestLedger(t, domain.Client{ID: 1, Limit: 100})
	mr.Close()

	_, err := l.Apply(context.Background(), newTran(t, 1, 1, "c", "x"))
	require.Error(t, err)
	assert.Equal(t, domain.KindStore, domain.KindOf(err))

	_, err = l.Snapshot(context.Background(), 1)
	assert.Equal(t, domain.KindStore, domain.KindOf(err))
}

func TestDecodeEntry(t *testing.T) {
	ref := "6f1c2a34-9d7e-4b8a-a1f0-0c2d3e4f5a6b"
	tran, err := decodeEntry(3, "7|250|d|1706788800000|"+ref+"|x|y")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), tran.Sequence)
	assert.Equal(t, int64(3), tran.ClientID)
	assert.Equal(t, int64(250), tran.Value)
	assert.Equal(t, domain.KindDebit, tran.Kind)
	assert.Equal(t, "x|y", tran.Description)
	assert.Equal(t, time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC), tran.OccurredAt)

	_, err = decodeEntry(3, "7|250|d")
	assert.Error(t, err)
	_, err = decodeEntry(3, "7|250|z|1706788800000|"+ref+"|x")
	assert.Error(t, err)
}
