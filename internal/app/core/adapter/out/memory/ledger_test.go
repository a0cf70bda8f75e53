package memory

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-rinha-ledger/pkg/wal"
)

type ledgerFactory func(t *testing.T, clients map[int64]*domain.Client, opts ...Option) usecase.Ledger

func newMutex(t *testing.T, clients map[int64]*domain.Client, opts ...Option) usecase.Ledger {
	t.Helper()
	l, err := NewMutexLedger(clients, opts...)
	require.NoError(t, err)
	return l
}

func newActor(t *testing.T, clients map[int64]*domain.Client, opts ...Option) usecase.Ledger {
	t.Helper()
	l, err := NewActorLedger(clients, opts...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	t.Cleanup(func() {
		cancel()
		l.Wait()
	})
	return l
}

var factories = map[string]ledgerFactory{
	"mutex": newMutex,
	"actor": newActor,
}

func clientsWith(limits map[int64]int64) map[int64]*domain.Client {
	out := make(map[int64]*domain.Client, len(limits))
	for id, limit := range limits {
		out[id] = domain.NewClient(id, limit, 0)
	}
	return out
}

func tx(clientID int64, value int64, kind domain.TransactionKind, desc string) *domain.Transaction {
	return &domain.Transaction{ClientID: clientID, Value: value, Kind: kind, Description: desc}
}

func TestLedger_ApplyAndSnapshot(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := factory(t, clientsWith(map[int64]int64{1: 100}))

			res, err := l.Apply(ctx, tx(1, 50, domain.KindDebit, "a"))
			require.NoError(t, err)
			assert.Equal(t, domain.TransactionResult{Limit: 100, Balance: -50}, res)

			_, err = l.Apply(ctx, tx(1, 60, domain.KindDebit, "b"))
			assert.ErrorIs(t, err, domain.ErrLimitExceeded)

			res, err = l.Apply(ctx, tx(1, 200, domain.KindCredit, "salary"))
			require.NoError(t, err)
			assert.Equal(t, int64(150), res.Balance)

			st, err := l.Snapshot(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, int64(150), st.Balance)
			assert.Equal(t, int64(100), st.Limit)
			require.Len(t, st.Recent, 2)
			assert.Equal(t, "salary", st.Recent[0].Description)
			assert.Equal(t, "a", st.Recent[1].Description)
			assert.Greater(t, st.Recent[0].Sequence, st.Recent[1].Sequence)
		})
	}
}

func TestLedger_ClientNotFound(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := factory(t, clientsWith(map[int64]int64{1: 100}))

			_, err := l.Apply(ctx, tx(999, 1, domain.KindCredit, "x"))
			assert.ErrorIs(t, err, domain.ErrClientNotFound)

			_, err = l.Snapshot(ctx, 999)
			assert.ErrorIs(t, err, domain.ErrClientNotFound)
		})
	}
}

func TestLedger_StatementKeepsTenNewest(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			// 固定時間，排序只能靠 Sequence
			fixed := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
			l := factory(t, clientsWith(map[int64]int64{1: 0}), WithClock(func() time.Time { return fixed }))

			for i := int64(1); i <= 15; i++ {
				_, err := l.Apply(ctx, tx(1, i, domain.KindCredit, "c"))
				require.NoError(t, err)
			}

			st, err := l.Snapshot(ctx, 1)
			require.NoError(t, err)
			require.Len(t, st.Recent, domain.StatementSize)
			assert.Equal(t, int64(15), st.Recent[0].Value)
			assert.Equal(t, int64(6), st.Recent[9].Value)
			for i := 1; i < len(st.Recent); i++ {
				assert.True(t, st.Recent[i-1].Newer(&st.Recent[i]), "entry %d out of order", i)
			}
			assert.Equal(t, int64(120), st.Balance)
		})
	}
}

func TestLedger_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := factory(t, clientsWith(map[int64]int64{1: 0, 2: 10}))

			const n = 200
			var ok1, ok2 atomic.Int64
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					if _, err := l.Apply(ctx, tx(1, 1, domain.KindDebit, "d")); err == nil {
						ok1.Add(1)
					} else {
						assert.ErrorIs(t, err, domain.ErrLimitExceeded)
					}
				}()
				go func() {
					defer wg.Done()
					if _, err := l.Apply(ctx, tx(2, 1, domain.KindDebit, "d")); err == nil {
						ok2.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int64(0), ok1.Load())
			assert.Equal(t, int64(10), ok2.Load())

			st, err := l.Snapshot(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, int64(-10), st.Balance)
		})
	}
}

func TestLedger_BalanceEqualsSumOfEffects(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := factory(t, clientsWith(map[int64]int64{1: 500}))

			var sum atomic.Int64
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					kind := domain.KindDebit
					if i%3 == 0 {
						kind = domain.KindCredit
					}
					tran := tx(1, int64(i%37+1), kind, "mix")
					if _, err := l.Apply(ctx, tran); err == nil {
						sum.Add(tran.SignedEffect())
					}
				}(i)
			}
			wg.Wait()

			st, err := l.Snapshot(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, sum.Load(), st.Balance)
			assert.GreaterOrEqual(t, st.Balance, -st.Limit)
		})
	}
}

func TestLedger_ExpiredContextDoesNotApply(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			l := factory(t, clientsWith(map[int64]int64{1: 100}))

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := l.Apply(ctx, tx(1, 10, domain.KindCredit, "late"))
			require.Error(t, err)
			assert.Equal(t, domain.KindStore, domain.KindOf(err))
			assert.True(t, domain.IsTimeout(err))

			st, err := l.Snapshot(context.Background(), 1)
			require.NoError(t, err)
			assert.Equal(t, int64(0), st.Balance)
			assert.Empty(t, st.Recent)
		})
	}
}

func TestMutexLedger_HistoryIsBounded(t *testing.T) {
	l, err := NewMutexLedger(clientsWith(map[int64]int64{1: 0}))
	require.NoError(t, err)
	ctx := context.Background()

	for i := int64(1); i <= 25; i++ {
		_, err := l.Apply(ctx, tx(1, i, domain.KindCredit, "c"))
		require.NoError(t, err)
	}
	hist := l.clients[1].history
	require.Len(t, hist, domain.StatementSize)
	assert.Equal(t, int64(16), hist[0].Value)
	assert.Equal(t, int64(25), hist[len(hist)-1].Value)

	st, err := l.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(325), st.Balance)
	assert.Equal(t, int64(25), st.Recent[0].Value)
}

func TestMutexLedger_SnapshotTimesOutWhileLocked(t *testing.T) {
	l, err := NewMutexLedger(clientsWith(map[int64]int64{1: 100, 2: 100}))
	require.NoError(t, err)

	// 模擬一筆進行中的 Apply 持有客戶 1 的鎖
	_, unlock, err := l.lock(context.Background(), 1)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Snapshot(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, domain.KindOf(err).Retryable())

	// 其他客戶不受影響
	_, err = l.Apply(context.Background(), tx(2, 1, domain.KindCredit, "other"))
	assert.NoError(t, err)
}

func TestLedger_RecoverFromWAL(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "wal.log")
			clients := map[int64]int64{1: 100, 2: 0}

			w, err := wal.NewWAL(path)
			require.NoError(t, err)
			l := factory(t, clientsWith(clients), WithWAL(w))
			ctx := context.Background()
			_, err = l.Apply(ctx, tx(1, 80, domain.KindDebit, "rent"))
			require.NoError(t, err)
			_, err = l.Apply(ctx, tx(2, 30, domain.KindCredit, "gift"))
			require.NoError(t, err)
			_, err = l.Apply(ctx, tx(1, 30, domain.KindDebit, "too much"))
			require.ErrorIs(t, err, domain.ErrLimitExceeded)
			require.NoError(t, w.Close())

			w2, err := wal.NewWAL(path)
			require.NoError(t, err)
			defer w2.Close()
			recovered := factory(t, clientsWith(clients), WithWAL(w2))

			st, err := recovered.Snapshot(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, int64(-80), st.Balance)
			require.Len(t, st.Recent, 1)
			assert.Equal(t, "rent", st.Recent[0].Description)

			// 序號延續，不會重複
			tran := tx(2, 5, domain.KindDebit, "next")
			_, err = recovered.Apply(ctx, tran)
			require.NoError(t, err)
			assert.Equal(t, uint64(3), tran.Sequence)
		})
	}
}

func TestLedger_LoadAllClientsReturnsCopies(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := factory(t, clientsWith(map[int64]int64{1: 100, 2: 200}))
			_, err := l.Apply(ctx, tx(2, 7, domain.KindCredit, "x"))
			require.NoError(t, err)

			clients, err := l.LoadAllClients(ctx)
			require.NoError(t, err)
			require.Len(t, clients, 2)
			assert.Equal(t, int64(7), clients[2].Balance)
			assert.Equal(t, int64(200), clients[2].Limit)

			clients[2].Balance = 1_000_000
			st, err := l.Snapshot(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, int64(7), st.Balance)
		})
	}
}
