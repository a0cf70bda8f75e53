package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-rinha-ledger/pkg/wal"
)

const inboxSize = 1000

var errLedgerStopped = errors.New("actor ledger stopped")

// actorRequest 請求包裝 channel，讓呼叫端可以等待結果
// tran 為 nil 時代表 Snapshot
type actorRequest struct {
	ctx    context.Context
	tran   *domain.Transaction
	result chan actorResponse
}

type actorResponse struct {
	res       domain.TransactionResult
	statement *domain.Statement
	err       error
}

// actor 每個客戶一條輸送帶與一個 goroutine，狀態只在該 goroutine 內存取
type actor struct {
	state   *clientState
	inbox   chan *actorRequest
	stopped chan struct{}
}

// ActorLedger 單一寫入者帳本 (LMAX 風格，依客戶分片)
// 同一客戶的所有請求由同一個 goroutine 依序處理，不同客戶完全平行
type ActorLedger struct {
	actors map[int64]*actor
	seq    atomic.Uint64
	wal    *wal.WAL
	now    func() time.Time
	// Pool 減少 GC 壓力
	requestPool sync.Pool
	wg          sync.WaitGroup
}

// NewActorLedger 建立一個新的 ActorLedger 實例，需呼叫 Start 才會開始處理
//
// 參數:
//
//	clients: 初始客戶資料 Map
//	opts: WithWAL / WithClock
//
// 回傳:
//
//	*ActorLedger: ActorLedger 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewActorLedger(clients map[int64]*domain.Client, opts ...Option) (*ActorLedger, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	states := newClientStates(clients)

	// 在啟動前先恢復資料
	maxSeq, err := replayWAL(o.wal, states)
	if err != nil {
		return nil, err
	}

	ledger := &ActorLedger{
		actors: make(map[int64]*actor, len(states)),
		wal:    o.wal,
		now:    o.now,
		requestPool: sync.Pool{
			New: func() any {
				return &actorRequest{result: make(chan actorResponse, 1)}
			},
		},
	}
	ledger.seq.Store(maxSeq)
	for id, st := range states {
		ledger.actors[id] = &actor{
			state:   st,
			inbox:   make(chan *actorRequest, inboxSize),
			stopped: make(chan struct{}),
		}
	}
	return ledger, nil
}

// Start 啟動每個客戶的處理迴圈 (非同步)，ctx 取消後處理完剩下的請求才結束
func (l *ActorLedger) Start(ctx context.Context) {
	for _, a := range l.actors {
		l.wg.Add(1)
		go l.run(ctx, a)
	}
}

// Wait 等待所有處理迴圈結束
func (l *ActorLedger) Wait() {
	l.wg.Wait()
}

func (l *ActorLedger) run(ctx context.Context, a *actor) {
	defer l.wg.Done()
	defer close(a.stopped)
	for {
		select {
		case <-ctx.Done():
			// 收到關閉信號，把剩下的請求處理完
			l.drain(a)
			return
		case req := <-a.inbox:
			l.process(a, req)
		}
	}
}

func (l *ActorLedger) drain(a *actor) {
	for {
		select {
		case req := <-a.inbox:
			l.process(a, req)
		default:
			return
		}
	}
}

// process 處理單筆請求並回傳結果
func (l *ActorLedger) process(a *actor, req *actorRequest) {
	// 呼叫端已放棄 (逾時)，不再處理
	if err := req.ctx.Err(); err != nil {
		req.result <- actorResponse{err: domain.NewStoreError("dequeue request", err)}
		return
	}
	if req.tran == nil {
		req.result <- actorResponse{statement: a.state.statement(l.now())}
		return
	}

	st := a.state
	next, err := st.client.Admits(req.tran.SignedEffect())
	if err != nil {
		req.result <- actorResponse{err: err}
		return
	}

	rec := *req.tran
	rec.Sequence = l.seq.Add(1)
	rec.OccurredAt = st.stamp(l.now())

	// 1. 寫入 WAL (Critical Path)
	if l.wal != nil {
		if err := l.wal.Write(&rec); err != nil {
			req.result <- actorResponse{err: domain.NewStoreError("write wal", err)}
			return
		}
	}

	// 2. 更新狀態並回傳結果
	st.commit(rec, next)
	req.tran.Sequence, req.tran.OccurredAt = rec.Sequence, rec.OccurredAt
	req.result <- actorResponse{res: st.client.Result()}
}

// send 放入輸送帶並等待結果
//
// Apply 一旦進入輸送帶就必須等到 actor 回覆，才能確定交易是否已提交；
// actor 取出請求時會先檢查 ctx，逾時的請求不會被套用。
// Snapshot 是唯讀的，ctx 到期即可直接放棄。
func (l *ActorLedger) send(ctx context.Context, clientID int64, tran *domain.Transaction) (actorResponse, error) {
	a, ok := l.actors[clientID]
	if !ok {
		return actorResponse{}, domain.ErrClientNotFound
	}
	if err := ctx.Err(); err != nil {
		return actorResponse{}, domain.NewStoreError("enqueue request", err)
	}

	// 使用 sync.Pool 減少 GC
	req := l.requestPool.Get().(*actorRequest)
	req.ctx = ctx
	req.tran = tran

	select {
	case a.inbox <- req:
	case <-ctx.Done():
		l.release(req)
		return actorResponse{}, domain.NewStoreError("enqueue request", ctx.Err())
	case <-a.stopped:
		l.release(req)
		return actorResponse{}, domain.NewStoreError("enqueue request", errLedgerStopped)
	}

	var readOnly <-chan struct{}
	if tran == nil {
		readOnly = ctx.Done()
	}
	select {
	case resp := <-req.result:
		l.release(req)
		return resp, resp.err
	case <-readOnly:
		// actor 之後仍會寫入 result，這個 req 不放回 Pool
		return actorResponse{}, domain.NewStoreError("await snapshot", ctx.Err())
	case <-a.stopped:
		select {
		case resp := <-req.result:
			l.release(req)
			return resp, resp.err
		default:
			return actorResponse{}, domain.NewStoreError("await request", errLedgerStopped)
		}
	}
}

func (l *ActorLedger) release(req *actorRequest) {
	req.ctx = nil
	req.tran = nil
	l.requestPool.Put(req)
}

// Apply 套用交易
//
// PostTransaction(等待) -> Inbox -> Actor Loop -> WAL -> State Update -> Result Channel -> Apply(收到結果)
func (l *ActorLedger) Apply(ctx context.Context, tran *domain.Transaction) (domain.TransactionResult, error) {
	resp, err := l.send(ctx, tran.ClientID, tran)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	return resp.res, nil
}

// Snapshot 取得對帳單，排在同一客戶先前送入的交易之後處理
func (l *ActorLedger) Snapshot(ctx context.Context, clientID int64) (*domain.Statement, error) {
	resp, err := l.send(ctx, clientID, nil)
	if err != nil {
		return nil, err
	}
	return resp.statement, nil
}

// LoadAllClients 透過 Snapshot 取得每個客戶目前的狀態
func (l *ActorLedger) LoadAllClients(ctx context.Context) (map[int64]*domain.Client, error) {
	out := make(map[int64]*domain.Client, len(l.actors))
	for id := range l.actors {
		st, err := l.Snapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = domain.NewClient(id, st.Limit, st.Balance)
	}
	return out, nil
}

var _ usecase.Ledger = (*ActorLedger)(nil)
