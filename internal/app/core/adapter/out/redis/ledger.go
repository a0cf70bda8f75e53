package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/usecase"
)

// clientsKey 所有已開通客戶的 id (Set)
const clientsKey = "ledger:clientes"

func clientKey(id int64) string {
	return fmt.Sprintf("{cliente:%d}", id)
}

func historyKey(id int64) string {
	return fmt.Sprintf("{cliente:%d}:transacoes", id)
}

// RedisLedger 以 Lua script 在 Redis 內完成「檢查額度 + 寫入 + 更新餘額」
// 同一客戶的 key 使用相同的 hash tag，Cluster 下也落在同一個 slot
type RedisLedger struct {
	rdb goredis.UniversalClient
	now func() time.Time
}

func NewRedisLedger(rdb goredis.UniversalClient) *RedisLedger {
	return &RedisLedger{
		rdb: rdb,
		now: time.Now,
	}
}

// Provision 開通客戶，已存在的客戶保留原本的額度與餘額
func (l *RedisLedger) Provision(ctx context.Context, clients []domain.Client) error {
	_, err := l.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, c := range clients {
			key := clientKey(c.ID)
			pipe.HSetNX(ctx, key, "limite", c.Limit)
			pipe.HSetNX(ctx, key, "saldo", c.Balance)
			pipe.SAdd(ctx, clientsKey, c.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("provision clients: %w", err)
	}
	return nil
}

// Apply 套用交易
//
// 參數:
//
//	ctx: 上下文 (deadline 套用到 Redis 命令)
//	tran: 已驗證的交易，成功時會填入 Sequence 與 OccurredAt
//
// 回傳:
//
//	domain.TransactionResult: 交易後的額度與餘額
//	error: ErrClientNotFound / ErrLimitExceeded / StoreError
func (l *RedisLedger) Apply(ctx context.Context, tran *domain.Transaction) (domain.TransactionResult, error) {
	keys := []string{clientKey(tran.ClientID), historyKey(tran.ClientID)}
	reply, err := applyScript.Run(ctx, l.rdb, keys,
		tran.SignedEffect(),
		l.now().UnixMilli(),
		tran.Value,
		tran.Kind.Code(),
		tran.RefID.String(),
		tran.Description,
		domain.StatementSize,
	).Slice()
	if err != nil {
		return domain.TransactionResult{}, domain.NewStoreError("redis apply", err)
	}

	code, err := replyInt(reply, 0)
	if err != nil {
		return domain.TransactionResult{}, domain.NewStoreError("redis apply", err)
	}
	switch code {
	case codeNotFound:
		return domain.TransactionResult{}, domain.ErrClientNotFound
	case codeLimitExceeded:
		return domain.TransactionResult{}, domain.ErrLimitExceeded
	case codeOverflow:
		// saldo 超出 int64，與 domain.Client.Admits 的判斷一致
		if tran.Kind == domain.KindDebit {
			return domain.TransactionResult{}, domain.ErrLimitExceeded
		}
		return domain.TransactionResult{}, domain.ErrInvalidValue
	case codeOK:
	default:
		return domain.TransactionResult{}, domain.NewStoreError("redis apply", fmt.Errorf("unexpected reply code %d", code))
	}

	var vals [4]int64
	for i := range vals {
		if vals[i], err = replyInt(reply, i+1); err != nil {
			return domain.TransactionResult{}, domain.NewStoreError("redis apply", err)
		}
	}
	tran.Sequence = uint64(vals[2])
	tran.OccurredAt = time.UnixMilli(vals[3]).UTC()
	return domain.TransactionResult{Balance: vals[0], Limit: vals[1]}, nil
}

// Snapshot 取得對帳單
func (l *RedisLedger) Snapshot(ctx context.Context, clientID int64) (*domain.Statement, error) {
	keys := []string{clientKey(clientID), historyKey(clientID)}
	reply, err := snapshotScript.Run(ctx, l.rdb, keys, domain.StatementSize).Slice()
	if err != nil {
		return nil, domain.NewStoreError("redis snapshot", err)
	}
	takenAt := l.now().UTC()

	code, err := replyInt(reply, 0)
	if err != nil {
		return nil, domain.NewStoreError("redis snapshot", err)
	}
	if code == codeNotFound {
		return nil, domain.ErrClientNotFound
	}

	limite, err := replyInt(reply, 1)
	if err != nil {
		return nil, domain.NewStoreError("redis snapshot", err)
	}
	saldo, err := replyInt(reply, 2)
	if err != nil {
		return nil, domain.NewStoreError("redis snapshot", err)
	}
	var entries []any
	if len(reply) > 3 {
		entries, _ = reply[3].([]any)
	}

	recent := make([]domain.Transaction, 0, len(entries))
	for _, e := range entries {
		raw, _ := e.(string)
		tran, err := decodeEntry(clientID, raw)
		if err != nil {
			return nil, domain.NewStoreError("redis snapshot", err)
		}
		recent = append(recent, tran)
	}
	return domain.NewStatement(saldo, limite, takenAt, recent), nil
}

// LoadAllClients 載入所有已開通的客戶
func (l *RedisLedger) LoadAllClients(ctx context.Context) (map[int64]*domain.Client, error) {
	members, err := l.rdb.SMembers(ctx, clientsKey).Result()
	if err != nil {
		return nil, domain.NewStoreError("redis load clients", err)
	}

	ids := make([]int64, 0, len(members))
	cmds := make([]*goredis.SliceCmd, 0, len(members))
	_, err = l.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, m := range members {
			id, err := strconv.ParseInt(m, 10, 64)
			if err != nil {
				return fmt.Errorf("client id %q: %w", m, err)
			}
			ids = append(ids, id)
			cmds = append(cmds, pipe.HMGet(ctx, clientKey(id), "limite", "saldo"))
		}
		return nil
	})
	if err != nil {
		return nil, domain.NewStoreError("redis load clients", err)
	}

	clients := make(map[int64]*domain.Client, len(ids))
	for i, id := range ids {
		vals := cmds[i].Val()
		limite, err := parseField(vals, 0)
		if err != nil {
			return nil, domain.NewStoreError("redis load clients", err)
		}
		saldo, err := parseField(vals, 1)
		if err != nil {
			return nil, domain.NewStoreError("redis load clients", err)
		}
		clients[id] = domain.NewClient(id, limite, saldo)
	}
	return clients, nil
}

// decodeEntry 解析 list 內的交易紀錄: seq|valor|tipo|realizada_em_ms|ref_id|descricao
// descricao 放在最後，本身可以包含 '|'
func decodeEntry(clientID int64, raw string) (domain.Transaction, error) {
	parts := strings.SplitN(raw, "|", 6)
	if len(parts) != 6 {
		return domain.Transaction{}, fmt.Errorf("malformed entry %q", raw)
	}
	seq, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("entry sequence %q: %w", parts[0], err)
	}
	valor, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("entry value %q: %w", parts[1], err)
	}
	kind, err := domain.ParseKind(parts[2])
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("entry %d: %s", seq, err)
	}
	ms, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("entry time %q: %w", parts[3], err)
	}
	ref, err := uuid.Parse(parts[4])
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("entry ref_id %q: %w", parts[4], err)
	}
	return domain.Transaction{
		Sequence:    seq,
		ClientID:    clientID,
		Value:       valor,
		Kind:        kind,
		OccurredAt:  time.UnixMilli(ms).UTC(),
		RefID:       ref,
		Description: parts[5],
	}, nil
}

func replyInt(reply []any, i int) (int64, error) {
	if i >= len(reply) {
		return 0, fmt.Errorf("reply has %d elements, want index %d", len(reply), i)
	}
	switch v := reply[i].(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("reply[%d] has unexpected type %T", i, reply[i])
}

func parseField(vals []any, i int) (int64, error) {
	if i >= len(vals) || vals[i] == nil {
		return 0, fmt.Errorf("missing field %d", i)
	}
	s, ok := vals[i].(string)
	if !ok {
		return 0, fmt.Errorf("field %d has unexpected type %T", i, vals[i])
	}
	return strconv.ParseInt(s, 10, 64)
}

var _ usecase.Ledger = (*RedisLedger)(nil)
