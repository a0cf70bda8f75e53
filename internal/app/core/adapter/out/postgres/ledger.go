package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-rinha-ledger/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS clientes (
	id     BIGINT PRIMARY KEY,
	limite BIGINT NOT NULL,
	saldo  BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS transacoes (
	id           BIGSERIAL PRIMARY KEY,
	ref_id       UUID NOT NULL UNIQUE,
	cliente_id   BIGINT NOT NULL REFERENCES clientes (id),
	valor        BIGINT NOT NULL,
	tipo         CHAR(1) NOT NULL,
	descricao    VARCHAR(10) NOT NULL,
	realizada_em TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transacoes_cliente_recentes
	ON transacoes (cliente_id, realizada_em DESC, id DESC);
`

const (
	queryLockClient = `SELECT limite, saldo FROM clientes WHERE id = $1 FOR UPDATE`
	queryInsertTran = `INSERT INTO transacoes (ref_id, cliente_id, valor, tipo, descricao, realizada_em)
	VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	queryUpdateSaldo = `UPDATE clientes SET saldo = $1 WHERE id = $2`
	querySelectSaldo = `SELECT limite, saldo FROM clientes WHERE id = $1`
	queryRecentTrans = `SELECT id, ref_id, valor, tipo, descricao, realizada_em FROM transacoes
	WHERE cliente_id = $1
	ORDER BY realizada_em DESC, id DESC
	LIMIT $2`
	querySeedClient = `INSERT INTO clientes (id, limite, saldo) VALUES ($1, $2, $3)
	ON CONFLICT (id) DO NOTHING`
	queryAllClients = `SELECT id, limite, saldo FROM clientes`
)

// PostgresLedger 使用 PostgreSQL 的列鎖 (SELECT ... FOR UPDATE) 序列化同一客戶的交易
type PostgresLedger struct {
	client *postgres.Client
	now    func() time.Time
}

func NewPostgresLedger(client *postgres.Client) *PostgresLedger {
	return &PostgresLedger{
		client: client,
		now:    time.Now,
	}
}

// EnsureSchema 建立資料表 (若不存在) 並寫入預設客戶，已存在的客戶不會被覆蓋
func (ledger *PostgresLedger) EnsureSchema(ctx context.Context, clients []domain.Client) error {
	db := ledger.client.DB()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	for _, c := range clients {
		if _, err := db.ExecContext(ctx, querySeedClient, c.ID, c.Limit, c.Balance); err != nil {
			return fmt.Errorf("seed client %d: %w", c.ID, err)
		}
	}
	return nil
}

// Apply 在單一資料庫交易內鎖定客戶列、檢查額度、寫入交易並更新餘額
//
// 參數:
//
//	ctx: 上下文 (到期時 lib/pq 會取消查詢，交易 rollback)
//	tran: 已驗證的交易
//
// 回傳:
//
//	domain.TransactionResult: 交易後的額度與餘額
//	error: ErrClientNotFound / ErrLimitExceeded / StoreError
func (ledger *PostgresLedger) Apply(ctx context.Context, tran *domain.Transaction) (res domain.TransactionResult, err error) {
	dbTx, err := ledger.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return res, domain.NewStoreError("postgres begin", err)
	}
	defer func() {
		if err != nil {
			_ = dbTx.Rollback()
		}
	}()

	var limite, saldo int64
	err = dbTx.QueryRowContext(ctx, queryLockClient, tran.ClientID).Scan(&limite, &saldo)
	if errors.Is(err, sql.ErrNoRows) {
		return res, domain.ErrClientNotFound
	}
	if err != nil {
		return res, domain.NewStoreError("postgres lock client", err)
	}

	client := domain.Client{ID: tran.ClientID, Limit: limite, Balance: saldo}
	next, err := client.Admits(tran.SignedEffect())
	if err != nil {
		return res, err
	}

	// 微秒精度，與 TIMESTAMPTZ 一致
	occurredAt := ledger.now().UTC().Truncate(time.Microsecond)
	var seq int64
	err = dbTx.QueryRowContext(ctx, queryInsertTran,
		tran.RefID, tran.ClientID, tran.Value, tran.Kind.Code(), tran.Description, occurredAt,
	).Scan(&seq)
	if err != nil {
		return res, domain.NewStoreError("postgres insert transaction", err)
	}
	if _, err = dbTx.ExecContext(ctx, queryUpdateSaldo, next, tran.ClientID); err != nil {
		return res, domain.NewStoreError("postgres update balance", err)
	}
	if err = dbTx.Commit(); err != nil {
		return res, domain.NewStoreError("postgres commit", err)
	}

	tran.Sequence, tran.OccurredAt = uint64(seq), occurredAt
	return domain.TransactionResult{Limit: limite, Balance: next}, nil
}

// Snapshot 在同一個 REPEATABLE READ 唯讀交易中讀取餘額與最近交易
func (ledger *PostgresLedger) Snapshot(ctx context.Context, clientID int64) (st *domain.Statement, err error) {
	dbTx, err := ledger.client.DB().BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, domain.NewStoreError("postgres begin", err)
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	var limite, saldo int64
	err = dbTx.QueryRowContext(ctx, querySelectSaldo, clientID).Scan(&limite, &saldo)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrClientNotFound
	}
	if err != nil {
		return nil, domain.NewStoreError("postgres select balance", err)
	}

	rows, err := dbTx.QueryContext(ctx, queryRecentTrans, clientID, domain.StatementSize)
	if err != nil {
		return nil, domain.NewStoreError("postgres select transactions", err)
	}
	defer rows.Close()

	recent := make([]domain.Transaction, 0, domain.StatementSize)
	for rows.Next() {
		var (
			seq  int64
			ref  uuid.UUID
			tipo string
			t    = domain.Transaction{ClientID: clientID}
		)
		if err := rows.Scan(&seq, &ref, &t.Value, &tipo, &t.Description, &t.OccurredAt); err != nil {
			return nil, domain.NewStoreError("postgres scan transaction", err)
		}
		kind, err := domain.ParseKind(tipo)
		if err != nil {
			return nil, domain.NewStoreError("postgres scan transaction", fmt.Errorf("row %d: %s", seq, err))
		}
		t.Sequence, t.RefID, t.Kind = uint64(seq), ref, kind
		t.OccurredAt = t.OccurredAt.UTC()
		recent = append(recent, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("postgres select transactions", err)
	}

	return domain.NewStatement(saldo, limite, ledger.now(), recent), nil
}

// LoadAllClients 載入所有客戶
func (ledger *PostgresLedger) LoadAllClients(ctx context.Context) (map[int64]*domain.Client, error) {
	rows, err := ledger.client.DB().QueryContext(ctx, queryAllClients)
	if err != nil {
		return nil, domain.NewStoreError("postgres load clients", err)
	}
	defer rows.Close()

	clients := make(map[int64]*domain.Client)
	for rows.Next() {
		var id, limite, saldo int64
		if err := rows.Scan(&id, &limite, &saldo); err != nil {
			return nil, domain.NewStoreError("postgres load clients", err)
		}
		clients[id] = domain.NewClient(id, limite, saldo)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("postgres load clients", err)
	}
	return clients, nil
}

var _ usecase.Ledger = (*PostgresLedger)(nil)
