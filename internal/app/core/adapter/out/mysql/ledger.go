package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-rinha-ledger/pkg/mysql"
)

// sqlClient 對應資料庫的 clientes 表
type sqlClient struct {
	ID     int64 `gorm:"primaryKey;autoIncrement:false"`
	Limite int64 `gorm:"not null"`
	Saldo  int64 `gorm:"not null;default:0"`
}

func (*sqlClient) TableName() string {
	return "clientes"
}

// sqlTransaction 對應資料庫的 transacoes 表
// ID (AUTO_INCREMENT) 即為 domain.Transaction.Sequence
type sqlTransaction struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	RefID       []byte    `gorm:"column:ref_id;type:binary(16);uniqueIndex"` // 對應 domain.Transaction.RefID
	ClienteID   int64     `gorm:"not null;index:idx_cliente_recentes,priority:1"`
	Valor       int64     `gorm:"not null"`
	Tipo        string    `gorm:"type:char(1);not null"`
	Descricao   string    `gorm:"type:varchar(10);not null"`
	RealizadaEm time.Time `gorm:"type:datetime(6);not null;index:idx_cliente_recentes,priority:2,sort:desc"`
}

func (*sqlTransaction) TableName() string {
	return "transacoes"
}

func (t *sqlTransaction) toDomain() domain.Transaction {
	ref, _ := uuid.FromBytes(t.RefID)
	var kind domain.TransactionKind
	if len(t.Tipo) == 1 {
		kind = domain.TransactionKind(t.Tipo[0])
	}
	return domain.Transaction{
		Sequence:    t.ID,
		RefID:       ref,
		ClientID:    t.ClienteID,
		Value:       t.Valor,
		Kind:        kind,
		Description: t.Descricao,
		OccurredAt:  t.RealizadaEm.UTC(),
	}
}

// MySQLLedger Level 0: 直接使用資料庫的悲觀鎖 (SELECT ... FOR UPDATE)
type MySQLLedger struct {
	client *mysql.Client
	now    func() time.Time
}

func NewMySQLLedger(client *mysql.Client) *MySQLLedger {
	return &MySQLLedger{
		client: client,
		now:    time.Now,
	}
}

// Migrate 建立資料表 (若不存在) 並寫入預設客戶，已存在的客戶不會被覆蓋
func (ledger *MySQLLedger) Migrate(ctx context.Context, clients []domain.Client) error {
	db := ledger.client.DB().WithContext(ctx)
	if err := db.AutoMigrate(&sqlClient{}, &sqlTransaction{}); err != nil {
		return err
	}
	for _, c := range clients {
		row := sqlClient{ID: c.ID, Limite: c.Limit, Saldo: c.Balance}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// Apply 在單一資料庫交易內鎖定客戶列、檢查額度、寫入交易並更新餘額
//
// 參數:
//
//	ctx: 上下文 (deadline 會傳到 driver，逾時即 rollback)
//	tran: 已驗證的交易
//
// 回傳:
//
//	domain.TransactionResult: 交易後的額度與餘額
//	error: ErrClientNotFound / ErrLimitExceeded / StoreError
func (ledger *MySQLLedger) Apply(ctx context.Context, tran *domain.Transaction) (domain.TransactionResult, error) {
	var result domain.TransactionResult
	err := ledger.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 取得鎖定帳號 悲觀鎖
		var client sqlClient
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", tran.ClientID).
			Take(&client).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrClientNotFound
		}
		if err != nil {
			return err
		}

		current := domain.Client{ID: client.ID, Limit: client.Limite, Balance: client.Saldo}
		next, err := current.Admits(tran.SignedEffect())
		if err != nil {
			return err
		}

		row := sqlTransaction{
			RefID:       tran.RefID[:],
			ClienteID:   tran.ClientID,
			Valor:       tran.Value,
			Tipo:        tran.Kind.Code(),
			Descricao:   tran.Description,
			RealizadaEm: ledger.now().UTC().Truncate(time.Microsecond),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Model(&client).Update("saldo", next).Error; err != nil {
			return err
		}

		tran.Sequence, tran.OccurredAt = row.ID, row.RealizadaEm
		result = domain.TransactionResult{Limit: client.Limite, Balance: next}
		return nil
	})
	if err != nil {
		return domain.TransactionResult{}, domain.NewStoreError("mysql apply", err)
	}
	return result, nil
}

// Snapshot 在同一個 REPEATABLE READ 唯讀交易中讀取餘額與最近交易
func (ledger *MySQLLedger) Snapshot(ctx context.Context, clientID int64) (*domain.Statement, error) {
	var statement *domain.Statement
	err := ledger.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var client sqlClient
		err := tx.Where("id = ?", clientID).Take(&client).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrClientNotFound
		}
		if err != nil {
			return err
		}

		var rows []sqlTransaction
		if err := tx.Where("cliente_id = ?", clientID).
			Order("realizada_em DESC").
			Order("id DESC").
			Limit(domain.StatementSize).
			Find(&rows).Error; err != nil {
			return err
		}

		recent := make([]domain.Transaction, 0, len(rows))
		for i := range rows {
			recent = append(recent, rows[i].toDomain())
		}
		statement = domain.NewStatement(client.Saldo, client.Limite, ledger.now(), recent)
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, domain.NewStoreError("mysql snapshot", err)
	}
	return statement, nil
}

// LoadAllClients 載入所有客戶
func (ledger *MySQLLedger) LoadAllClients(ctx context.Context) (map[int64]*domain.Client, error) {
	var rows []sqlClient
	if err := ledger.client.DB().WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, domain.NewStoreError("mysql load clients", err)
	}
	clients := make(map[int64]*domain.Client, len(rows))
	for _, r := range rows {
		clients[r.ID] = domain.NewClient(r.ID, r.Limite, r.Saldo)
	}
	return clients, nil
}

var _ usecase.Ledger = (*MySQLLedger)(nil)
