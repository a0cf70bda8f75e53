package domain

import "math"

// Client 客戶帳戶
// Limit 建立後不可變，Balance 只能透過 Apply 修改
type Client struct {
	ID      int64 `json:"id" yaml:"id"`
	Limit   int64 `json:"limit" yaml:"limit"`
	Balance int64 `json:"balance" yaml:"balance"`
}

func NewClient(id int64, limit int64, balance int64) *Client {
	return &Client{
		ID:      id,
		Limit:   limit,
		Balance: balance,
	}
}

// Admits 計算套用 effect 後的餘額，不修改 Client
//
// 回傳:
//
//	int64: 套用後的餘額
//	error: 低於 -limit (含 int64 下溢) 回傳 ErrLimitExceeded，入帳會讓餘額溢位回傳 KindInvalidValue
func (c *Client) Admits(effect int64) (int64, error) {
	if effect > 0 && c.Balance > math.MaxInt64-effect {
		return c.Balance, invalidf(KindInvalidValue, "valor %d would overflow the balance", effect)
	}
	if effect < 0 && c.Balance < math.MinInt64-effect {
		return c.Balance, ErrLimitExceeded
	}
	next := c.Balance + effect
	if next < -c.Limit {
		return c.Balance, ErrLimitExceeded
	}
	return next, nil
}

// Apply 套用交易的有號金額，被拒絕時不修改餘額
func (c *Client) Apply(effect int64) error {
	next, err := c.Admits(effect)
	if err != nil {
		return err
	}
	c.Balance = next
	return nil
}

// Result 目前的額度與餘額
func (c *Client) Result() TransactionResult {
	return TransactionResult{Limit: c.Limit, Balance: c.Balance}
}
