package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind 錯誤分類，呼叫端依此決定 status code 與是否重試
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	// 輸入錯誤
	KindInvalidKind
	KindInvalidDescription
	KindInvalidValue
	// 業務拒絕
	KindLimitExceeded
	// 找不到客戶
	KindClientNotFound
	// 儲存層暫時性錯誤 (逾時、斷線、commit 失敗)，狀態保證未變
	KindStore
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidKind:
		return "invalid_kind"
	case KindInvalidDescription:
		return "invalid_description"
	case KindInvalidValue:
		return "invalid_value"
	case KindLimitExceeded:
		return "limit_exceeded"
	case KindClientNotFound:
		return "client_not_found"
	case KindStore:
		return "store_error"
	}
	return "unknown"
}

// Retryable 只有儲存層錯誤可以重試
func (k ErrorKind) Retryable() bool {
	return k == KindStore
}

// IsValidation 是否為輸入驗證錯誤
func (k ErrorKind) IsValidation() bool {
	return k == KindInvalidKind || k == KindInvalidDescription || k == KindInvalidValue
}

// Error 核心層唯一的錯誤型別
type Error struct {
	Kind ErrorKind
	Msg  string
	// Err 底層原因 (僅 KindStore 會有)
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 以 Kind 比對，讓 errors.Is(err, ErrLimitExceeded) 對帶訊息的錯誤也成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	// ErrInvalidKind 交易類型不是 c / d
	ErrInvalidKind = &Error{Kind: KindInvalidKind, Msg: "invalid transaction kind"}

	// ErrInvalidDescription 描述長度不符
	ErrInvalidDescription = &Error{Kind: KindInvalidDescription, Msg: "invalid description"}

	// ErrInvalidValue 金額必須為正整數
	ErrInvalidValue = &Error{Kind: KindInvalidValue, Msg: "invalid value"}

	// ErrLimitExceeded 超過透支額度
	ErrLimitExceeded = &Error{Kind: KindLimitExceeded, Msg: "limit exceeded"}

	// ErrClientNotFound 找不到客戶
	ErrClientNotFound = &Error{Kind: KindClientNotFound, Msg: "client not found"}

	// ErrStore 儲存層錯誤
	ErrStore = &Error{Kind: KindStore, Msg: "store error"}
)

func invalidf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// NewStoreError 包裝儲存層錯誤；已經是 domain.Error 的直接回傳，避免被降級
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: KindStore, Msg: op + " failed", Err: err}
}

// KindOf 取出錯誤分類，非 domain.Error 回傳 KindUnknown
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsTimeout 是否因 deadline 到期或取消而中止
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
