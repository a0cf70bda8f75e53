package wal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// 自己定義常用的權限常量
const (
	// rw-r--r-- (擁有者讀寫，其他人唯讀) - 適用於大多數檔案
	FileModeReadOnly fs.FileMode = 0644

	// rw------- (只有擁有者可讀寫) - 適用於私鑰、機密檔
	FileModePrivate fs.FileMode = 0600
)

// WAL 以 JSON Lines 格式寫入的 Write-Ahead Log
// 每筆紀錄寫入後立即 fsync，寫入失敗時會截斷回寫入前的長度
type WAL struct {
	file *os.File
	mu   sync.Mutex
	// size: 目前已確認 (完整且已 fsync) 的檔案長度
	size int64
}

// NewWAL 開啟或建立一個 WAL 檔案
// O_RDWR讀寫模式
// O_APPEND 每次寫入時自動跳到文件末尾
// O_CREATE 如果文件不存在則建立
func NewWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModeReadOnly)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat wal %s: %w", path, err)
	}
	return &WAL{file: file, size: info.Size()}, nil
}

// Write 寫入一筆資料並 fsync
// 任何一步失敗都會把檔案截斷回寫入前的狀態，不留下半筆紀錄
func (w *WAL) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode wal record: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Write(line); err != nil {
		return w.rollback(err)
	}
	if err := w.file.Sync(); err != nil {
		return w.rollback(err)
	}
	w.size += int64(len(line))
	return nil
}

func (w *WAL) rollback(cause error) error {
	if err := w.file.Truncate(w.size); err != nil {
		return errors.Join(cause, fmt.Errorf("truncate wal: %w", err))
	}
	return cause
}

// Sync 強制刷入硬碟
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Close 關閉檔案
func (w *WAL) Close() error {
	return w.file.Close()
}

// ReadAll 從頭讀取所有紀錄
// callback 每次收到一行 JSON，可以避免一次將所有資料載入記憶體
// 最後一行若不完整 (寫到一半 crash) 會被截斷丟棄
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// 確保從頭讀取
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(w.file)
	var offset int64
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				// 不完整的尾端紀錄
				if err := w.file.Truncate(offset); err != nil {
					return fmt.Errorf("truncate torn wal record: %w", err)
				}
			}
			break
		}
		if err != nil {
			return err
		}
		offset += int64(len(line))
		if err := callback(line[:len(line)-1]); err != nil {
			return err
		}
	}
	w.size = offset
	return nil
}
