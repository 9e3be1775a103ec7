package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-chanfetch/pkg/lib/log"
)

var logger = log.Logger("core/storage")

// Options 存储选项
type Options struct {
	// Path 数据库目录；为空时使用内存模式
	Path string

	// SyncWrites 每次写入是否同步落盘
	SyncWrites bool

	// GCInterval 值日志垃圾回收周期，0 表示禁用
	GCInterval time.Duration

	// GCDiscardRatio 值日志文件可回收比例阈值
	GCDiscardRatio float64
}

// DefaultOptions 返回默认选项
func DefaultOptions(path string) Options {
	return Options{
		Path:           path,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// Store BadgerDB 键值存储
type Store struct {
	db     *badger.DB
	opts   Options
	closed atomic.Bool

	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
}

// Open 打开存储
func Open(opts Options) (*Store, error) {
	var bopts badger.Options
	if opts.Path == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, err
		}
		bopts = badger.DefaultOptions(opts.Path).WithSyncWrites(opts.SyncWrites)
	}
	bopts = bopts.WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{db: db, opts: opts, gcCancel: cancel}
	if opts.Path != "" && opts.GCInterval > 0 {
		s.startGC(ctx)
	}
	logger.Debug("存储已打开", "path", opts.Path, "inMemory", opts.Path == "")
	return s, nil
}

// OpenInMemory 打开内存存储
func OpenInMemory() (*Store, error) {
	return Open(DefaultOptions(""))
}

func (s *Store) startGC(ctx context.Context) {
	s.gcWg.Add(1)
	go func() {
		defer s.gcWg.Done()
		ticker := time.NewTicker(s.opts.GCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// 直到没有可回收的文件为止
				for s.db.RunValueLogGC(s.opts.GCDiscardRatio) == nil {
				}
			}
		}
	}()
}

// Get 读取键值，不存在时返回 (nil, false, nil)
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	if len(key) == 0 {
		return nil, false, ErrEmptyKey
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put 写入键值
func (s *Store) Put(key, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete 删除键
func (s *Store) Delete(key []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Keys 返回带指定前缀的全部键（已去除前缀）
func (s *Store) Keys(prefix []byte) ([][]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			keys = append(keys, k[len(prefix):])
		}
		return nil
	})
	return keys, err
}

// Close 关闭存储
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.gcCancel()
	s.gcWg.Wait()
	return s.db.Close()
}
