package identity

import (
	"crypto/ed25519"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const pemTypeEd25519Private = "ED25519 PRIVATE KEY"

// Save 以 PEM 格式保存私钥
//
// 使用原子写操作（临时文件 + rename），文件权限 0600。
func (i *Identity) Save(path string) error {
	block := &pem.Block{Type: pemTypeEd25519Private, Bytes: i.priv.Seed()}
	return atomicWriteFile(path, pem.EncodeToMemory(block), 0o600)
}

// Load 从 PEM 文件加载身份
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypeEd25519Private || len(block.Bytes) != ed25519.SeedSize {
		return nil, ErrInvalidPEM
	}
	return New(ed25519.NewKeyFromSeed(block.Bytes))
}

// LoadOrGenerate 加载身份，文件不存在时生成并保存
func LoadOrGenerate(path string) (*Identity, error) {
	id, err := Load(path)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if id, err = Generate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("identity: create dir: %w", err)
	}
	if err := id.Save(path); err != nil {
		return nil, err
	}
	logger.Info("已生成新的节点身份", "peer", id.ID().ShortString(), "path", path)
	return id, nil
}

// atomicWriteFile 原子写文件
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-")
	if err != nil {
		return fmt.Errorf("identity: create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("identity: write temp file: %w", err)
	}
	if err := tmpFile.Chmod(perm); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("identity: chmod temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("identity: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("identity: rename: %w", err)
	}
	success = true
	return nil
}
