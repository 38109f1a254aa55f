package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/klauspost/compress/zstd"
)

// 编码器/解码器可并发复用
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

const fileKVExt = ".zst"

// 磁盘写满视为容量不足
var errNoSpace = syscall.ENOSPC

// FileKV 本地目录实现的 KV：每个 key 一个文件，内容 zstd 压缩。
// 离线设备上没有 Redis 时使用；ttl 被忽略。
type FileKV struct {
	dir string
	mu  sync.RWMutex
}

func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dir, err)
	}
	return &FileKV{dir: dir}, nil
}

var keyReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_")

func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, keyReplacer.Replace(key)+fileKVExt)
}

func (f *FileKV) Get(_ context.Context, key string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	raw, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrMiss
		}
		return "", err
	}
	plain, err := zstdDecoder.DecodeAll(raw, nil)
	if err != nil {
		return "", fmt.Errorf("zstd decompress %s: %w", key, err)
	}
	return string(plain), nil
}

// Set 先写临时文件再 rename，保证整值覆盖不会留下半写状态
func (f *FileKV) Set(_ context.Context, key string, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	compressed := zstdEncoder.EncodeAll([]byte(value), nil)
	target := f.path(key)
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		if errors.Is(err, errNoSpace) {
			return ErrQuotaExceeded
		}
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (f *FileKV) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ScanKeys pattern 使用 filepath.Match 语法（与 Redis 的 * 通配一致）
func (f *FileKV) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileKVExt) {
			continue
		}
		key := strings.TrimSuffix(name, fileKVExt)
		if ok, _ := filepath.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
