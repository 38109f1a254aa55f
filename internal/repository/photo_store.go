package repository

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// ErrInvalidDataURI 照片不是 base64 data URI
var ErrInvalidDataURI = errors.New("invalid data URI")

// PhotoStore 照片按内容哈希落盘，同一张照片只存一份
type PhotoStore struct {
	root    string
	baseURL string
	now     func() time.Time
}

// NewPhotoStore root 为落盘目录，baseURL 为对外访问前缀（例如 https://host/media）
func NewPhotoStore(root, baseURL string) (*PhotoStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create photo dir: %w", err)
	}
	return &PhotoStore{root: root, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}, nil
}

// Root 落盘目录（供静态文件服务使用）
func (s *PhotoStore) Root() string { return s.root }

// SaveDataURI 解码 data URI 并保存，返回公开 URL
func (s *PhotoStore) SaveDataURI(ctx context.Context, dataURI, ext string) (string, error) {
	data, mimeExt, err := DecodeDataURI(dataURI)
	if err != nil {
		return "", err
	}
	if ext == "" {
		ext = mimeExt
	}
	return s.Save(ctx, data, ext)
}

// Save 保存原始字节，key 形如 visits/2024/05/<blake3>.jpg
func (s *PhotoStore) Save(ctx context.Context, data []byte, ext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" || ext == "jpeg" {
		ext = "jpg"
	}
	now := s.now().UTC()
	key := path.Join("visits", now.Format("2006"), now.Format("01"), hex.EncodeToString(sum[:])+"."+ext)

	full := filepath.Join(s.root, filepath.FromSlash(key))
	if _, err := os.Stat(full); err == nil {
		return s.URL(key), nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create photo dir: %w", err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write photo: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to store photo: %w", err)
	}
	return s.URL(key), nil
}

func (s *PhotoStore) URL(key string) string {
	return s.baseURL + "/" + key
}

// DecodeDataURI 解析 data:<mime>;base64,<payload>，同时返回按 mime 推断的扩展名
func DecodeDataURI(uri string) ([]byte, string, error) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, "", ErrInvalidDataURI
	}
	header, payload, ok := strings.Cut(uri[len("data:"):], ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return nil, "", ErrInvalidDataURI
	}
	mime := strings.TrimSuffix(header, ";base64")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	ext := "jpg"
	if _, sub, found := strings.Cut(mime, "/"); found && sub != "" && sub != "jpeg" {
		ext = sub
	}
	return data, ext, nil
}

// IsEmbeddedImage 是否为内嵌图片
func IsEmbeddedImage(ref string) bool {
	return strings.HasPrefix(ref, "data:image")
}
