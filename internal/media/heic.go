package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ExecConverter 调用外部命令（默认 heif-convert）把 HEIC/HEIF 转成 JPEG。
// 命令参数形式：<bin> <input> <output>
type ExecConverter struct {
	Bin string
}

func NewExecConverter(bin string) *ExecConverter {
	if bin == "" {
		bin = "heif-convert"
	}
	return &ExecConverter{Bin: bin}
}

func (c *ExecConverter) Convert(ctx context.Context, data []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "heic-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.heic")
	out := filepath.Join(dir, "out.jpg")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Bin, in, out)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", c.Bin, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return os.ReadFile(out)
}
