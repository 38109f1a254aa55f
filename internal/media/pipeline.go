package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Kind 媒体类别，决定体积上限
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// RefMode 媒体引用方式：embed 内嵌 data URI，upload 上传后保存远程 URL
type RefMode string

const (
	ModeEmbed  RefMode = "embed"
	ModeUpload RefMode = "upload"
)

const mb = 1024 * 1024

// Options 处理参数
type Options struct {
	MaxImageBytes   int64
	MaxVideoBytes   int64
	MaxDimension    int
	Quality         int
	FallbackQuality int
	// TargetBytes 第一次编码超过该值时用 FallbackQuality 重新编码
	TargetBytes int
	Mode        RefMode
}

// DefaultOptions 图片 20 MB、视频 50 MB、最长边 1280、质量 70 → 50、目标 2 MB
func DefaultOptions() Options {
	return Options{
		MaxImageBytes:   20 * mb,
		MaxVideoBytes:   50 * mb,
		MaxDimension:    1280,
		Quality:         70,
		FallbackQuality: 50,
		TargetBytes:     2 * mb,
		Mode:            ModeEmbed,
	}
}

// File 待处理的文件
type File struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FromBytes 内存中的文件
func FromBytes(name string, data []byte) File {
	return File{Name: name, Open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
}

// FromPath 磁盘上的文件
func FromPath(path string) File {
	return File{Name: filepath.Base(path), Open: func() (io.ReadCloser, error) {
		return os.Open(path)
	}}
}

// Converter 把旧手机格式（HEIC/HEIF）转成 JPEG
type Converter interface {
	Convert(ctx context.Context, data []byte) ([]byte, error)
}

// Uploader 上传一张图片，返回可访问的 URL
type Uploader interface {
	UploadPhoto(ctx context.Context, dataURI string, ext string) (string, error)
}

// LimitError 文件超过该类别的体积上限
type LimitError struct {
	Kind  Kind
	Limit int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s exceeds %d MB limit", e.Kind, e.Limit/mb)
}

var (
	ErrUnsupported = errors.New("unsupported file type")
	ErrNoConverter = errors.New("no converter configured for HEIC/HEIF")
)

// Failure 单个文件的失败原因
type Failure struct {
	Name string
	Err  error
}

func (f Failure) Message() string {
	return f.Name + ": " + f.Err.Error()
}

// Result 成功的引用按输入顺序排列；失败的文件不影响其他文件
type Result struct {
	Refs     []string
	Failures []Failure
}

// Pipeline 照片/视频导入
type Pipeline struct {
	opts      Options
	converter Converter
	uploader  Uploader
	logger    *zap.Logger
}

// NewPipeline converter、uploader 可以为 nil；upload 模式下 uploader 必须提供
func NewPipeline(opts Options, converter Converter, uploader Uploader, logger *zap.Logger) *Pipeline {
	return &Pipeline{opts: opts, converter: converter, uploader: uploader, logger: logger}
}

// Ingest 逐个处理文件；ctx 取消时剩余文件记为失败
func (p *Pipeline) Ingest(ctx context.Context, files []File) Result {
	res := Result{Refs: []string{}}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			res.Failures = append(res.Failures, Failure{Name: f.Name, Err: err})
			continue
		}
		ref, err := p.ingestOne(ctx, f)
		if err != nil {
			p.logger.Warn("Media file rejected", zap.String("file", f.Name), zap.Error(err))
			res.Failures = append(res.Failures, Failure{Name: f.Name, Err: err})
			continue
		}
		res.Refs = append(res.Refs, ref)
	}
	return res
}

func (p *Pipeline) ingestOne(ctx context.Context, f File) (string, error) {
	data, err := p.read(f)
	if err != nil {
		return "", err
	}

	mtype := mimetype.Detect(data)
	kind, err := classify(mtype)
	if err != nil {
		return "", err
	}
	if limit := p.limitFor(kind); int64(len(data)) > limit {
		return "", &LimitError{Kind: kind, Limit: limit}
	}

	if kind == KindVideo {
		// 视频不做处理，原样内嵌
		return dataURI(mtype.String(), data), nil
	}

	if isHEIC(mtype) {
		if p.converter == nil {
			return "", ErrNoConverter
		}
		data, err = p.converter.Convert(ctx, data)
		if err != nil {
			return "", fmt.Errorf("convert HEIC: %w", err)
		}
	}

	encoded, err := p.Compress(data)
	if err != nil {
		return "", err
	}
	ref := dataURI("image/jpeg", encoded)

	if p.opts.Mode == ModeUpload {
		if p.uploader == nil {
			return "", errors.New("upload mode requires a photo uploader")
		}
		url, err := p.uploader.UploadPhoto(ctx, ref, "jpg")
		if err != nil {
			return "", fmt.Errorf("upload photo: %w", err)
		}
		return url, nil
	}
	return ref, nil
}

// read 最多读取 最大上限+1 字节，足够判断超限
func (p *Pipeline) read(f File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	max := p.opts.MaxImageBytes
	if p.opts.MaxVideoBytes > max {
		max = p.opts.MaxVideoBytes
	}
	return io.ReadAll(io.LimitReader(rc, max+1))
}

func (p *Pipeline) limitFor(kind Kind) int64 {
	if kind == KindVideo {
		return p.opts.MaxVideoBytes
	}
	return p.opts.MaxImageBytes
}

// Compress 解码、按最长边缩放、两级质量编码为 JPEG
func (p *Pipeline) Compress(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	img := Downscale(src, p.opts.MaxDimension)

	out, err := encodeJPEG(img, p.opts.Quality)
	if err != nil {
		return nil, err
	}
	if p.opts.TargetBytes > 0 && len(out) > p.opts.TargetBytes {
		out, err = encodeJPEG(img, p.opts.FallbackQuality)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Downscale 保持宽高比缩放，使宽和高都不超过 maxDim；本来就小的图原样返回
func Downscale(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return src
	}
	if w >= h {
		h = h * maxDim / w
		w = maxDim
	} else {
		w = w * maxDim / h
		h = maxDim
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func classify(mtype *mimetype.MIME) (Kind, error) {
	s := mtype.String()
	switch {
	case strings.HasPrefix(s, "video/"):
		return KindVideo, nil
	case strings.HasPrefix(s, "image/"):
		return KindImage, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, s)
	}
}

func isHEIC(mtype *mimetype.MIME) bool {
	return mtype.Is("image/heic") || mtype.Is("image/heif") ||
		mtype.Is("image/heic-sequence") || mtype.Is("image/heif-sequence")
}

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// AppendRefs 把新导入的引用追加到已有列表；空选择不改变原列表
func AppendRefs(existing, refs []string) []string {
	if len(refs) == 0 {
		return existing
	}
	out := make([]string, 0, len(existing)+len(refs))
	out = append(out, existing...)
	return append(out, refs...)
}
