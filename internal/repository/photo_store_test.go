package repository

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhotoStore_ContentAddressed(t *testing.T) {
	dir := t.TempDir()
	ps, err := NewPhotoStore(dir, "http://localhost:8080/media/")
	require.NoError(t, err)
	ps.now = func() time.Time { return time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC) }

	uri := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg bytes"))
	url1, err := ps.SaveDataURI(context.Background(), uri, "")
	require.NoError(t, err)
	url2, err := ps.SaveDataURI(context.Background(), uri, "")
	require.NoError(t, err)

	assert.Equal(t, url1, url2)
	assert.True(t, strings.HasPrefix(url1, "http://localhost:8080/media/visits/2024/05/"))
	assert.True(t, strings.HasSuffix(url1, ".jpg"))

	key := strings.TrimPrefix(url1, "http://localhost:8080/media/")
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))
}

func TestDecodeDataURI(t *testing.T) {
	data, ext, err := DecodeDataURI("data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, data)
	assert.Equal(t, "png", ext)

	_, _, err = DecodeDataURI("https://example.com/a.jpg")
	assert.ErrorIs(t, err, ErrInvalidDataURI)
	_, _, err = DecodeDataURI("data:image/jpeg,raw")
	assert.ErrorIs(t, err, ErrInvalidDataURI)
	_, _, err = DecodeDataURI("data:image/jpeg;base64,@@@")
	assert.ErrorIs(t, err, ErrInvalidDataURI)

	assert.True(t, IsEmbeddedImage("data:image/jpeg;base64,AA=="))
	assert.False(t, IsEmbeddedImage("data:video/mp4;base64,AA=="))
}
