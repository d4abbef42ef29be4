package objectstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func pngBytes(n int) []byte {
	b := make([]byte, n)
	copy(b, pngHeader)
	return b
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"u1/1700000000000.png", "u1/1700000000000.png", false},
		{"/u1/a.png", "u1/a.png", false},
		{"../etc/passwd", "", true},
		{"u1//a.png", "", true},
		{"u1\\a.png", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := CleanPath(tt.in)
		if tt.err {
			assert.ErrorIs(t, err, ErrBadPath, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestFSStore_UploadAndOpen(t *testing.T) {
	st := NewFSStore(t.TempDir(), "chat-images", "http://files.local/", 1<<20)
	data := pngBytes(2048)

	require.NoError(t, st.Upload(context.Background(), "u1/1.png", "image/png", bytes.NewReader(data)))

	rc, err := st.Open("u1/1.png")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "http://files.local/storage/chat-images/u1/1.png", st.PublicURL("u1/1.png"))
}

func TestFSStore_RejectsMismatchedContent(t *testing.T) {
	st := NewFSStore(t.TempDir(), "chat-images", "", 1<<20)
	err := st.Upload(context.Background(), "u1/1.png", "image/png", strings.NewReader("definitely not a png"))
	assert.ErrorIs(t, err, ErrContentInvalid)

	_, err = st.Open("u1/1.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_RejectsOversize(t *testing.T) {
	st := NewFSStore(t.TempDir(), "chat-images", "", 1024)
	err := st.Upload(context.Background(), "u1/big.png", "image/png", bytes.NewReader(pngBytes(4096)))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestHTTPStore_RoundTrip(t *testing.T) {
	fs := NewFSStore(t.TempDir(), "chat-images", "", 1<<20)
	r := chi.NewRouter()
	fs.Routes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	cli := NewHTTPStore(srv.URL, "chat-images", "")
	data := pngBytes(1500)
	require.NoError(t, cli.Upload(context.Background(), "u2/7.png", "image/png", bytes.NewReader(data)))

	resp, err := http.Get(cli.PublicURL("u2/7.png"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	err = cli.Upload(context.Background(), "u2/8.png", "image/png", strings.NewReader("nope"))
	assert.ErrorIs(t, err, ErrContentInvalid)

	other := NewHTTPStore(srv.URL, "avatars", "")
	assert.Error(t, other.Upload(context.Background(), "u2/9.png", "image/png", bytes.NewReader(data)))
}

func TestFSStore_AcceptsImagesOutsideKnownFormats(t *testing.T) {
	st := NewFSStore(t.TempDir(), "chat-images", "", 1<<20)
	tiff := append([]byte("MM\x00*"), make([]byte, 32)...)
	require.NoError(t, st.Upload(context.Background(), "u1/scan.tiff", "image/tiff", bytes.NewReader(tiff)))
	require.NoError(t, st.Upload(context.Background(), "u1/pic.avif", "image/avif", strings.NewReader("....ftypavif")))

	err := st.Upload(context.Background(), "u1/bad.tiff", "image/tiff", strings.NewReader("not a tiff"))
	assert.ErrorIs(t, err, ErrContentInvalid)
}

func TestFSStore_RejectsScripts(t *testing.T) {
	st := NewFSStore(t.TempDir(), "chat-images", "", 1<<20)
	err := st.Upload(context.Background(), "u1/run.sh", "image/png", strings.NewReader("#!/bin/sh"))
	assert.ErrorIs(t, err, ErrContentInvalid)
}

func TestExtensionByType(t *testing.T) {
	assert.Equal(t, ".png", ExtensionByType("image/png"))
	assert.Equal(t, ".jpg", ExtensionByType("image/jpeg; charset=binary"))
	assert.Equal(t, ".tiff", ExtensionByType("image/tiff"))
	assert.Equal(t, "", ExtensionByType("not a type"))
}
