package upload

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	require.NoError(t, r.ParseMultipartForm(1<<20))
	t.Cleanup(func() { _ = r.MultipartForm.RemoveAll() })
	return r.MultipartForm.File["file"][0]
}

func TestSaveAndServe(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "uploads"), 1024)
	require.NoError(t, err)

	url, err := s.Save(fileHeader(t, "cat photo.png", []byte("png-bytes")))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, URLPrefix))
	assert.True(t, strings.HasSuffix(url, "_cat_photo.png"))

	onDisk, err := os.ReadFile(filepath.Join(s.Dir(), strings.TrimPrefix(url, URLPrefix)))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(onDisk))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-bytes", rec.Body.String())
}

func TestSaveRejects(t *testing.T) {
	s, err := New(t.TempDir(), 4)
	require.NoError(t, err)

	_, err = s.Save(nil)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = s.Save(fileHeader(t, "empty.png", nil))
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = s.Save(fileHeader(t, "big.png", []byte("too many bytes")))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestCleanName(t *testing.T) {
	tests := map[string]string{
		"photo.png":           "photo.png",
		"../../etc/passwd":    "passwd",
		`C:\Users\me\a b.jpg`: "a_b.jpg",
		"what?.png":           "what.png",
		"..":                  "file",
		"":                    "file",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanName(in), in)
	}
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New("", 0)
	assert.Error(t, err)
}

func TestHandlerDoesNotListDirectories(t *testing.T) {
	s, err := New(t.TempDir(), 0)
	require.NoError(t, err)
	url, err := s.Save(fileHeader(t, "secret.png", []byte("private")))
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), "nested"), 0o755))

	for _, path := range []string{URLPrefix, URLPrefix + "nested/", URLPrefix + "nested"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.NotContains(t, rec.Body.String(), strings.TrimPrefix(url, URLPrefix), path)
	}
}
