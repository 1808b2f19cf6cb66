package mnist

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGzip(t *testing.T, path string, data []byte) {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func fixture(n int) ([]Image, []byte) {
	images := make([]Image, n)
	labels := make([]byte, n)
	for i := range images {
		images[i][i%(ImgSize*ImgSize)] = byte(i + 1)
		labels[i] = byte(i % Classes)
	}
	return images, labels
}

func writeFixture(t *testing.T, dir string, train, infer int) {
	t.Helper()
	images, labels := fixture(train)
	writeGzip(t, filepath.Join(dir, TrainSetImg), EncodeImages(images))
	writeGzip(t, filepath.Join(dir, TrainSetVal), EncodeLabels(labels))
	images, labels = fixture(infer)
	writeGzip(t, filepath.Join(dir, InferSetImg), EncodeImages(images))
	writeGzip(t, filepath.Join(dir, InferSetVal), EncodeLabels(labels))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, 12, 5)

	set, err := Load(dir, false)
	require.NoError(t, err)
	assert.Equal(t, 12, set.Train.Len())
	assert.Equal(t, 5, set.Infer.Len())
	assert.Equal(t, byte(3), set.Train.Labels[3])
	assert.Equal(t, byte(4), set.Train.Images[3][3])
}

func TestLoadVerifyRejectsFixture(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, 2, 2)

	_, err := Load(dir, true)
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir(), false)
	assert.Error(t, err)
}

func TestDecodeErrors(t *testing.T) {
	images, labels := fixture(3)
	good := EncodeImages(images)

	_, err := DecodeImages(good[:10])
	assert.ErrorIs(t, err, ErrFormat)

	_, err = DecodeImages(good[:len(good)-1])
	assert.ErrorIs(t, err, ErrFormat)

	_, err = DecodeImages(EncodeLabels(labels))
	assert.ErrorIs(t, err, ErrFormat)

	bad := EncodeLabels([]byte{1, 2, 10})
	_, err = DecodeLabels(bad)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestTruncate(t *testing.T) {
	images, labels := fixture(10)
	s := Split{Images: images, Labels: labels}
	s.Truncate(0)
	assert.Equal(t, 10, s.Len())
	s.Truncate(4)
	assert.Equal(t, 4, s.Len())
	assert.Len(t, s.Images, 4)
}

func TestShift(t *testing.T) {
	var img Image
	img[5*ImgSize+5] = 200

	out := Shift(&img, 2, -1)
	assert.Equal(t, byte(200), out[4*ImgSize+7])
	assert.Equal(t, byte(0), out[5*ImgSize+5])

	// pixels moved past the border disappear
	img = Image{}
	img[ImgSize-1] = 9
	out = Shift(&img, 1, 0)
	assert.Equal(t, Image{}, out)

	out = Shift(&img, 0, 0)
	assert.Equal(t, img, out)
}

func TestDownloadRejectsBadContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not mnist"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := Downloader{Client: srv.Client(), Mirror: srv.URL}
	err := d.Download(context.Background(), dir)
	assert.ErrorIs(t, err, ErrChecksum)

	_, statErr := os.Stat(filepath.Join(dir, TrainSetImg))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d := Downloader{Client: srv.Client(), Mirror: srv.URL + "/"}
	err := d.Download(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
