package mnist

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Downloader fetches missing dataset files from a mirror.
type Downloader struct {
	Client *http.Client
	Mirror string
	Log    *zap.Logger
}

// Download makes sure all four files exist in dir and match their digests.
// Files already present and valid are not fetched again.
func (d *Downloader) Download(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	for _, name := range []string{TrainSetImg, TrainSetVal, InferSetImg, InferSetVal} {
		if err := Verify(dir, name); err == nil {
			log.Debug("dataset file present", zap.String("file", name))
			continue
		}
		log.Info("downloading dataset file", zap.String("file", name), zap.String("mirror", d.Mirror))
		if err := d.fetch(ctx, dir, name); err != nil {
			return err
		}
		if err := Verify(dir, name); err != nil {
			os.Remove(filepath.Join(dir, name))
			return err
		}
	}
	return nil
}

func (d *Downloader) fetch(ctx context.Context, dir, name string) error {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimSuffix(d.Mirror, "/") + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrapf(err, "request %s", url)
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "get %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("get %s: status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(dir, name+".*.part")
	if err != nil {
		return errors.Wrap(err, "create temporary file")
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", name)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", name)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), filepath.Join(dir, name)), "rename %s", name)
}
