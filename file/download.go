package file

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pilosa/erpdk/aws/s3"
	"github.com/pkg/errors"
)

// Downloader fetches datasets from http(s) or s3:// URLs.
type Downloader struct {
	HTTP *http.Client
	S3   s3iface.S3API

	// Region is used to create an S3 client when S3 is nil.
	Region string
}

// Download fetches url to dest using a default Downloader.
func Download(ctx context.Context, url, dest string) (int64, error) {
	d := &Downloader{Region: "us-east-1"}
	return d.Download(ctx, url, dest)
}

// Download fetches url to dest, which is only created once the whole body
// has been read. It returns the number of bytes written.
func (d *Downloader) Download(ctx context.Context, url, dest string) (n int64, err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, errors.Wrap(err, "making destination directory")
	}
	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, errors.Wrap(err, "creating temp file")
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	switch {
	case strings.HasPrefix(url, "s3://"):
		n, err = d.fromS3(ctx, url, f)
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		n, err = d.fromHTTP(ctx, url, f)
	default:
		err = errors.Errorf("unsupported url: %s", url)
	}
	if err != nil {
		return n, err
	}
	if err = f.Close(); err != nil {
		return n, errors.Wrap(err, "closing temp file")
	}
	return n, errors.Wrap(os.Rename(tmp, dest), "renaming download")
}

func (d *Downloader) fromS3(ctx context.Context, url string, w io.Writer) (int64, error) {
	bucket, key, err := s3.ParseURL(url)
	if err != nil {
		return 0, err
	}
	client := d.S3
	if client == nil {
		c, err := s3.NewClient(d.Region, "")
		if err != nil {
			return 0, err
		}
		client = c
	}
	return s3.Download(ctx, client, bucket, key, w)
}

func (d *Downloader) fromHTTP(ctx context.Context, url string, w io.Writer) (int64, error) {
	client := d.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrap(err, "making request")
	}
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return 0, errors.Wrapf(err, "getting %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("getting %s: unexpected status %s", url, resp.Status)
	}
	n, err := io.Copy(w, resp.Body)
	return n, errors.Wrapf(err, "reading %s", url)
}
