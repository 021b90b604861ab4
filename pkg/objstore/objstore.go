// Package objstore fetches uploaded documents from object storage. The
// pipeline only ever reads; uploads happen in the web tier that created the
// job.
package objstore

import (
	"context"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"google.golang.org/api/option"
)

// Downloader reads document bytes by storage pointer.
type Downloader interface {
	Download(ctx context.Context, pointer string) ([]byte, error)
	Close() error
}

// GCS implements Downloader against Google Cloud Storage.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a GCS downloader. When credentialsFile is empty the client
// falls back to application default credentials.
func NewGCS(ctx context.Context, bucket, credentialsFile string) (*GCS, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "objstore: create client")
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// Download reads the full object. Pointers may be bare object names or
// gs://bucket/object URIs; the URI form overrides the configured bucket.
func (g *GCS) Download(ctx context.Context, pointer string) ([]byte, error) {
	bucket, object := g.resolve(pointer)
	if object == "" {
		return nil, eris.Errorf("objstore: empty object in pointer %q", pointer)
	}

	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "objstore: open %s/%s", bucket, object)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrapf(err, "objstore: read %s/%s", bucket, object)
	}
	return data, nil
}

func (g *GCS) Close() error {
	return eris.Wrap(g.client.Close(), "objstore: close client")
}

func (g *GCS) resolve(pointer string) (bucket, object string) {
	if rest, ok := strings.CutPrefix(pointer, "gs://"); ok {
		bucket, object, _ = strings.Cut(rest, "/")
		return bucket, object
	}
	return g.bucket, pointer
}
