// Package s3 reads scanner containers from S3 compatible object storage.
//
// Every scanner writes into its own container, a top-level prefix of the
// audits bucket. The scanner descriptor lives at {container}/{container};
// each run adds a folder with a meta file and its result files. A run is
// processed once {folder}/meta.processed exists.
package s3

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/juju/errors"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

const (
	metaName        = "meta"
	processedSuffix = ".processed"
)

type Client struct {
	mc     *minio.Client
	bucket string
}

func New(endpoint, accessKey, secretKey, region string, useSSL bool, bucket string) (*Client, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}
	return &Client{mc: mc, bucket: bucket}, nil
}

// ListContainers returns the top-level prefixes of the bucket.
func (c *Client) ListContainers(ctx context.Context) ([]string, error) {
	var out []string
	for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if strings.HasSuffix(obj.Key, "/") {
			out = append(out, strings.TrimSuffix(obj.Key, "/"))
		}
	}
	sort.Strings(out)
	return out, nil
}

// ScannerMetadataPath is the object path of the scanner descriptor of container.
func ScannerMetadataPath(container string) string {
	return container + "/" + container
}

// ListUnprocessed returns the run meta files of container without a
// processed marker, oldest path first.
func (c *Client) ListUnprocessed(ctx context.Context, container string) ([]model.AuditBlob, error) {
	keys := map[string]struct{}{}
	opts := minio.ListObjectsOptions{Prefix: container + "/", Recursive: true}
	for obj := range c.mc.ListObjects(ctx, c.bucket, opts) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys[obj.Key] = struct{}{}
	}
	return Unprocessed(container, keys), nil
}

// Unprocessed selects the unprocessed run meta files among the object keys of container.
func Unprocessed(container string, keys map[string]struct{}) []model.AuditBlob {
	var out []model.AuditBlob
	for key := range keys {
		if path.Base(key) != metaName {
			continue
		}
		if _, done := keys[key+processedSuffix]; done {
			continue
		}
		out = append(out, model.AuditBlob{Container: container, Name: strings.TrimPrefix(key, container+"/")})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DownloadFile opens the object at p. A missing object is a NotFound error.
func (c *Client) DownloadFile(ctx context.Context, p string) (io.ReadCloser, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, p, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.NotFoundf("object %s", p)
		}
		return nil, err
	}
	return obj, nil
}

// MarkProcessed writes the processed marker next to the run meta file.
func (c *Client) MarkProcessed(ctx context.Context, blob model.AuditBlob) error {
	_, err := c.mc.PutObject(ctx, c.bucket, blob.Path()+processedSuffix, bytes.NewReader(nil), 0, minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	return err
}
