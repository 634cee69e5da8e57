package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// objectPutter is the part of the S3 API the writer uses.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Writer implements domain.BlobWriter with single-request uploads. Archived
// trades are a few kilobytes, well under the single PUT limit.
type Writer struct {
	api    objectPutter
	bucket string
	prefix string
}

// NewWriter creates a Writer that uploads into the client's bucket, under
// prefix when it is non-empty.
func NewWriter(c *Client, prefix string) *Writer {
	return &Writer{api: c.s3, bucket: c.bucket, prefix: prefix}
}

// Put uploads data to path.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	key := path
	if w.prefix != "" {
		key = w.prefix + "/" + path
	}
	_, err := w.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
