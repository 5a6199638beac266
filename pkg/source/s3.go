package source

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
)

// NewS3 returns an S3 client using the shared AWS configuration and
// credential chain.
func NewS3(region string) (s3iface.S3API, error) {
	opts := session.Options{SharedConfigState: session.SharedConfigEnable}
	if region != "" {
		opts.Config.Region = aws.String(region)
	}
	sess, err := session.NewSessionWithOptions(opts)
	if err != nil {
		return nil, errors.Wrap(err, "creating AWS session")
	}
	return s3.New(sess), nil
}

func getObject(ctx context.Context, client s3iface.S3API, bucket, key, byteRange string) (io.ReadCloser, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if byteRange != "" {
		in.Range = aws.String(byteRange)
	}
	out, err := client.GetObjectWithContext(ctx, in)
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// s3Reader reads byte ranges of an object with ranged GETs.
type s3Reader struct {
	ctx    context.Context
	client s3iface.S3API
	bucket string
	key    string
}

func (r *s3Reader) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	body, err := getObject(r.ctx, r.client, r.bucket, r.key, fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1))
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == "InvalidRange" {
			return 0, io.EOF
		}
		return 0, errors.Wrapf(err, "reading s3://%s/%s", r.bucket, r.key)
	}
	defer body.Close()
	n, err := io.ReadFull(body, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

func (r *s3Reader) Close() error {
	return nil
}
