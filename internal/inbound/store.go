package inbound

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"inbound-backend/internal/metrics"
)

// maxMessageSize caps how much of a stored message is read (SES limit is 40MB)
const maxMessageSize = 40 << 20

// ObjectAPI is the S3 call used to read stored messages
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// MessageStore reads raw messages that SES wrote to S3
type MessageStore struct {
	client ObjectAPI
	bucket string
}

func NewMessageStore(client ObjectAPI, bucket string) *MessageStore {
	return &MessageStore{client: client, bucket: bucket}
}

// Bucket returns the default bucket
func (s *MessageStore) Bucket() string {
	return s.bucket
}

// Fetch downloads the object, falling back to the default bucket when bucket is empty
func (s *MessageStore) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	if bucket == "" {
		bucket = s.bucket
	}
	if bucket == "" {
		return nil, fmt.Errorf("no S3 bucket configured")
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	metrics.SESCalls.WithLabelValues("S3GetObject", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxMessageSize))
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}
