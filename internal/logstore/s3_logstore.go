// Package logstore persists build and run logs in an S3-compatible
// object store as an append/query surface keyed by run identifier.
package logstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// ErrNoLogs is returned by Fetch when no chunks exist for the run.
var ErrNoLogs = errors.New("reporun/logstore: no logs for run")

// LogStore defines the interface for run log persistence operations.
type LogStore interface {
	Append(ctx context.Context, runID uuid.UUID, chunk []byte) error
	Fetch(ctx context.Context, runID uuid.UUID) ([]byte, error)
}

type s3LogStore struct {
	client *s3.Client
	bucket string
}

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
}

func NewS3LogStore(cfg S3Config) (LogStore, error) {
	// We use config.LoadDefaultConfig but override credentials and endpoint
	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// UsePathStyle is required for R2 and most local S3-compat layers
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &s3LogStore{
		client: client,
		bucket: cfg.BucketName,
	}, nil
}

func runPrefix(runID uuid.UUID) string {
	return "runs/" + runID.String() + "/"
}

// Append writes one log chunk. Chunks are keyed by append time so a
// lexicographic listing replays them in order.
func (s *s3LogStore) Append(ctx context.Context, runID uuid.UUID, chunk []byte) error {
	key := fmt.Sprintf("%s%020d.log", runPrefix(runID), time.Now().UnixNano())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(chunk),
	})
	if err != nil {
		return fmt.Errorf("append failed: %w", err)
	}

	return nil
}

// Fetch concatenates every chunk of the run in append order.
func (s *s3LogStore) Fetch(ctx context.Context, runID uuid.UUID) ([]byte, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(runPrefix(runID)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list failed: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	if len(keys) == 0 {
		return nil, ErrNoLogs
	}
	sort.Strings(keys)

	var out bytes.Buffer
	for _, key := range keys {
		result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var nsk *types.NoSuchKey
			if errors.As(err, &nsk) {
				continue // chunk removed between list and get
			}
			return nil, fmt.Errorf("fetch failed: %w", err)
		}
		if _, err := io.Copy(&out, result.Body); err != nil {
			result.Body.Close()
			return nil, fmt.Errorf("fetch failed: %w", err)
		}
		result.Body.Close()
	}
	return out.Bytes(), nil
}
