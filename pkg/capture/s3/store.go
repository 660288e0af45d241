// Package s3 provides an S3 capture store. The payload is the object body;
// the record's metadata travels as S3 user metadata.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/dicomul/pkg/capture"
)

// User metadata keys. S3 lower-cases them.
const (
	metaAssociation    = "association-id"
	metaSequence       = "sequence"
	metaContextID      = "context-id"
	metaAbstractSyntax = "abstract-syntax"
	metaTransferSyntax = "transfer-syntax"
	metaCommand        = "command"
	metaReceivedAt     = "received-at"
)

// Config holds configuration for the S3 capture store.
type Config struct {
	// Bucket is the S3 bucket name.
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// KeyPrefix is prepended to all record keys (e.g., "captures/").
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// MaxRetries is the maximum number of attempts for transient errors.
	// Zero keeps the SDK default.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries,omitempty"`

	// ForcePathStyle forces path-style addressing (required for Localstack/MinIO).
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`

	// AccessKeyID and SecretAccessKey select static credentials. When
	// empty the SDK's default credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
}

// Store is an S3-backed capture.Store.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string

	mu     sync.RWMutex
	closed bool
}

// New creates a store with an existing client.
func New(client *s3.Client, cfg Config) *Store {
	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}
}

// NewFromConfig creates the S3 client from cfg.
func NewFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 capture store requires bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.MaxRetries))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return New(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

func (s *Store) fullKey(key string) string {
	return s.keyPrefix + key
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return capture.ErrStoreClosed
	}
	return nil
}

func (s *Store) Put(ctx context.Context, r *capture.Record) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.fullKey(r.Key())),
		Body:        bytes.NewReader(r.Data),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    encodeMetadata(r),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (*capture.Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, capture.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	r, err := decodeMetadata(resp.Metadata)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", key, err)
	}
	if r.Data, err = io.ReadAll(resp.Body); err != nil {
		return nil, fmt.Errorf("read s3 object body: %w", err)
	}
	r.Size = len(r.Data)
	return r, nil
}

func (s *Store) List(ctx context.Context, associationID string) ([]string, error) {
	if err := capture.ValidateAssociationID(associationID); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.fullKey(capture.Prefix(associationID))),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), s.keyPrefix))
		}
	}
	return keys, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("s3 delete object: %w", err)
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// HealthCheck verifies the bucket is accessible.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}

func encodeMetadata(r *capture.Record) map[string]string {
	return map[string]string{
		metaAssociation:    r.AssociationID,
		metaSequence:       strconv.FormatUint(r.Sequence, 10),
		metaContextID:      strconv.Itoa(int(r.ContextID)),
		metaAbstractSyntax: r.AbstractSyntax,
		metaTransferSyntax: r.TransferSyntax,
		metaCommand:        strconv.FormatBool(r.Command),
		metaReceivedAt:     r.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeMetadata(m map[string]string) (*capture.Record, error) {
	seq, err := strconv.ParseUint(m[metaSequence], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s metadata: %w", metaSequence, err)
	}
	ctxID, err := strconv.ParseUint(m[metaContextID], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid %s metadata: %w", metaContextID, err)
	}
	command, err := strconv.ParseBool(m[metaCommand])
	if err != nil {
		return nil, fmt.Errorf("invalid %s metadata: %w", metaCommand, err)
	}
	received, err := time.Parse(time.RFC3339Nano, m[metaReceivedAt])
	if err != nil {
		return nil, fmt.Errorf("invalid %s metadata: %w", metaReceivedAt, err)
	}
	return &capture.Record{
		AssociationID:  m[metaAssociation],
		Sequence:       seq,
		ContextID:      uint8(ctxID),
		AbstractSyntax: m[metaAbstractSyntax],
		TransferSyntax: m[metaTransferSyntax],
		Command:        command,
		ReceivedAt:     received,
	}, nil
}

// isNotFoundError reports whether err is an S3 missing-object error.
func isNotFoundError(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "NoSuchKey") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "404")
}

var _ capture.Store = (*Store)(nil)
