package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"budgetsync/internal/budget"
	"budgetsync/internal/model"
)

// S3API is the subset of the S3 client used by S3Remote.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Remote stores one object per month at <prefix>/<userID>/<month>.json
// (".json.age" when sealed). Any S3-compatible store works when an endpoint
// is configured.
type S3Remote struct {
	client S3API
	bucket string
	prefix string
	userID string
	clock  budget.Clock
	sealer Sealer
}

var _ budget.Remote = (*S3Remote)(nil)

// S3Options configures NewS3Remote.
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // optional, for S3-compatible stores

	// Static credentials; when empty the default AWS chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds an S3 client from opts and the default AWS config.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Remote creates a remote over client.
func NewS3Remote(client S3API, opts S3Options, userID string, clock budget.Clock, sealer Sealer) (*S3Remote, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3_bucket required for s3 remote")
	}
	if userID == "" {
		return nil, fmt.Errorf("user id required for s3 remote")
	}
	return &S3Remote{
		client: client,
		bucket: opts.Bucket,
		prefix: opts.Prefix,
		userID: userID,
		clock:  clock,
		sealer: sealer,
	}, nil
}

func (r *S3Remote) key(month string) string {
	name := month + ".json"
	if r.sealer != nil {
		name += ".age"
	}
	return path.Join(r.prefix, r.userID, name)
}

// FetchBudget reads the object for month. NoSuchKey is (nil, nil).
func (r *S3Remote) FetchBudget(ctx context.Context, month string) (*model.Document, error) {
	if err := budget.ValidateMonth(month); err != nil {
		return nil, err
	}

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key(month)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting s3 object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading s3 object: %w", err)
	}
	if r.sealer != nil {
		if data, err = r.sealer.Open(data); err != nil {
			return nil, err
		}
	}

	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding s3 object: %w", err)
	}
	return &doc, nil
}

// SaveBudget overwrites the object for doc.Month.
func (r *S3Remote) SaveBudget(ctx context.Context, doc *model.Document) error {
	if err := budget.ValidateMonth(doc.Month); err != nil {
		return err
	}

	stored := *doc
	if stored.ID == "" {
		existing, err := r.FetchBudget(ctx, doc.Month)
		if err != nil {
			return fmt.Errorf("reading existing budget: %w", err)
		}
		if existing != nil && existing.ID != "" {
			stored.ID = existing.ID
		} else {
			stored.ID = uuid.NewString()
		}
	}
	now := r.clock.Now().UTC()
	stored.UpdatedAt = &now

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encoding budget: %w", err)
	}
	contentType := "application/json"
	if r.sealer != nil {
		if data, err = r.sealer.Seal(data); err != nil {
			return err
		}
		contentType = "text/plain"
	}

	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(r.key(doc.Month)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("putting s3 object: %w", err)
	}
	return nil
}
