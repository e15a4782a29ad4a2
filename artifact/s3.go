package artifact

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/teranos/ytmp3/am"
	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/logger"
	"github.com/teranos/ytmp3/pulse/async"
	"github.com/teranos/ytmp3/sym"
)

// S3API is the subset of the S3 client the store calls.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Store keeps artifacts as objects in one bucket.
type S3Store struct {
	client   S3API
	bucket   string
	region   string
	endpoint string
	logger   *zap.SugaredLogger
}

var _ async.ArtifactStore = (*S3Store)(nil)

// NewS3Store builds a client from the default AWS credential chain, or from
// static keys when cfg carries them.
func NewS3Store(ctx context.Context, cfg am.S3Config, log *zap.SugaredLogger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.WithHint(errors.New("s3 bucket is required"), "Set artifacts.s3.bucket or BUCKET_NAME")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	store := NewS3StoreWithClient(client, cfg.Bucket, awsCfg.Region, log)
	store.endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return store, nil
}

// NewS3StoreWithClient wraps an existing client
func NewS3StoreWithClient(client S3API, bucket, region string, log *zap.SugaredLogger) *S3Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		region: region,
		logger: logger.AddSymbol(log.Named("s3"), sym.Artifact),
	}
}

// Locator returns the reference recorded on jobs for name.
func (s *S3Store) Locator(name string) string {
	if s.endpoint != "" {
		return s.endpoint + "/" + s.bucket + "/" + name
	}
	return fmt.Sprintf("%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, name)
}

// Exists reports whether the object exists
func (s *S3Store) Exists(ctx context.Context, name string) (bool, error) {
	if err := validName(name); err != nil {
		return false, err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to head s3://%s/%s", s.bucket, name)
}

// Upload puts r under name, replacing any existing object
func (s *S3Store) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
		Body:   r,
	}
	if ct := contentType(name); ct != "" {
		input.ContentType = aws.String(ct)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", errors.Wrapf(err, "failed to upload s3://%s/%s", s.bucket, name)
	}
	return s.Locator(name), nil
}

// DeleteBatch removes names in requests of at most MaxDeleteBatch keys.
// Missing objects are not errors. Failures are reported per name through
// *async.DeleteError so callers can keep going with the rest.
func (s *S3Store) DeleteBatch(ctx context.Context, names []string) error {
	var failed []string
	var errs error
	for start := 0; start < len(names); start += MaxDeleteBatch {
		end := min(start+MaxDeleteBatch, len(names))

		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, name := range names[start:end] {
			if err := validName(name); err != nil {
				failed = append(failed, name)
				errs = errors.CombineErrors(errs, err)
				continue
			}
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(name)})
		}
		if len(objects) == 0 {
			continue
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			for _, o := range objects {
				failed = append(failed, aws.ToString(o.Key))
			}
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "failed to delete %d objects from %s", len(objects), s.bucket))
			continue
		}
		keyErrors := 0
		for _, e := range out.Errors {
			if aws.ToString(e.Code) == "NoSuchKey" {
				continue
			}
			keyErrors++
			failed = append(failed, aws.ToString(e.Key))
			errs = errors.CombineErrors(errs, errors.Newf("failed to delete s3://%s/%s: %s: %s",
				s.bucket, aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message)))
		}
		s.logger.Debugw("Deleted objects", logger.FieldCount, len(objects)-keyErrors)
	}
	if len(failed) > 0 {
		return &async.DeleteError{Failed: failed, Cause: errs}
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

var audioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".opus": "audio/opus",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
}

func contentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := audioTypes[ext]; ok {
		return ct
	}
	return mime.TypeByExtension(ext)
}
