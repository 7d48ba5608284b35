package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"docloader/internal/domain"
	"docloader/internal/etl"
)

// ── S3 Resolver ─────────────────────────────────────────────
// Reads a container document from an S3-compatible object store.
// References look like s3://bucket/key/to/entry.json[#data.path].

// S3Config configures the S3 resolver. Empty credentials fall back to the
// default AWS credentials chain.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"-"`
}

// S3API is the subset of the S3 client the resolver uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type s3Resolver struct {
	client S3API
}

// NewS3Resolver builds an S3 client from cfg.
func NewS3Resolver(ctx context.Context, cfg S3Config, optFns ...func(*s3.Options)) (etl.Resolver, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		for _, fn := range optFns {
			fn(o)
		}
	})
	return &s3Resolver{client: client}, nil
}

// NewS3ResolverWithClient wraps an existing client.
func NewS3ResolverWithClient(client S3API) etl.Resolver { return &s3Resolver{client: client} }

func (s *s3Resolver) Spec() etl.ResolverSpec {
	return etl.ResolverSpec{Schemes: []string{"s3"}, Label: "S3 Object"}
}

func (s *s3Resolver) Resolve(ctx context.Context, ref string) (*domain.Container, error) {
	path, dataPath := splitFragment(strings.TrimPrefix(ref, "s3://"))
	bucket, key, ok := strings.Cut(path, "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("invalid s3 reference %q: want s3://bucket/key", ref)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()
	return decodeContainer(out.Body, dataPath)
}
