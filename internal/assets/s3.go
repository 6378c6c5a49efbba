package assets

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Grant is a time-boxed download capability for the asset.
type Grant struct {
	URL       string
	ExpiresAt time.Time
}

// Store mints signed download URLs for a single object in an S3-compatible
// bucket (AWS S3, MinIO, Supabase storage).
type Store struct {
	presigner *s3.PresignClient
	bucket    string
	key       string
	ttl       time.Duration
}

type StoreConfig struct {
	Bucket   string
	Key      string // object key of the asset, e.g. "musica-e-ansiedade.pdf"
	Region   string
	Endpoint string // optional custom endpoint (MinIO, Supabase)
	TTL      time.Duration
}

func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // required for MinIO/Supabase
		}
	}
	client := s3.NewFromConfig(awsCfg, clientOpts)

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Store{
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		key:       cfg.Key,
		ttl:       ttl,
	}, nil
}

// CreateGrant returns a signed URL valid for the configured window.
func (s *Store) CreateGrant(ctx context.Context) (Grant, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return Grant{}, fmt.Errorf("presign asset url: %w", err)
	}
	return Grant{URL: req.URL, ExpiresAt: time.Now().Add(s.ttl)}, nil
}

func (s *Store) TTL() time.Duration { return s.ttl }
