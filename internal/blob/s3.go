package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/runledger/runledger/internal/model"
)

// compressThreshold is the payload size above which turn content is
// zstd-compressed before upload. Small payloads are stored as-is; the codec
// overhead is not worth it below a few KB.
const compressThreshold = 4 * 1024

// contentEncodingZstd marks compressed objects so Get knows to decompress.
const contentEncodingZstd = "zstd"

// tierToStorageClass maps logical tiers to S3 storage classes.
var tierToStorageClass = map[model.StorageTier]s3types.StorageClass{
	model.TierHot:     s3types.StorageClassStandard,
	model.TierCool:    s3types.StorageClassStandardIa,
	model.TierArchive: s3types.StorageClassGlacier,
}

// storageClassToTier is the inverse of tierToStorageClass. An empty storage
// class on HeadObject means STANDARD.
var storageClassToTier = map[s3types.StorageClass]model.StorageTier{
	s3types.StorageClassStandard:   model.TierHot,
	s3types.StorageClassStandardIa: model.TierCool,
	s3types.StorageClassGlacier:    model.TierArchive,
}

// S3Store implements Store on an S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

// Compile-time interface check.
var _ Store = (*S3Store)(nil)

// NewS3Store creates an S3-backed blob store for the given bucket.
// The client should be initialized from the shared AWS config.
func NewS3Store(client *s3.Client, bucket string) (*S3Store, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}
	return &S3Store{client: client, bucket: bucket, enc: enc, dec: dec}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	body := data
	encoding := ""
	if len(data) >= compressThreshold {
		body = s.enc.EncodeAll(data, nil)
		encoding = contentEncodingZstd
	}

	input := &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	}
	if encoding != "" {
		input.ContentEncoding = aws.String(encoding)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("PutObject %s: %w", key, err)
	}

	log.Debug().Str("key", key).Int("size", len(data)).Bool("compressed", encoding != "").Msg("Blob written")
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket, Key: &key,
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("GetObject %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	if aws.ToString(result.ContentEncoding) == contentEncodingZstd {
		data, err = s.dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", key, err)
		}
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket, Key: &key,
	}); err != nil {
		return fmt.Errorf("DeleteObject %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	input := &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: &prefix}

	// ListObjectsV2 returns at most 1000 keys per call.
	for {
		result, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("ListObjectsV2 %s: %w", prefix, err)
		}
		for _, obj := range result.Contents {
			keys = append(keys, *obj.Key)
		}
		if result.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = result.NextContinuationToken
	}
	return keys, nil
}

func (s *S3Store) SetTier(ctx context.Context, key string, tier model.StorageTier) error {
	class, ok := tierToStorageClass[tier]
	if !ok {
		return fmt.Errorf("unknown storage tier %q", tier)
	}

	current, err := s.Tier(ctx, key)
	if err != nil {
		return err
	}
	if current == tier {
		return nil
	}

	// S3 changes storage class via a self-copy.
	source := s.bucket + "/" + key
	if _, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            &s.bucket,
		Key:               &key,
		CopySource:        &source,
		StorageClass:      class,
		MetadataDirective: s3types.MetadataDirectiveCopy,
	}); err != nil {
		return fmt.Errorf("CopyObject %s to %s: %w", key, tier, err)
	}

	log.Debug().Str("key", key).Str("tier", string(tier)).Msg("Blob re-tiered")
	return nil
}

func (s *S3Store) Tier(ctx context.Context, key string) (model.StorageTier, error) {
	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket, Key: &key,
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("HeadObject %s: %w", key, err)
	}
	if tier, ok := storageClassToTier[result.StorageClass]; ok {
		return tier, nil
	}
	return model.TierHot, nil
}
