package geo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

const s3Scheme = "s3://"

// LoadTemplate reads a keyhole template from src, which is either a local
// file path or an s3://bucket/key URI. Payloads with a .gz suffix are
// decompressed before decoding.
func LoadTemplate(ctx context.Context, src string) (Template, error) {
	raw, err := readSource(ctx, src)
	if err != nil {
		return Template{}, err
	}

	if strings.HasSuffix(src, ".gz") {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return Template{}, fmt.Errorf("decompress keyhole template %s: %w", src, err)
		}
		defer zr.Close()
		if raw, err = io.ReadAll(zr); err != nil {
			return Template{}, fmt.Errorf("decompress keyhole template %s: %w", src, err)
		}
	}

	var t Template
	if err := json.Unmarshal(raw, &t); err != nil {
		return Template{}, fmt.Errorf("decode keyhole template %s: %w", src, err)
	}
	if err := t.Validate(); err != nil {
		return Template{}, fmt.Errorf("keyhole template %s: %w", src, err)
	}
	return t, nil
}

func readSource(ctx context.Context, src string) ([]byte, error) {
	if strings.HasPrefix(src, s3Scheme) {
		bucket, key, ok := splitS3URI(src)
		if !ok {
			return nil, fmt.Errorf("malformed s3 uri %q: want s3://bucket/key", src)
		}
		return readS3Object(ctx, bucket, key)
	}
	raw, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("read keyhole template: %w", err)
	}
	return raw, nil
}

func splitS3URI(src string) (bucket, key string, ok bool) {
	bucket, key, found := strings.Cut(strings.TrimPrefix(src, s3Scheme), "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

func readS3Object(ctx context.Context, bucket, key string) ([]byte, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return raw, nil
}
