package mizar

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MirrorStore wraps an S3-compatible bucket used as a snapshot and
// artifact mirror, so build farms don't hammer the registry.
type MirrorStore struct {
	Client *s3.Client
	Bucket string
	Prefix string
}

// NewMirrorStore initializes the mirror client from configuration values.
// Credentials come from MIZAR_MIRROR_ACCESS_KEY_ID / _SECRET_ACCESS_KEY,
// falling back to the standard AWS credential chain when unset.
func NewMirrorStore(cfg *Config) (*MirrorStore, error) {
	if MirrorBucket == "" {
		return nil, fmt.Errorf("mirror bucket not configured (MIZAR_MIRROR_BUCKET)")
	}
	accessKey := cfg.Values["MIZAR_MIRROR_ACCESS_KEY_ID"]
	secretKey := cfg.Values["MIZAR_MIRROR_SECRET_ACCESS_KEY"]

	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(MirrorRegion),
	}
	if accessKey != "" && secretKey != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	if Debug {
		options = append(options, awsconfig.WithClientLogMode(
			aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("load mirror config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if MirrorEndpoint != "" {
			o.BaseEndpoint = aws.String(MirrorEndpoint)
		}
		o.UsePathStyle = true
	})

	return &MirrorStore{
		Client: client,
		Bucket: MirrorBucket,
		Prefix: MirrorPrefix,
	}, nil
}

func (m *MirrorStore) key(name string) string {
	if m.Prefix == "" {
		return name
	}
	return path.Join(m.Prefix, name)
}

// Download fetches an object from the mirror into a local file.
func (m *MirrorStore) Download(ctx context.Context, name, dst string) error {
	out, err := m.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.Bucket),
		Key:    aws.String(m.key(name)),
	})
	if err != nil {
		return fmt.Errorf("mirror get %s: %w", name, err)
	}
	defer out.Body.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("mirror write %s: %w", dst, err)
	}
	return nil
}

// Upload pushes a local file to the mirror.
func (m *MirrorStore) Upload(ctx context.Context, name, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	contentType := "application/octet-stream"
	switch {
	case strings.HasSuffix(name, ".json"):
		contentType = "application/json"
	case strings.HasSuffix(name, ".zst"):
		contentType = "application/zstd"
	case strings.HasSuffix(name, ".gz"):
		contentType = "application/gzip"
	}

	_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.Bucket),
		Key:           aws.String(m.key(name)),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("mirror put %s: %w", name, err)
	}
	return nil
}

// activeMirror is set during startup when a mirror is configured.
var activeMirror *MirrorStore

// mirrorFetchSnapshot pulls a snapshot tarball from the configured mirror.
func mirrorFetchSnapshot(name, dst string) error {
	if activeMirror == nil {
		return fmt.Errorf("mirror not initialized")
	}
	debugf("fetching %s from mirror\n", name)
	return activeMirror.Download(UserExec.Context, name, dst)
}
