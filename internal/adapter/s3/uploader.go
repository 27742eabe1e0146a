// Package s3 uploads job archives to AWS S3 or an S3-compatible store.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/cwygoda/haul/internal/domain"
)

const (
	defaultRegion        = "us-east-1"
	defaultPresignExpiry = 7 * 24 * time.Hour
)

// Config describes the target bucket and credentials. Empty credentials
// fall back to the SDK default chain.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
	PresignExpiry   time.Duration
}

// objectAPI is the subset of *s3.Client the uploader calls.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	PutObjectAcl(ctx context.Context, in *s3.PutObjectAclInput, optFns ...func(*s3.Options)) (*s3.PutObjectAclOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Uploader implements domain.Uploader on S3. Folders are key prefixes
// ending in "/", marked by an empty placeholder object.
type Uploader struct {
	api     objectAPI
	presign presigner
	cfg     Config
	log     *zap.Logger
}

// New builds an uploader from cfg.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = defaultRegion
	}
	cfg.Region = awsCfg.Region

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newUploader(client, s3.NewPresignClient(client), cfg, log), nil
}

func newUploader(api objectAPI, presign presigner, cfg Config, log *zap.Logger) *Uploader {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = defaultPresignExpiry
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	return &Uploader{api: api, presign: presign, cfg: cfg, log: log}
}

// CreateFolder returns the prefix "<parent>/<name>/" as the folder ID.
func (u *Uploader) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	prefix := folderPrefix(parentID, name)
	_, err := u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(prefix),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return "", fmt.Errorf("create folder %s: %w", prefix, err)
	}
	u.log.Info("s3 folder created", zap.String("bucket", u.cfg.Bucket), zap.String("prefix", prefix))
	return prefix, nil
}

func (u *Uploader) UploadFile(ctx context.Context, filePath, parentID string) (*domain.UploadedFile, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filePath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", filePath, err)
	}

	key := objectKey(parentID, filepath.Base(filePath))
	_, err = u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/zip"),
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}
	u.log.Info("s3 object uploaded", zap.String("key", key), zap.Int64("bytes", info.Size()))

	links, err := u.links(ctx, key)
	if err != nil {
		return nil, err
	}
	return &domain.UploadedFile{ID: key, ViewLink: links.ViewLink, DownloadLink: links.DownloadLink}, nil
}

// GrantPublicRead applies the public-read canned ACL. Buckets with ACLs
// disabled reject that call; their access is managed by bucket policy, so
// the rejection is logged and the links are returned anyway.
func (u *Uploader) GrantPublicRead(ctx context.Context, fileID string) (*domain.Links, error) {
	_, err := u.api.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(fileID),
		ACL:    types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		if !aclsDisabled(err) {
			return nil, fmt.Errorf("share %s: %w", fileID, err)
		}
		u.log.Warn("bucket has ACLs disabled, relying on bucket policy", zap.String("key", fileID))
	}
	return u.links(ctx, fileID)
}

func (u *Uploader) links(ctx context.Context, key string) (*domain.Links, error) {
	req, err := u.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(u.cfg.PresignExpiry))
	if err != nil {
		return nil, fmt.Errorf("presign %s: %w", key, err)
	}
	return &domain.Links{ViewLink: u.objectURL(key), DownloadLink: req.URL}, nil
}

// objectURL is the unsigned URL of key.
func (u *Uploader) objectURL(key string) string {
	escaped := escapeKey(key)
	if u.cfg.Endpoint != "" {
		base := strings.TrimSuffix(u.cfg.Endpoint, "/")
		if u.cfg.PathStyle {
			return base + "/" + u.cfg.Bucket + "/" + escaped
		}
		if parsed, err := url.Parse(base); err == nil && parsed.Host != "" {
			parsed.Host = u.cfg.Bucket + "." + parsed.Host
			return strings.TrimSuffix(parsed.String(), "/") + "/" + escaped
		}
		return base + "/" + u.cfg.Bucket + "/" + escaped
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.cfg.Bucket, u.cfg.Region, escaped)
}

func folderPrefix(parent, name string) string {
	return objectKey(parent, name) + "/"
}

func objectKey(parent, name string) string {
	parent = strings.Trim(parent, "/")
	if parent == "" {
		return name
	}
	return path.Join(parent, name)
}

func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func aclsDisabled(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "AccessControlListNotSupported"
	}
	return false
}
