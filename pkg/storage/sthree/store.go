// Copyright © 2018 One Concern

// Package sthree implements storage.Store on an S3-compatible object store (AWS S3, MinIO).
package sthree

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oneconcern/refdb/pkg/storage"
	"github.com/oneconcern/refdb/pkg/storage/status"
)

// PageSize is the maximum number of keys fetched per listing call
const PageSize = 1000

const defaultRegion = "us-east-1"

// Option configures the S3 store
type Option func(*s3FS)

// Bucket sets the bucket holding all objects
func Bucket(bucket string) Option {
	return func(fs *s3FS) {
		fs.bucket = bucket
	}
}

// Region sets the AWS region. Defaults to us-east-1.
func Region(region string) Option {
	return func(fs *s3FS) {
		fs.region = region
	}
}

// Endpoint points the client to a custom S3-compatible endpoint, e.g. MinIO
func Endpoint(endpoint string) Option {
	return func(fs *s3FS) {
		fs.endpoint = endpoint
	}
}

// PathStyle forces path-style addressing of buckets
func PathStyle(enabled bool) Option {
	return func(fs *s3FS) {
		fs.pathStyle = enabled
	}
}

// StaticCredentials bypasses the default AWS credentials chain
func StaticCredentials(accessKeyID, secretAccessKey string) Option {
	return func(fs *s3FS) {
		fs.accessKeyID = accessKeyID
		fs.secretAccessKey = secretAccessKey
	}
}

// HTTPClient overrides the http client used by the AWS SDK
func HTTPClient(client aws.HTTPClient) Option {
	return func(fs *s3FS) {
		fs.httpClient = client
	}
}

// New builds an S3 store.
//
// Credentials are resolved by the default AWS chain unless StaticCredentials is specified.
func New(ctx context.Context, option Option, options ...Option) (storage.Store, error) {
	fs := &s3FS{region: defaultRegion}
	option(fs)
	for _, apply := range options {
		apply(fs)
	}
	if fs.bucket == "" {
		return nil, status.ErrInvalidResource.WrapMessage("s3 bucket required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(fs.region)}
	if fs.accessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(fs.accessKeyID, fs.secretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, status.ErrStorageAPI.Wrap(err)
	}

	fs.s3 = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = fs.pathStyle
		if fs.endpoint != "" {
			o.BaseEndpoint = aws.String(fs.endpoint)
		}
		if fs.httpClient != nil {
			o.HTTPClient = fs.httpClient
		}
		// streamed bodies are not seekable: only send checksums when the API demands them
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return fs, nil
}

type s3FS struct {
	bucket          string
	region          string
	endpoint        string
	pathStyle       bool
	accessKeyID     string
	secretAccessKey string
	httpClient      aws.HTTPClient
	s3              *s3.Client
}

func (s *s3FS) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, toSentinelErrors(err)
	}
	return true, nil
}

func (s *s3FS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, toSentinelErrors(err)
	}
	return obj.Body, nil
}

// Put uploads an object. With exclusive set, the upload is conditional on the key being absent.
func (s *s3FS) Put(ctx context.Context, key string, rdr io.Reader, exclusive bool) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   rdr,
	}
	if exclusive {
		has, err := s.Has(ctx, key)
		if err != nil {
			return err
		}
		if has {
			return status.ErrExists.WrapMessage("key %q", key)
		}
		input.IfNoneMatch = aws.String("*")
	}
	_, err := s.s3.PutObject(ctx, input)
	return toSentinelErrors(err)
}

func (s *s3FS) Delete(ctx context.Context, key string) error {
	_, err := s.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return filterErrNotExists(toSentinelErrors(err))
}

func (s *s3FS) Keys(ctx context.Context) ([]string, error) {
	keys, _, err := s.KeysPrefix(ctx, "", "", "", 0)
	return keys, err
}

// KeysPrefix lists keys after token. A zero count walks all pages.
func (s *s3FS) KeysPrefix(ctx context.Context, token, prefix, delimiter string, count int) ([]string, string, error) {
	params := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	if delimiter != "" {
		params.Delimiter = aws.String(delimiter)
	}
	if token != "" {
		params.StartAfter = aws.String(token)
	}

	if count > 0 {
		params.MaxKeys = aws.Int32(int32(min(count, PageSize)))
		page, err := s.s3.ListObjectsV2(ctx, params)
		if err != nil {
			return nil, "", toSentinelErrors(err)
		}
		keys := collect(page, make([]string, 0, count))
		next := ""
		if aws.ToBool(page.IsTruncated) && len(keys) > 0 {
			next = keys[len(keys)-1]
		}
		return keys, next, nil
	}

	params.MaxKeys = aws.Int32(PageSize)
	var keys []string
	pager := s3.NewListObjectsV2Paginator(s.s3, params)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, "", toSentinelErrors(err)
		}
		keys = collect(page, keys)
	}
	return keys, "", nil
}

func collect(page *s3.ListObjectsV2Output, keys []string) []string {
	for _, obj := range page.Contents {
		key := aws.ToString(obj.Key)
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func (s *s3FS) Clear(ctx context.Context) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *s3FS) String() string {
	return "s3@" + s.bucket
}
