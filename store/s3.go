package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/actionforge/flowrun/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type S3Opts struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Store writes every version as its own object below
// <prefix>/<workflow id>/. Objects are created with If-None-Match so an
// existing version is never replaced.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

func createS3Config(ctx context.Context, opts S3Opts) (aws.Config, error) {
	var cfgOptions []func(*config.LoadOptions) error

	if opts.AccessKey != "" || opts.SecretKey != "" {
		staticProvider := credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")
		cfgOptions = append(cfgOptions, config.WithCredentialsProvider(staticProvider))
	}

	if opts.Region != "" {
		cfgOptions = append(cfgOptions, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, cfgOptions...)
	if err != nil {
		return aws.Config{}, core.CreateErr(err, "failed to load AWS sdk config")
	}

	if opts.Endpoint != "" {
		endpoint := opts.Endpoint
		if !strings.HasPrefix(endpoint, "http") {
			endpoint = "https://" + endpoint
		}
		cfg.BaseEndpoint = aws.String(endpoint)
	} else if opts.Region != "" {
		cfg.BaseEndpoint = aws.String(fmt.Sprintf("https://s3.%s.amazonaws.com", opts.Region))
	}

	cfg.RequestChecksumCalculation = aws.RequestChecksumCalculationUnset
	return cfg, nil
}

func NewS3Store(ctx context.Context, opts S3Opts) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, core.CreateErr(nil, "s3 bucket is missing")
	}

	cfg, err := createS3Config(ctx, opts)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// custom endpoints like minio only serve path style urls
		o.UsePathStyle = opts.Endpoint != ""
	})

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
	}, nil
}

func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) workflowDir(workflowId string) string {
	return path.Join(s.prefix, workflowId) + "/"
}

// versionKey zero pads the version so listings come back in order.
func (s *S3Store) versionKey(workflowId string, version int) string {
	return fmt.Sprintf("%sv%010d.json", s.workflowDir(workflowId), version)
}

func parseVersionKey(key string) (int, bool) {
	name := path.Base(key)
	if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "v"), ".json"))
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}

func (s *S3Store) SaveVersion(ctx context.Context, workflowId string, doc core.Document) (Snapshot, error) {
	if err := checkWorkflowId(workflowId); err != nil {
		return Snapshot{}, err
	}
	if strings.Contains(workflowId, "/") {
		return Snapshot{}, core.CreateErr(nil, "workflow id '%s' must not contain slashes", workflowId)
	}

	raw, digest, err := encodeDocument(doc)
	if err != nil {
		return Snapshot{}, err
	}

	versions, err := s.versionNumbers(ctx, workflowId)
	if err != nil {
		return Snapshot{}, err
	}
	version := len(versions) + 1
	if len(versions) > 0 {
		version = versions[len(versions)-1] + 1
	}

	snap, err := decodeSnapshot(workflowId, version, digest, timeNow(), raw)
	if err != nil {
		return Snapshot{}, err
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return Snapshot{}, core.CreateErr(err, "unable to encode version %d of '%s'", version, workflowId)
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.versionKey(workflowId, version)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return Snapshot{}, conflict(workflowId, version)
		}
		return Snapshot{}, core.CreateErr(err, "unable to upload version %d of '%s'", version, workflowId)
	}

	return snap, nil
}

func (s *S3Store) versionNumbers(ctx context.Context, workflowId string) ([]int, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.workflowDir(workflowId)),
	})

	var versions []int
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, core.CreateErr(err, "unable to list versions of '%s'", workflowId)
		}
		for _, item := range page.Contents {
			if v, ok := parseVersionKey(aws.ToString(item.Key)); ok {
				versions = append(versions, v)
			}
		}
	}
	return versions, nil
}

func (s *S3Store) GetVersion(ctx context.Context, workflowId string, version int) (Snapshot, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.versionKey(workflowId, version)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return Snapshot{}, notFound(workflowId, version)
		}
		return Snapshot{}, core.CreateErr(err, "unable to download version %d of '%s'", version, workflowId)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Snapshot{}, core.CreateErr(err, "unable to read version %d of '%s'", version, workflowId)
	}

	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return Snapshot{}, core.CreateErr(err, "version %d of '%s' is corrupt", version, workflowId)
	}
	return snap, nil
}

func (s *S3Store) LatestVersion(ctx context.Context, workflowId string) (Snapshot, error) {
	versions, err := s.versionNumbers(ctx, workflowId)
	if err != nil {
		return Snapshot{}, err
	}
	if len(versions) == 0 {
		return Snapshot{}, notFound(workflowId, 0)
	}
	return s.GetVersion(ctx, workflowId, versions[len(versions)-1])
}

func (s *S3Store) ListVersions(ctx context.Context, workflowId string) ([]Snapshot, error) {
	versions, err := s.versionNumbers(ctx, workflowId)
	if err != nil {
		return nil, err
	}

	snapshots := make([]Snapshot, 0, len(versions))
	for _, v := range versions {
		snap, err := s.GetVersion(ctx, workflowId, v)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}
