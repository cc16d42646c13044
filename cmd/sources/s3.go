package sources

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Source lists and downloads objects from an S3 bucket folder.
type S3Source struct {
	client     *s3.S3
	downloader *s3manager.Downloader
	bucket     string
	folder     string
}

// NewS3Source creates a source over bucket/folder. Credentials come from the
// default AWS chain (environment, shared config, instance role), matching how
// the secret store client is built.
func NewS3Source(bucket, folder, region string) (*S3Source, error) {
	cfg := &aws.Config{}
	if region != "" {
		cfg.Region = aws.String(region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: creating S3 session: %w", ErrTransport, err)
	}

	if folder != "" && !strings.HasSuffix(folder, "/") {
		folder += "/"
	}

	return &S3Source{
		client:     s3.New(sess),
		downloader: s3manager.NewDownloader(sess),
		bucket:     bucket,
		folder:     folder,
	}, nil
}

func (s *S3Source) Kind() string { return "s3" }

func (s *S3Source) List(ctx context.Context, sel Selector) ([]RemoteFileRef, error) {
	var refs []RemoteFileRef
	var continuationToken *string

	for {
		input := &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.folder),
			ContinuationToken: continuationToken,
		}

		result, err := s.client.ListObjectsV2WithContext(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("%w: listing s3://%s/%s: %w", ErrTransport, s.bucket, s.folder, err)
		}

		for _, obj := range result.Contents {
			key := aws.StringValue(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			base := path.Base(key)
			if !sel.Matches(base) {
				continue
			}
			refs = append(refs, RemoteFileRef{
				Name:    base,
				Path:    key,
				Size:    aws.Int64Value(obj.Size),
				ModTime: aws.TimeValue(obj.LastModified),
			})
		}

		if !aws.BoolValue(result.IsTruncated) {
			break
		}
		continuationToken = result.NextContinuationToken
	}

	sortRefs(refs)
	return refs, nil
}

func (s *S3Source) Fetch(ctx context.Context, ref RemoteFileRef, destDir string) (StagedFile, error) {
	localPath := stagingPath(destDir, ref.Name)
	f, err := os.Create(localPath)
	if err != nil {
		return StagedFile{}, fmt.Errorf("creating staged file: %w", err)
	}

	_, err = s.downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref.Path),
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(localPath)
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return StagedFile{}, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.bucket, ref.Path)
		}
		return StagedFile{}, fmt.Errorf("%w: downloading s3://%s/%s: %w", ErrTransport, s.bucket, ref.Path, err)
	}

	return stagedFile(s.Kind(), ref.Name, localPath)
}

func (s *S3Source) Close() error { return nil }
