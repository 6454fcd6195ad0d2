package cleaner

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cloudetc/awswipe/pkg/retry"
)

// deleteObjectsBatchSize is the maximum number of keys a single
// DeleteObjects call accepts.
const deleteObjectsBatchSize = 1000

type S3API interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput,
		optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	ListMultipartUploads(ctx context.Context, params *s3.ListMultipartUploadsInput,
		optFns ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput,
		optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListObjectVersions(ctx context.Context, params *s3.ListObjectVersionsInput,
		optFns ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput,
		optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput,
		optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
}

// S3Cleaner empties and deletes buckets. Emptying covers live objects,
// all versions, delete markers, and unfinished multipart uploads;
// a bucket refuses deletion while any of those remain.
type S3Cleaner struct {
	api S3API
	env *Env
}

func NewS3Cleaner(api S3API, env *Env) *S3Cleaner {
	return &S3Cleaner{api: api, env: env}
}

func (c *S3Cleaner) Category() string { return CategoryS3 }

func (c *S3Cleaner) Prerequisites() []string { return nil }

func (c *S3Cleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	out, err := c.api.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return fmt.Errorf("listing buckets: %w", err)
	}

	for _, bucket := range out.Buckets {
		name := aws.ToString(bucket.Name)

		if c.env.Config.ExcludedByName(name) {
			logger.Debugf("skipping bucket %s, excluded by name pattern", name)
			continue
		}

		if c.env.dryRun() {
			logger.Infof("[dry-run] would empty and delete bucket %s", name)
			continue
		}

		logger.Infof("emptying bucket %s", name)
		if err := c.emptyBucket(ctx, name); err != nil {
			logger.WithError(err).Errorf("could not empty bucket %s", name)
			c.env.Report.Record("S3 Buckets", name, false, err.Error())
			continue
		}

		logger.Infof("deleting bucket %s", name)
		c.env.deleteResource("S3 Buckets", name, fmt.Sprintf("delete bucket %s", name), func() error {
			_, err := c.api.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(name)})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}

func (c *S3Cleaner) emptyBucket(ctx context.Context, name string) error {
	if err := c.abortMultipartUploads(ctx, name); err != nil {
		return err
	}
	return c.deleteAllVersions(ctx, name)
}

func (c *S3Cleaner) abortMultipartUploads(ctx context.Context, name string) error {
	input := &s3.ListMultipartUploadsInput{Bucket: aws.String(name)}

	for {
		out, err := c.api.ListMultipartUploads(ctx, input)
		if err != nil {
			if retry.IsNotFound(err) {
				return nil
			}
			return fmt.Errorf("listing multipart uploads of %s: %w", name, err)
		}

		for _, upload := range out.Uploads {
			key := aws.ToString(upload.Key)
			uploadID := aws.ToString(upload.UploadId)
			c.env.Retry.DoBool(fmt.Sprintf("abort multipart upload %s of %s", uploadID, name), func() error {
				_, err := c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
					Bucket:   aws.String(name),
					Key:      aws.String(key),
					UploadId: aws.String(uploadID),
				})
				if retry.IsNotFound(err) {
					return nil
				}
				return err
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		input.KeyMarker = out.NextKeyMarker
		input.UploadIdMarker = out.NextUploadIdMarker
	}
}

func (c *S3Cleaner) deleteAllVersions(ctx context.Context, name string) error {
	input := &s3.ListObjectVersionsInput{Bucket: aws.String(name)}

	for {
		out, err := c.api.ListObjectVersions(ctx, input)
		if err != nil {
			if retry.IsNotFound(err) {
				return nil
			}
			return fmt.Errorf("listing object versions of %s: %w", name, err)
		}

		objects := make([]s3types.ObjectIdentifier, 0, len(out.Versions)+len(out.DeleteMarkers))
		for _, version := range out.Versions {
			objects = append(objects, s3types.ObjectIdentifier{
				Key:       version.Key,
				VersionId: version.VersionId,
			})
		}
		for _, marker := range out.DeleteMarkers {
			objects = append(objects, s3types.ObjectIdentifier{
				Key:       marker.Key,
				VersionId: marker.VersionId,
			})
		}

		for start := 0; start < len(objects); start += deleteObjectsBatchSize {
			end := start + deleteObjectsBatchSize
			if end > len(objects) {
				end = len(objects)
			}
			batch := objects[start:end]

			err := c.env.Retry.Do(fmt.Sprintf("delete %d objects of %s", len(batch), name), func() error {
				_, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
					Bucket: aws.String(name),
					Delete: &s3types.Delete{Objects: batch, Quiet: aws.Bool(true)},
				})
				return err
			})
			if err != nil {
				return fmt.Errorf("deleting objects of %s: %w", name, err)
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		input.KeyMarker = out.NextKeyMarker
		input.VersionIdMarker = out.NextVersionIdMarker
	}
}
