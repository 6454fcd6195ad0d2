package cleaner

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/efs"
	"github.com/cloudetc/awswipe/pkg/retry"
)

type EFSAPI interface {
	efs.DescribeFileSystemsAPIClient
	DescribeMountTargets(ctx context.Context, params *efs.DescribeMountTargetsInput,
		optFns ...func(*efs.Options)) (*efs.DescribeMountTargetsOutput, error)
	DeleteMountTarget(ctx context.Context, params *efs.DeleteMountTargetInput,
		optFns ...func(*efs.Options)) (*efs.DeleteMountTargetOutput, error)
	DeleteFileSystem(ctx context.Context, params *efs.DeleteFileSystemInput,
		optFns ...func(*efs.Options)) (*efs.DeleteFileSystemOutput, error)
}

// EFSCleaner removes a file system's mount targets before the file
// system itself.
type EFSCleaner struct {
	api EFSAPI
	env *Env
}

func NewEFSCleaner(api EFSAPI, env *Env) *EFSCleaner {
	return &EFSCleaner{api: api, env: env}
}

func (c *EFSCleaner) Category() string { return CategoryEFS }

func (c *EFSCleaner) Prerequisites() []string { return nil }

func (c *EFSCleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	pg := efs.NewDescribeFileSystemsPaginator(c.api, &efs.DescribeFileSystemsInput{})

	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("describing file systems: %w", err)
		}

		for _, fs := range page.FileSystems {
			id := aws.ToString(fs.FileSystemId)

			if c.deleteMountTargets(ctx, logger, id) && !c.env.dryRun() {
				c.env.Retry.Wait(retry.ShortDelay)
			}

			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete file system %s", id)
				continue
			}

			logger.Infof("deleting file system %s", id)
			c.env.deleteResource("EFS File Systems", id, fmt.Sprintf("delete file system %s", id), func() error {
				_, err := c.api.DeleteFileSystem(ctx, &efs.DeleteFileSystemInput{FileSystemId: aws.String(id)})
				if retry.IsNotFound(err) {
					return nil
				}
				return err
			})
		}
	}

	return nil
}

// deleteMountTargets reports whether any mount target was found.
func (c *EFSCleaner) deleteMountTargets(ctx context.Context, logger log.Interface, fileSystemID string) bool {
	out, err := c.api.DescribeMountTargets(ctx, &efs.DescribeMountTargetsInput{
		FileSystemId: aws.String(fileSystemID),
	})
	if err != nil {
		logger.WithError(err).Warnf("failed to list mount targets of %s", fileSystemID)
		return false
	}

	for _, mt := range out.MountTargets {
		id := aws.ToString(mt.MountTargetId)

		if c.env.dryRun() {
			logger.Infof("[dry-run] would delete mount target %s", id)
			continue
		}

		logger.Infof("deleting mount target %s", id)
		c.env.deleteResource("EFS Mount Targets", id, fmt.Sprintf("delete mount target %s", id), func() error {
			_, err := c.api.DeleteMountTarget(ctx, &efs.DeleteMountTargetInput{MountTargetId: aws.String(id)})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return len(out.MountTargets) > 0
}
