package cleaner

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/cloudetc/awswipe/pkg/retry"
)

type EBSAPI interface {
	ec2.DescribeVolumesAPIClient
	ec2.DescribeSnapshotsAPIClient
	DeleteVolume(ctx context.Context, params *ec2.DeleteVolumeInput,
		optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error)
	DeleteSnapshot(ctx context.Context, params *ec2.DeleteSnapshotInput,
		optFns ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error)
}

// EBSCleaner deletes unattached volumes and self-owned snapshots. It
// depends on ec2 so the instances holding volumes are gone first.
type EBSCleaner struct {
	api EBSAPI
	env *Env
}

func NewEBSCleaner(api EBSAPI, env *Env) *EBSCleaner {
	return &EBSCleaner{api: api, env: env}
}

func (c *EBSCleaner) Category() string { return CategoryEBS }

func (c *EBSCleaner) Prerequisites() []string { return []string{CategoryEC2} }

func (c *EBSCleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	if err := c.deleteVolumes(ctx, logger); err != nil {
		return err
	}

	return c.deleteSnapshots(ctx, logger)
}

func (c *EBSCleaner) deleteVolumes(ctx context.Context, logger log.Interface) error {
	// only unattached volumes; attached ones disappear with their instance
	pg := ec2.NewDescribeVolumesPaginator(c.api, &ec2.DescribeVolumesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("status"), Values: []string{"available"}},
		},
	})

	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("describing volumes: %w", err)
		}

		for _, volume := range page.Volumes {
			id := aws.ToString(volume.VolumeId)

			if !c.env.Config.MatchesTagFilters(ec2TagMap(volume.Tags)) {
				logger.Debugf("skipping volume %s, excluded by tag filters", id)
				continue
			}

			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete EBS volume %s", id)
				continue
			}

			logger.Infof("deleting EBS volume %s", id)
			c.env.deleteResource("EBS Volumes", id, fmt.Sprintf("delete volume %s", id), func() error {
				_, err := c.api.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(id)})
				if retry.IsNotFound(err) {
					return nil
				}
				return err
			})
		}
	}

	return nil
}

func (c *EBSCleaner) deleteSnapshots(ctx context.Context, logger log.Interface) error {
	pg := ec2.NewDescribeSnapshotsPaginator(c.api, &ec2.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
	})

	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("describing snapshots: %w", err)
		}

		for _, snapshot := range page.Snapshots {
			id := aws.ToString(snapshot.SnapshotId)

			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete EBS snapshot %s", id)
				continue
			}

			logger.Infof("deleting EBS snapshot %s", id)
			c.env.deleteResource("EBS Snapshots", id, fmt.Sprintf("delete snapshot %s", id), func() error {
				_, err := c.api.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{SnapshotId: aws.String(id)})
				if retry.IsNotFound(err) {
					return nil
				}
				return err
			})
		}
	}

	return nil
}
