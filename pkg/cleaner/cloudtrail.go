package cleaner

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/cloudetc/awswipe/pkg/retry"
)

type CloudTrailAPI interface {
	DescribeTrails(ctx context.Context, params *cloudtrail.DescribeTrailsInput,
		optFns ...func(*cloudtrail.Options)) (*cloudtrail.DescribeTrailsOutput, error)
	DeleteTrail(ctx context.Context, params *cloudtrail.DeleteTrailInput,
		optFns ...func(*cloudtrail.Options)) (*cloudtrail.DeleteTrailOutput, error)
}

type CloudTrailCleaner struct {
	api CloudTrailAPI
	env *Env
}

func NewCloudTrailCleaner(api CloudTrailAPI, env *Env) *CloudTrailCleaner {
	return &CloudTrailCleaner{api: api, env: env}
}

func (c *CloudTrailCleaner) Category() string { return CategoryCloudTrail }

func (c *CloudTrailCleaner) Prerequisites() []string { return nil }

func (c *CloudTrailCleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	out, err := c.api.DescribeTrails(ctx, &cloudtrail.DescribeTrailsInput{})
	if err != nil {
		return fmt.Errorf("describing trails: %w", err)
	}

	for _, trail := range out.TrailList {
		name := aws.ToString(trail.Name)

		// multi-region trails show up everywhere; delete them only in
		// their home region
		if aws.ToString(trail.HomeRegion) != region {
			logger.Debugf("skipping trail %s homed in %s", name, aws.ToString(trail.HomeRegion))
			continue
		}

		if c.env.dryRun() {
			logger.Infof("[dry-run] would delete trail %s", name)
			continue
		}

		logger.Infof("deleting trail %s", name)
		c.env.deleteResource("CloudTrail Trails", name, fmt.Sprintf("delete trail %s", name), func() error {
			_, err := c.api.DeleteTrail(ctx, &cloudtrail.DeleteTrailInput{Name: aws.String(name)})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}
