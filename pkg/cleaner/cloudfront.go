package cleaner

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/cloudetc/awswipe/pkg/retry"
)

type CloudFrontAPI interface {
	ListDistributions(ctx context.Context, params *cloudfront.ListDistributionsInput,
		optFns ...func(*cloudfront.Options)) (*cloudfront.ListDistributionsOutput, error)
	GetDistributionConfig(ctx context.Context, params *cloudfront.GetDistributionConfigInput,
		optFns ...func(*cloudfront.Options)) (*cloudfront.GetDistributionConfigOutput, error)
	UpdateDistribution(ctx context.Context, params *cloudfront.UpdateDistributionInput,
		optFns ...func(*cloudfront.Options)) (*cloudfront.UpdateDistributionOutput, error)
	DeleteDistribution(ctx context.Context, params *cloudfront.DeleteDistributionInput,
		optFns ...func(*cloudfront.Options)) (*cloudfront.DeleteDistributionOutput, error)
}

// CloudFrontCleaner disables distributions before deleting them; an
// enabled distribution refuses deletion. The delete needs a fresh ETag
// since disabling changes it.
type CloudFrontCleaner struct {
	api CloudFrontAPI
	env *Env
}

func NewCloudFrontCleaner(api CloudFrontAPI, env *Env) *CloudFrontCleaner {
	return &CloudFrontCleaner{api: api, env: env}
}

func (c *CloudFrontCleaner) Category() string { return CategoryCloudFront }

func (c *CloudFrontCleaner) Prerequisites() []string { return nil }

func (c *CloudFrontCleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	out, err := c.api.ListDistributions(ctx, &cloudfront.ListDistributionsInput{})
	if err != nil {
		return fmt.Errorf("listing CloudFront distributions: %w", err)
	}
	if out.DistributionList == nil {
		return nil
	}

	for _, dist := range out.DistributionList.Items {
		id := aws.ToString(dist.Id)

		if c.env.dryRun() {
			logger.Infof("[dry-run] would disable and delete CloudFront distribution %s", id)
			continue
		}

		cfg, err := c.api.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{Id: aws.String(id)})
		if err != nil {
			logger.WithError(err).Errorf("could not read config of distribution %s", id)
			c.env.Report.Record("CloudFront Distributions", id, false, err.Error())
			continue
		}

		if aws.ToBool(cfg.DistributionConfig.Enabled) {
			logger.Infof("disabling CloudFront distribution %s", id)
			cfg.DistributionConfig.Enabled = aws.Bool(false)
			c.env.Retry.DoBool(fmt.Sprintf("disable CloudFront distribution %s", id), func() error {
				_, err := c.api.UpdateDistribution(ctx, &cloudfront.UpdateDistributionInput{
					Id:                 aws.String(id),
					IfMatch:            cfg.ETag,
					DistributionConfig: cfg.DistributionConfig,
				})
				return err
			})

			// disabling deploys asynchronously; the delete below still
			// needs the distribution to reach Deployed
			c.env.Retry.Wait(retry.LongDelay)

			cfg, err = c.api.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{Id: aws.String(id)})
			if err != nil {
				logger.WithError(err).Errorf("could not re-read config of distribution %s", id)
				c.env.Report.Record("CloudFront Distributions", id, false, err.Error())
				continue
			}
		}

		logger.Infof("deleting CloudFront distribution %s", id)
		etag := cfg.ETag
		c.env.deleteResource("CloudFront Distributions", id, fmt.Sprintf("delete CloudFront distribution %s", id), func() error {
			_, err := c.api.DeleteDistribution(ctx, &cloudfront.DeleteDistributionInput{
				Id:      aws.String(id),
				IfMatch: etag,
			})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}
