package cleaner

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/cloudetc/awswipe/pkg/retry"
)

type LogsAPI interface {
	cloudwatchlogs.DescribeLogGroupsAPIClient
	DeleteLogGroup(ctx context.Context, params *cloudwatchlogs.DeleteLogGroupInput,
		optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DeleteLogGroupOutput, error)
}

type LogGroupCleaner struct {
	api LogsAPI
	env *Env
}

func NewLogGroupCleaner(api LogsAPI, env *Env) *LogGroupCleaner {
	return &LogGroupCleaner{api: api, env: env}
}

func (c *LogGroupCleaner) Category() string { return CategoryLogs }

func (c *LogGroupCleaner) Prerequisites() []string { return nil }

func (c *LogGroupCleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	pg := cloudwatchlogs.NewDescribeLogGroupsPaginator(c.api, &cloudwatchlogs.DescribeLogGroupsInput{})

	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("describing log groups: %w", err)
		}

		for _, group := range page.LogGroups {
			name := aws.ToString(group.LogGroupName)

			if c.env.Config.ExcludedByName(name) {
				logger.Debugf("skipping log group %s, excluded by name", name)
				continue
			}

			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete log group %s", name)
				continue
			}

			logger.Infof("deleting log group %s", name)
			c.env.deleteResource("CloudWatch Log Groups", name, fmt.Sprintf("delete log group %s", name), func() error {
				_, err := c.api.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{
					LogGroupName: aws.String(name),
				})
				if retry.IsNotFound(err) {
					return nil
				}
				return err
			})
		}
	}

	return nil
}
