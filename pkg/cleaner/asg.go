package cleaner

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/cloudetc/awswipe/pkg/retry"
)

type AutoScalingAPI interface {
	autoscaling.DescribeAutoScalingGroupsAPIClient
	autoscaling.DescribeLaunchConfigurationsAPIClient
	DeleteAutoScalingGroup(ctx context.Context, params *autoscaling.DeleteAutoScalingGroupInput,
		optFns ...func(*autoscaling.Options)) (*autoscaling.DeleteAutoScalingGroupOutput, error)
	DeleteLaunchConfiguration(ctx context.Context, params *autoscaling.DeleteLaunchConfigurationInput,
		optFns ...func(*autoscaling.Options)) (*autoscaling.DeleteLaunchConfigurationOutput, error)
}

type LaunchTemplatesAPI interface {
	ec2.DescribeLaunchTemplatesAPIClient
	DeleteLaunchTemplate(ctx context.Context, params *ec2.DeleteLaunchTemplateInput,
		optFns ...func(*ec2.Options)) (*ec2.DeleteLaunchTemplateOutput, error)
}

// AutoScalingCleaner force-deletes auto scaling groups, then their
// launch configurations and launch templates.
type AutoScalingCleaner struct {
	api AutoScalingAPI
	ec2 LaunchTemplatesAPI
	env *Env
}

func NewAutoScalingCleaner(api AutoScalingAPI, templates LaunchTemplatesAPI, env *Env) *AutoScalingCleaner {
	return &AutoScalingCleaner{api: api, ec2: templates, env: env}
}

func (c *AutoScalingCleaner) Category() string { return CategoryASG }

func (c *AutoScalingCleaner) Prerequisites() []string { return nil }

func (c *AutoScalingCleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	if err := c.deleteGroups(ctx, logger); err != nil {
		return err
	}
	if err := c.deleteLaunchConfigurations(ctx, logger); err != nil {
		return err
	}

	return c.deleteLaunchTemplates(ctx, logger)
}

func (c *AutoScalingCleaner) deleteGroups(ctx context.Context, logger log.Interface) error {
	pg := autoscaling.NewDescribeAutoScalingGroupsPaginator(c.api, &autoscaling.DescribeAutoScalingGroupsInput{})

	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("describing auto scaling groups: %w", err)
		}

		for _, group := range page.AutoScalingGroups {
			name := aws.ToString(group.AutoScalingGroupName)

			if c.env.Config.ExcludedByName(name) {
				logger.Debugf("skipping auto scaling group %s, excluded by name", name)
				continue
			}

			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete auto scaling group %s", name)
				continue
			}

			logger.Infof("deleting auto scaling group %s", name)
			c.env.deleteResource("Auto Scaling Groups", name, fmt.Sprintf("delete auto scaling group %s", name), func() error {
				_, err := c.api.DeleteAutoScalingGroup(ctx, &autoscaling.DeleteAutoScalingGroupInput{
					AutoScalingGroupName: aws.String(name),
					ForceDelete:          aws.Bool(true),
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

func (c *AutoScalingCleaner) deleteLaunchConfigurations(ctx context.Context, logger log.Interface) error {
	pg := autoscaling.NewDescribeLaunchConfigurationsPaginator(c.api, &autoscaling.DescribeLaunchConfigurationsInput{})

	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("describing launch configurations: %w", err)
		}

		for _, lc := range page.LaunchConfigurations {
			name := aws.ToString(lc.LaunchConfigurationName)

			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete launch configuration %s", name)
				continue
			}

			logger.Infof("deleting launch configuration %s", name)
			c.env.deleteResource("Launch Configurations", name, fmt.Sprintf("delete launch configuration %s", name), func() error {
				_, err := c.api.DeleteLaunchConfiguration(ctx, &autoscaling.DeleteLaunchConfigurationInput{
					LaunchConfigurationName: aws.String(name),
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

func (c *AutoScalingCleaner) deleteLaunchTemplates(ctx context.Context, logger log.Interface) error {
	pg := ec2.NewDescribeLaunchTemplatesPaginator(c.ec2, &ec2.DescribeLaunchTemplatesInput{})

	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("describing launch templates: %w", err)
		}

		for _, lt := range page.LaunchTemplates {
			id := aws.ToString(lt.LaunchTemplateId)
			name := aws.ToString(lt.LaunchTemplateName)

			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete launch template %s", name)
				continue
			}

			logger.Infof("deleting launch template %s", name)
			c.env.deleteResource("Launch Templates", name, fmt.Sprintf("delete launch template %s", name), func() error {
				_, err := c.ec2.DeleteLaunchTemplate(ctx, &ec2.DeleteLaunchTemplateInput{
					LaunchTemplateId: aws.String(id),
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
