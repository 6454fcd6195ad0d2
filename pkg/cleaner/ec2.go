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

// InstancesAPI is the slice of the EC2 API used to terminate instances.
type InstancesAPI interface {
	ec2.DescribeInstancesAPIClient
	DescribeInstanceAttribute(ctx context.Context, params *ec2.DescribeInstanceAttributeInput,
		optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceAttributeOutput, error)
	ModifyInstanceAttribute(ctx context.Context, params *ec2.ModifyInstanceAttributeInput,
		optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput,
		optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// InstanceCleaner terminates EC2 instances. It runs before everything
// that compute may still be attached to (EBS, ELB, VPC).
type InstanceCleaner struct {
	api InstancesAPI
	env *Env
}

func NewInstanceCleaner(api InstancesAPI, env *Env) *InstanceCleaner {
	return &InstanceCleaner{api: api, env: env}
}

func (c *InstanceCleaner) Category() string { return CategoryEC2 }

func (c *InstanceCleaner) Prerequisites() []string { return nil }

func (c *InstanceCleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	pg := ec2.NewDescribeInstancesPaginator(c.api, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{
				Name:   aws.String("instance-state-name"),
				Values: []string{"pending", "running", "stopping", "stopped"},
			},
		},
	})

	var instances []ec2types.Instance
	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("describing instances: %w", err)
		}
		for _, reservation := range page.Reservations {
			instances = append(instances, reservation.Instances...)
		}
	}

	for _, instance := range instances {
		id := aws.ToString(instance.InstanceId)
		tags := ec2TagMap(instance.Tags)

		if c.env.Config.ExcludedByName(tags["Name"]) || !c.env.Config.MatchesTagFilters(tags) {
			logger.Debugf("skipping instance %s, excluded by filters", id)
			continue
		}

		if c.env.dryRun() {
			logger.Infof("[dry-run] would terminate EC2 instance %s", id)
			continue
		}

		c.disableTerminationProtection(ctx, logger, id)

		logger.Infof("terminating EC2 instance %s", id)
		c.env.deleteResource("EC2 Instances", id, fmt.Sprintf("terminate instance %s", id), func() error {
			_, err := c.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
				InstanceIds: []string{id},
			})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}

func (c *InstanceCleaner) disableTerminationProtection(ctx context.Context, logger log.Interface, id string) {
	attr, err := c.api.DescribeInstanceAttribute(ctx, &ec2.DescribeInstanceAttributeInput{
		Attribute:  ec2types.InstanceAttributeNameDisableApiTermination,
		InstanceId: aws.String(id),
	})
	if err != nil {
		logger.WithError(err).Warnf("failed to check termination protection for %s", id)
		return
	}

	if attr.DisableApiTermination == nil || !aws.ToBool(attr.DisableApiTermination.Value) {
		return
	}

	logger.Infof("disabling termination protection for %s", id)
	c.env.Retry.DoBool(fmt.Sprintf("disable termination protection for %s", id), func() error {
		_, err := c.api.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
			InstanceId:            aws.String(id),
			DisableApiTermination: &ec2types.AttributeBooleanValue{Value: aws.Bool(false)},
		})
		return err
	})
}

func ec2TagMap(tags []ec2types.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return m
}
