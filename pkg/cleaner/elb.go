package cleaner

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	elb "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/cloudetc/awswipe/pkg/retry"
)

type ELBv2API interface {
	elbv2.DescribeLoadBalancersAPIClient
	elbv2.DescribeTargetGroupsAPIClient
	DescribeLoadBalancerAttributes(ctx context.Context, params *elbv2.DescribeLoadBalancerAttributesInput,
		optFns ...func(*elbv2.Options)) (*elbv2.DescribeLoadBalancerAttributesOutput, error)
	ModifyLoadBalancerAttributes(ctx context.Context, params *elbv2.ModifyLoadBalancerAttributesInput,
		optFns ...func(*elbv2.Options)) (*elbv2.ModifyLoadBalancerAttributesOutput, error)
	DeleteLoadBalancer(ctx context.Context, params *elbv2.DeleteLoadBalancerInput,
		optFns ...func(*elbv2.Options)) (*elbv2.DeleteLoadBalancerOutput, error)
	DeleteTargetGroup(ctx context.Context, params *elbv2.DeleteTargetGroupInput,
		optFns ...func(*elbv2.Options)) (*elbv2.DeleteTargetGroupOutput, error)
}

type ELBClassicAPI interface {
	DescribeLoadBalancers(ctx context.Context, params *elb.DescribeLoadBalancersInput,
		optFns ...func(*elb.Options)) (*elb.DescribeLoadBalancersOutput, error)
	DeleteLoadBalancer(ctx context.Context, params *elb.DeleteLoadBalancerInput,
		optFns ...func(*elb.Options)) (*elb.DeleteLoadBalancerOutput, error)
}

// ELBCleaner removes v2 load balancers, then their target groups, then
// classic load balancers. The phase order is the cleaner's own
// responsibility; the orchestrator only guarantees category order.
type ELBCleaner struct {
	v2      ELBv2API
	classic ELBClassicAPI
	env     *Env
}

func NewELBCleaner(v2 ELBv2API, classic ELBClassicAPI, env *Env) *ELBCleaner {
	return &ELBCleaner{v2: v2, classic: classic, env: env}
}

func (c *ELBCleaner) Category() string { return CategoryELB }

func (c *ELBCleaner) Prerequisites() []string { return []string{CategoryEC2} }

func (c *ELBCleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	if err := c.deleteLoadBalancersV2(ctx, logger); err != nil {
		return err
	}
	if err := c.deleteTargetGroups(ctx, logger); err != nil {
		return err
	}

	return c.deleteClassicLoadBalancers(ctx, logger)
}

func (c *ELBCleaner) deleteLoadBalancersV2(ctx context.Context, logger log.Interface) error {
	pg := elbv2.NewDescribeLoadBalancersPaginator(c.v2, &elbv2.DescribeLoadBalancersInput{})

	deletedAny := false

	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("describing load balancers: %w", err)
		}

		for _, lb := range page.LoadBalancers {
			arn := aws.ToString(lb.LoadBalancerArn)
			name := aws.ToString(lb.LoadBalancerName)

			if c.env.Config.ExcludedByName(name) {
				logger.Debugf("skipping load balancer %s, excluded by name", name)
				continue
			}

			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete load balancer %s", name)
				continue
			}

			c.disableDeletionProtection(ctx, logger, arn, name)

			logger.Infof("deleting load balancer %s", name)
			ok := c.env.deleteResource("Load Balancers", name, fmt.Sprintf("delete load balancer %s", name), func() error {
				_, err := c.v2.DeleteLoadBalancer(ctx, &elbv2.DeleteLoadBalancerInput{
					LoadBalancerArn: aws.String(arn),
				})
				if retry.IsNotFound(err) {
					return nil
				}
				return err
			})
			deletedAny = deletedAny || ok
		}
	}

	// let deletions propagate before target groups are removed
	if deletedAny {
		c.env.Retry.Wait(retry.ShortDelay)
	}

	return nil
}

func (c *ELBCleaner) disableDeletionProtection(ctx context.Context, logger log.Interface, arn, name string) {
	attrs, err := c.v2.DescribeLoadBalancerAttributes(ctx, &elbv2.DescribeLoadBalancerAttributesInput{
		LoadBalancerArn: aws.String(arn),
	})
	if err != nil {
		logger.WithError(err).Warnf("failed to read attributes of load balancer %s", name)
		return
	}

	for _, attr := range attrs.Attributes {
		if aws.ToString(attr.Key) != "deletion_protection.enabled" || aws.ToString(attr.Value) != "true" {
			continue
		}

		logger.Infof("disabling deletion protection for load balancer %s", name)
		c.env.Retry.DoBool(fmt.Sprintf("disable deletion protection for %s", name), func() error {
			_, err := c.v2.ModifyLoadBalancerAttributes(ctx, &elbv2.ModifyLoadBalancerAttributesInput{
				LoadBalancerArn: aws.String(arn),
				Attributes: []elbv2types.LoadBalancerAttribute{
					{Key: aws.String("deletion_protection.enabled"), Value: aws.String("false")},
				},
			})
			return err
		})
	}
}

func (c *ELBCleaner) deleteTargetGroups(ctx context.Context, logger log.Interface) error {
	pg := elbv2.NewDescribeTargetGroupsPaginator(c.v2, &elbv2.DescribeTargetGroupsInput{})

	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("describing target groups: %w", err)
		}

		for _, tg := range page.TargetGroups {
			arn := aws.ToString(tg.TargetGroupArn)
			name := aws.ToString(tg.TargetGroupName)

			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete target group %s", name)
				continue
			}

			logger.Infof("deleting target group %s", name)
			c.env.deleteResource("Target Groups", name, fmt.Sprintf("delete target group %s", name), func() error {
				_, err := c.v2.DeleteTargetGroup(ctx, &elbv2.DeleteTargetGroupInput{
					TargetGroupArn: aws.String(arn),
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

func (c *ELBCleaner) deleteClassicLoadBalancers(ctx context.Context, logger log.Interface) error {
	out, err := c.classic.DescribeLoadBalancers(ctx, &elb.DescribeLoadBalancersInput{})
	if err != nil {
		return fmt.Errorf("describing classic load balancers: %w", err)
	}

	for _, lb := range out.LoadBalancerDescriptions {
		name := aws.ToString(lb.LoadBalancerName)

		if c.env.dryRun() {
			logger.Infof("[dry-run] would delete classic load balancer %s", name)
			continue
		}

		logger.Infof("deleting classic load balancer %s", name)
		c.env.deleteResource("Classic Load Balancers", name, fmt.Sprintf("delete classic load balancer %s", name), func() error {
			_, err := c.classic.DeleteLoadBalancer(ctx, &elb.DeleteLoadBalancerInput{
				LoadBalancerName: aws.String(name),
			})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}
