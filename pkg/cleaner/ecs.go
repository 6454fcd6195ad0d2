package cleaner

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/cloudetc/awswipe/pkg/retry"
)

type ECSAPI interface {
	ecs.ListClustersAPIClient
	ecs.ListServicesAPIClient
	DeleteService(ctx context.Context, params *ecs.DeleteServiceInput,
		optFns ...func(*ecs.Options)) (*ecs.DeleteServiceOutput, error)
	DeleteCluster(ctx context.Context, params *ecs.DeleteClusterInput,
		optFns ...func(*ecs.Options)) (*ecs.DeleteClusterOutput, error)
}

// ECSCleaner force-deletes a cluster's services before the cluster.
type ECSCleaner struct {
	api ECSAPI
	env *Env
}

func NewECSCleaner(api ECSAPI, env *Env) *ECSCleaner {
	return &ECSCleaner{api: api, env: env}
}

func (c *ECSCleaner) Category() string { return CategoryECS }

func (c *ECSCleaner) Prerequisites() []string { return nil }

func (c *ECSCleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	pg := ecs.NewListClustersPaginator(c.api, &ecs.ListClustersInput{})

	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing ECS clusters: %w", err)
		}

		for _, clusterArn := range page.ClusterArns {
			if err := c.deleteServices(ctx, logger, clusterArn); err != nil {
				logger.WithError(err).Errorf("failed to clean services of cluster %s", clusterArn)
				continue
			}

			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete ECS cluster %s", clusterArn)
				continue
			}

			logger.Infof("deleting ECS cluster %s", clusterArn)
			c.env.deleteResource("ECS Clusters", clusterArn, fmt.Sprintf("delete ECS cluster %s", clusterArn), func() error {
				_, err := c.api.DeleteCluster(ctx, &ecs.DeleteClusterInput{Cluster: aws.String(clusterArn)})
				if retry.IsNotFound(err) {
					return nil
				}
				return err
			})
		}
	}

	return nil
}

func (c *ECSCleaner) deleteServices(ctx context.Context, logger log.Interface, clusterArn string) error {
	pg := ecs.NewListServicesPaginator(c.api, &ecs.ListServicesInput{
		Cluster: aws.String(clusterArn),
	})

	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing services: %w", err)
		}

		for _, serviceArn := range page.ServiceArns {
			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete ECS service %s", serviceArn)
				continue
			}

			logger.Infof("deleting ECS service %s", serviceArn)
			c.env.deleteResource("ECS Services", serviceArn, fmt.Sprintf("delete ECS service %s", serviceArn), func() error {
				_, err := c.api.DeleteService(ctx, &ecs.DeleteServiceInput{
					Cluster: aws.String(clusterArn),
					Service: aws.String(serviceArn),
					Force:   aws.Bool(true),
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
