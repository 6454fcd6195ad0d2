package cleaner

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/cloudetc/awswipe/pkg/retry"
)

// nodegroup deletion can take many minutes; poll at most this many
// times before moving on with a warning.
const nodegroupWaitIterations = 30

type EKSAPI interface {
	eks.ListClustersAPIClient
	eks.ListNodegroupsAPIClient
	DescribeNodegroup(ctx context.Context, params *eks.DescribeNodegroupInput,
		optFns ...func(*eks.Options)) (*eks.DescribeNodegroupOutput, error)
	DeleteNodegroup(ctx context.Context, params *eks.DeleteNodegroupInput,
		optFns ...func(*eks.Options)) (*eks.DeleteNodegroupOutput, error)
	DeleteCluster(ctx context.Context, params *eks.DeleteClusterInput,
		optFns ...func(*eks.Options)) (*eks.DeleteClusterOutput, error)
}

// EKSCleaner deletes node groups before their clusters, waiting with a
// bounded poll for each node group to go away. Exceeding the window is
// a warning, not an error: deletion continues in the background.
type EKSCleaner struct {
	api EKSAPI
	env *Env
}

func NewEKSCleaner(api EKSAPI, env *Env) *EKSCleaner {
	return &EKSCleaner{api: api, env: env}
}

func (c *EKSCleaner) Category() string { return CategoryEKS }

func (c *EKSCleaner) Prerequisites() []string { return nil }

func (c *EKSCleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	pg := eks.NewListClustersPaginator(c.api, &eks.ListClustersInput{})

	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing EKS clusters: %w", err)
		}

		for _, cluster := range page.Clusters {
			if c.env.Config.ExcludedByName(cluster) {
				logger.Debugf("skipping EKS cluster %s, excluded by name", cluster)
				continue
			}

			if err := c.deleteNodegroups(ctx, logger, cluster); err != nil {
				logger.WithError(err).Errorf("failed to clean node groups of cluster %s", cluster)
				continue
			}

			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete EKS cluster %s", cluster)
				continue
			}

			logger.Infof("deleting EKS cluster %s", cluster)
			c.env.deleteResource("EKS Clusters", cluster, fmt.Sprintf("delete EKS cluster %s", cluster), func() error {
				_, err := c.api.DeleteCluster(ctx, &eks.DeleteClusterInput{Name: aws.String(cluster)})
				if retry.IsNotFound(err) {
					return nil
				}
				return err
			})
		}
	}

	return nil
}

func (c *EKSCleaner) deleteNodegroups(ctx context.Context, logger log.Interface, cluster string) error {
	pg := eks.NewListNodegroupsPaginator(c.api, &eks.ListNodegroupsInput{
		ClusterName: aws.String(cluster),
	})

	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing node groups: %w", err)
		}

		for _, nodegroup := range page.Nodegroups {
			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete node group %s in cluster %s", nodegroup, cluster)
				continue
			}

			logger.Infof("deleting node group %s in cluster %s", nodegroup, cluster)
			ok := c.env.deleteResource("EKS Node Groups", nodegroup,
				fmt.Sprintf("delete node group %s", nodegroup), func() error {
					_, err := c.api.DeleteNodegroup(ctx, &eks.DeleteNodegroupInput{
						ClusterName:   aws.String(cluster),
						NodegroupName: aws.String(nodegroup),
					})
					if retry.IsNotFound(err) {
						return nil
					}
					return err
				})

			if ok {
				c.waitForNodegroupDeletion(ctx, logger, cluster, nodegroup)
			}
		}
	}

	return nil
}

func (c *EKSCleaner) waitForNodegroupDeletion(ctx context.Context, logger log.Interface, cluster, nodegroup string) {
	for i := 0; i < nodegroupWaitIterations; i++ {
		out, err := c.api.DescribeNodegroup(ctx, &eks.DescribeNodegroupInput{
			ClusterName:   aws.String(cluster),
			NodegroupName: aws.String(nodegroup),
		})
		if err != nil {
			if !retry.IsNotFound(err) {
				logger.WithError(err).Warnf("failed to check node group %s", nodegroup)
			}
			return
		}

		if out.Nodegroup == nil || out.Nodegroup.Status != ekstypes.NodegroupStatusDeleting {
			return
		}

		c.env.Retry.Wait(retry.LongDelay)
	}

	logger.Warnf("timed out waiting for node group %s to delete; deletion continues in the background", nodegroup)
}
