package cleaner

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/cloudetc/awswipe/pkg/retry"
)

type RDSAPI interface {
	rds.DescribeDBInstancesAPIClient
	ModifyDBInstance(ctx context.Context, params *rds.ModifyDBInstanceInput,
		optFns ...func(*rds.Options)) (*rds.ModifyDBInstanceOutput, error)
	DeleteDBInstance(ctx context.Context, params *rds.DeleteDBInstanceInput,
		optFns ...func(*rds.Options)) (*rds.DeleteDBInstanceOutput, error)
}

// RDSCleaner deletes database instances, disabling deletion protection
// first and skipping final snapshots.
type RDSCleaner struct {
	api RDSAPI
	env *Env
}

func NewRDSCleaner(api RDSAPI, env *Env) *RDSCleaner {
	return &RDSCleaner{api: api, env: env}
}

func (c *RDSCleaner) Category() string { return CategoryRDS }

func (c *RDSCleaner) Prerequisites() []string { return nil }

func (c *RDSCleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	pg := rds.NewDescribeDBInstancesPaginator(c.api, &rds.DescribeDBInstancesInput{})

	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("describing database instances: %w", err)
		}

		for _, db := range page.DBInstances {
			id := aws.ToString(db.DBInstanceIdentifier)

			if c.env.Config.ExcludedByName(id) {
				logger.Debugf("skipping database instance %s, excluded by name", id)
				continue
			}

			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete database instance %s", id)
				continue
			}

			if aws.ToBool(db.DeletionProtection) {
				logger.Infof("disabling deletion protection for database instance %s", id)
				c.env.Retry.DoBool(fmt.Sprintf("disable deletion protection for %s", id), func() error {
					_, err := c.api.ModifyDBInstance(ctx, &rds.ModifyDBInstanceInput{
						DBInstanceIdentifier: aws.String(id),
						DeletionProtection:   aws.Bool(false),
						ApplyImmediately:     aws.Bool(true),
					})
					return err
				})
			}

			logger.Infof("deleting database instance %s", id)
			c.env.deleteResource("RDS Instances", id, fmt.Sprintf("delete database instance %s", id), func() error {
				_, err := c.api.DeleteDBInstance(ctx, &rds.DeleteDBInstanceInput{
					DBInstanceIdentifier:   aws.String(id),
					SkipFinalSnapshot:      aws.Bool(true),
					DeleteAutomatedBackups: aws.Bool(true),
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
