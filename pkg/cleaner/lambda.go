package cleaner

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/cloudetc/awswipe/pkg/retry"
)

type LambdaAPI interface {
	lambda.ListFunctionsAPIClient
	DeleteFunction(ctx context.Context, params *lambda.DeleteFunctionInput,
		optFns ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error)
}

type LambdaCleaner struct {
	api LambdaAPI
	env *Env
}

func NewLambdaCleaner(api LambdaAPI, env *Env) *LambdaCleaner {
	return &LambdaCleaner{api: api, env: env}
}

func (c *LambdaCleaner) Category() string { return CategoryLambda }

func (c *LambdaCleaner) Prerequisites() []string { return nil }

func (c *LambdaCleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	pg := lambda.NewListFunctionsPaginator(c.api, &lambda.ListFunctionsInput{})

	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing functions: %w", err)
		}

		for _, fn := range page.Functions {
			name := aws.ToString(fn.FunctionName)

			if c.env.Config.ExcludedByName(name) {
				logger.Debugf("skipping function %s, excluded by name", name)
				continue
			}

			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete Lambda function %s", name)
				continue
			}

			logger.Infof("deleting Lambda function %s", name)
			c.env.deleteResource("Lambda Functions", name, fmt.Sprintf("delete function %s", name), func() error {
				_, err := c.api.DeleteFunction(ctx, &lambda.DeleteFunctionInput{
					FunctionName: aws.String(name),
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
