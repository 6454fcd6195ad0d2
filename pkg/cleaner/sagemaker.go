package cleaner

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	smtypes "github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/cloudetc/awswipe/pkg/retry"
)

// notebook stop can take minutes; poll at most this many times before
// trying the delete anyway.
const notebookStopIterations = 30

type SageMakerAPI interface {
	ListEndpoints(ctx context.Context, params *sagemaker.ListEndpointsInput,
		optFns ...func(*sagemaker.Options)) (*sagemaker.ListEndpointsOutput, error)
	DeleteEndpoint(ctx context.Context, params *sagemaker.DeleteEndpointInput,
		optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteEndpointOutput, error)
	ListEndpointConfigs(ctx context.Context, params *sagemaker.ListEndpointConfigsInput,
		optFns ...func(*sagemaker.Options)) (*sagemaker.ListEndpointConfigsOutput, error)
	DeleteEndpointConfig(ctx context.Context, params *sagemaker.DeleteEndpointConfigInput,
		optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteEndpointConfigOutput, error)
	ListModels(ctx context.Context, params *sagemaker.ListModelsInput,
		optFns ...func(*sagemaker.Options)) (*sagemaker.ListModelsOutput, error)
	DeleteModel(ctx context.Context, params *sagemaker.DeleteModelInput,
		optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteModelOutput, error)
	ListNotebookInstances(ctx context.Context, params *sagemaker.ListNotebookInstancesInput,
		optFns ...func(*sagemaker.Options)) (*sagemaker.ListNotebookInstancesOutput, error)
	StopNotebookInstance(ctx context.Context, params *sagemaker.StopNotebookInstanceInput,
		optFns ...func(*sagemaker.Options)) (*sagemaker.StopNotebookInstanceOutput, error)
	DescribeNotebookInstance(ctx context.Context, params *sagemaker.DescribeNotebookInstanceInput,
		optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeNotebookInstanceOutput, error)
	DeleteNotebookInstance(ctx context.Context, params *sagemaker.DeleteNotebookInstanceInput,
		optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteNotebookInstanceOutput, error)
	ListDomains(ctx context.Context, params *sagemaker.ListDomainsInput,
		optFns ...func(*sagemaker.Options)) (*sagemaker.ListDomainsOutput, error)
	ListApps(ctx context.Context, params *sagemaker.ListAppsInput,
		optFns ...func(*sagemaker.Options)) (*sagemaker.ListAppsOutput, error)
	DeleteApp(ctx context.Context, params *sagemaker.DeleteAppInput,
		optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteAppOutput, error)
	ListUserProfiles(ctx context.Context, params *sagemaker.ListUserProfilesInput,
		optFns ...func(*sagemaker.Options)) (*sagemaker.ListUserProfilesOutput, error)
	DeleteUserProfile(ctx context.Context, params *sagemaker.DeleteUserProfileInput,
		optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteUserProfileOutput, error)
	DeleteDomain(ctx context.Context, params *sagemaker.DeleteDomainInput,
		optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteDomainOutput, error)
}

// SageMakerCleaner removes endpoints, endpoint configs, models,
// notebook instances (stopped first) and Studio domains with their apps
// and user profiles. Domains go last since apps and profiles live
// inside them.
type SageMakerCleaner struct {
	api SageMakerAPI
	env *Env
}

func NewSageMakerCleaner(api SageMakerAPI, env *Env) *SageMakerCleaner {
	return &SageMakerCleaner{api: api, env: env}
}

func (c *SageMakerCleaner) Category() string { return CategorySageMaker }

func (c *SageMakerCleaner) Prerequisites() []string { return nil }

func (c *SageMakerCleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	phases := []func(context.Context, log.Interface) error{
		c.deleteEndpoints,
		c.deleteEndpointConfigs,
		c.deleteModels,
		c.deleteNotebookInstances,
		c.deleteApps,
		c.deleteUserProfiles,
		c.deleteDomains,
	}

	for _, phase := range phases {
		if err := phase(ctx, logger); err != nil {
			return err
		}
	}

	return nil
}

func (c *SageMakerCleaner) deleteEndpoints(ctx context.Context, logger log.Interface) error {
	out, err := c.api.ListEndpoints(ctx, &sagemaker.ListEndpointsInput{})
	if err != nil {
		return fmt.Errorf("listing SageMaker endpoints: %w", err)
	}

	for _, ep := range out.Endpoints {
		name := aws.ToString(ep.EndpointName)

		if c.env.dryRun() {
			logger.Infof("[dry-run] would delete SageMaker endpoint %s", name)
			continue
		}

		logger.Infof("deleting SageMaker endpoint %s", name)
		c.env.deleteResource("SageMaker Endpoints", name, fmt.Sprintf("delete SageMaker endpoint %s", name), func() error {
			_, err := c.api.DeleteEndpoint(ctx, &sagemaker.DeleteEndpointInput{EndpointName: aws.String(name)})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}

func (c *SageMakerCleaner) deleteEndpointConfigs(ctx context.Context, logger log.Interface) error {
	out, err := c.api.ListEndpointConfigs(ctx, &sagemaker.ListEndpointConfigsInput{})
	if err != nil {
		return fmt.Errorf("listing SageMaker endpoint configs: %w", err)
	}

	for _, cfg := range out.EndpointConfigs {
		name := aws.ToString(cfg.EndpointConfigName)

		if c.env.dryRun() {
			logger.Infof("[dry-run] would delete SageMaker endpoint config %s", name)
			continue
		}

		logger.Infof("deleting SageMaker endpoint config %s", name)
		c.env.deleteResource("SageMaker Endpoint Configs", name, fmt.Sprintf("delete SageMaker endpoint config %s", name), func() error {
			_, err := c.api.DeleteEndpointConfig(ctx, &sagemaker.DeleteEndpointConfigInput{
				EndpointConfigName: aws.String(name),
			})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}

func (c *SageMakerCleaner) deleteModels(ctx context.Context, logger log.Interface) error {
	out, err := c.api.ListModels(ctx, &sagemaker.ListModelsInput{})
	if err != nil {
		return fmt.Errorf("listing SageMaker models: %w", err)
	}

	for _, model := range out.Models {
		name := aws.ToString(model.ModelName)

		if c.env.dryRun() {
			logger.Infof("[dry-run] would delete SageMaker model %s", name)
			continue
		}

		logger.Infof("deleting SageMaker model %s", name)
		c.env.deleteResource("SageMaker Models", name, fmt.Sprintf("delete SageMaker model %s", name), func() error {
			_, err := c.api.DeleteModel(ctx, &sagemaker.DeleteModelInput{ModelName: aws.String(name)})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}

func (c *SageMakerCleaner) deleteNotebookInstances(ctx context.Context, logger log.Interface) error {
	out, err := c.api.ListNotebookInstances(ctx, &sagemaker.ListNotebookInstancesInput{})
	if err != nil {
		return fmt.Errorf("listing SageMaker notebook instances: %w", err)
	}

	for _, nb := range out.NotebookInstances {
		name := aws.ToString(nb.NotebookInstanceName)

		if nb.NotebookInstanceStatus == smtypes.NotebookInstanceStatusDeleting {
			continue
		}

		if c.env.dryRun() {
			logger.Infof("[dry-run] would delete SageMaker notebook %s", name)
			continue
		}

		if nb.NotebookInstanceStatus == smtypes.NotebookInstanceStatusInService {
			logger.Infof("stopping SageMaker notebook %s", name)
			c.env.Retry.DoBool(fmt.Sprintf("stop SageMaker notebook %s", name), func() error {
				_, err := c.api.StopNotebookInstance(ctx, &sagemaker.StopNotebookInstanceInput{
					NotebookInstanceName: aws.String(name),
				})
				return err
			})
			c.waitForNotebookStopped(ctx, logger, name)
		}

		logger.Infof("deleting SageMaker notebook %s", name)
		c.env.deleteResource("SageMaker Notebooks", name, fmt.Sprintf("delete SageMaker notebook %s", name), func() error {
			_, err := c.api.DeleteNotebookInstance(ctx, &sagemaker.DeleteNotebookInstanceInput{
				NotebookInstanceName: aws.String(name),
			})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}

func (c *SageMakerCleaner) waitForNotebookStopped(ctx context.Context, logger log.Interface, name string) {
	for i := 0; i < notebookStopIterations; i++ {
		out, err := c.api.DescribeNotebookInstance(ctx, &sagemaker.DescribeNotebookInstanceInput{
			NotebookInstanceName: aws.String(name),
		})
		if err != nil {
			return
		}
		if out.NotebookInstanceStatus == smtypes.NotebookInstanceStatusStopped {
			return
		}

		c.env.Retry.Wait(retry.ShortDelay)
	}

	logger.Warnf("timed out waiting for notebook %s to stop", name)
}

func (c *SageMakerCleaner) deleteApps(ctx context.Context, logger log.Interface) error {
	domains, err := c.api.ListDomains(ctx, &sagemaker.ListDomainsInput{})
	if err != nil {
		return fmt.Errorf("listing SageMaker domains: %w", err)
	}

	for _, domain := range domains.Domains {
		domainID := aws.ToString(domain.DomainId)

		apps, err := c.api.ListApps(ctx, &sagemaker.ListAppsInput{DomainIdEquals: aws.String(domainID)})
		if err != nil {
			logger.WithError(err).Errorf("could not list apps of SageMaker domain %s", domainID)
			continue
		}

		for _, app := range apps.Apps {
			if app.Status == smtypes.AppStatusDeleted {
				continue
			}

			name := aws.ToString(app.AppName)

			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete SageMaker app %s in domain %s", name, domainID)
				continue
			}

			logger.Infof("deleting SageMaker app %s in domain %s", name, domainID)
			c.env.deleteResource("SageMaker Apps", name, fmt.Sprintf("delete SageMaker app %s", name), func() error {
				_, err := c.api.DeleteApp(ctx, &sagemaker.DeleteAppInput{
					DomainId:        aws.String(domainID),
					UserProfileName: app.UserProfileName,
					AppType:         app.AppType,
					AppName:         aws.String(name),
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

func (c *SageMakerCleaner) deleteUserProfiles(ctx context.Context, logger log.Interface) error {
	domains, err := c.api.ListDomains(ctx, &sagemaker.ListDomainsInput{})
	if err != nil {
		return fmt.Errorf("listing SageMaker domains: %w", err)
	}

	for _, domain := range domains.Domains {
		domainID := aws.ToString(domain.DomainId)

		profiles, err := c.api.ListUserProfiles(ctx, &sagemaker.ListUserProfilesInput{
			DomainIdEquals: aws.String(domainID),
		})
		if err != nil {
			logger.WithError(err).Errorf("could not list user profiles of SageMaker domain %s", domainID)
			continue
		}

		for _, profile := range profiles.UserProfiles {
			name := aws.ToString(profile.UserProfileName)

			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete SageMaker user profile %s", name)
				continue
			}

			logger.Infof("deleting SageMaker user profile %s", name)
			c.env.deleteResource("SageMaker User Profiles", name, fmt.Sprintf("delete SageMaker user profile %s", name), func() error {
				_, err := c.api.DeleteUserProfile(ctx, &sagemaker.DeleteUserProfileInput{
					DomainId:        aws.String(domainID),
					UserProfileName: aws.String(name),
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

func (c *SageMakerCleaner) deleteDomains(ctx context.Context, logger log.Interface) error {
	domains, err := c.api.ListDomains(ctx, &sagemaker.ListDomainsInput{})
	if err != nil {
		return fmt.Errorf("listing SageMaker domains: %w", err)
	}

	for _, domain := range domains.Domains {
		domainID := aws.ToString(domain.DomainId)

		if c.env.dryRun() {
			logger.Infof("[dry-run] would delete SageMaker domain %s", domainID)
			continue
		}

		logger.Infof("deleting SageMaker domain %s", domainID)
		c.env.deleteResource("SageMaker Domains", domainID, fmt.Sprintf("delete SageMaker domain %s", domainID), func() error {
			_, err := c.api.DeleteDomain(ctx, &sagemaker.DeleteDomainInput{
				DomainId: aws.String(domainID),
				RetentionPolicy: &smtypes.RetentionPolicy{
					HomeEfsFileSystem: smtypes.RetentionTypeDelete,
				},
			})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}
