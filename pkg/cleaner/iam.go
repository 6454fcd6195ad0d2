package cleaner

import (
	"context"
	"fmt"
	"strings"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/cloudetc/awswipe/pkg/retry"
)

type IAMAPI interface {
	iam.ListRolesAPIClient
	ListAttachedRolePolicies(ctx context.Context, params *iam.ListAttachedRolePoliciesInput,
		optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	DetachRolePolicy(ctx context.Context, params *iam.DetachRolePolicyInput,
		optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	ListRolePolicies(ctx context.Context, params *iam.ListRolePoliciesInput,
		optFns ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error)
	DeleteRolePolicy(ctx context.Context, params *iam.DeleteRolePolicyInput,
		optFns ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error)
	ListInstanceProfilesForRole(ctx context.Context, params *iam.ListInstanceProfilesForRoleInput,
		optFns ...func(*iam.Options)) (*iam.ListInstanceProfilesForRoleOutput, error)
	RemoveRoleFromInstanceProfile(ctx context.Context, params *iam.RemoveRoleFromInstanceProfileInput,
		optFns ...func(*iam.Options)) (*iam.RemoveRoleFromInstanceProfileOutput, error)
	DeleteInstanceProfile(ctx context.Context, params *iam.DeleteInstanceProfileInput,
		optFns ...func(*iam.Options)) (*iam.DeleteInstanceProfileOutput, error)
	DeleteRole(ctx context.Context, params *iam.DeleteRoleInput,
		optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
	DeleteServiceLinkedRole(ctx context.Context, params *iam.DeleteServiceLinkedRoleInput,
		optFns ...func(*iam.Options)) (*iam.DeleteServiceLinkedRoleOutput, error)
}

// IAMCleaner deletes customer-managed roles along with their attached
// policies and instance profiles. Service-linked roles are handled in a
// separate best-effort pass since many of them refuse deletion while
// their owning service still has resources.
type IAMCleaner struct {
	api IAMAPI
	env *Env
}

func NewIAMCleaner(api IAMAPI, env *Env) *IAMCleaner {
	return &IAMCleaner{api: api, env: env}
}

func (c *IAMCleaner) Category() string { return CategoryIAM }

func (c *IAMCleaner) Prerequisites() []string { return nil }

func (c *IAMCleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	serviceLinked := make([]string, 0)

	paginator := iam.NewListRolesPaginator(c.api, &iam.ListRolesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing IAM roles: %w", err)
		}

		for _, role := range page.Roles {
			name := aws.ToString(role.RoleName)

			if strings.HasPrefix(name, "AWSServiceRoleFor") {
				serviceLinked = append(serviceLinked, name)
				continue
			}

			if c.env.Config.ExcludedByName(name) {
				logger.Debugf("skipping IAM role %s, excluded by name pattern", name)
				continue
			}

			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete IAM role %s", name)
				continue
			}

			c.deleteRole(ctx, logger, name)
		}
	}

	for _, name := range serviceLinked {
		if c.env.dryRun() {
			logger.Infof("[dry-run] would delete service-linked role %s", name)
			continue
		}

		logger.Infof("deleting service-linked role %s", name)
		c.env.Retry.DoBool(fmt.Sprintf("delete service-linked role %s", name), func() error {
			_, err := c.api.DeleteServiceLinkedRole(ctx, &iam.DeleteServiceLinkedRoleInput{
				RoleName: aws.String(name),
			})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}

func (c *IAMCleaner) deleteRole(ctx context.Context, logger log.Interface, name string) {
	attached, err := c.api.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(name),
	})
	if err != nil {
		logger.WithError(err).Warnf("could not list attached policies of role %s", name)
	} else {
		for _, policy := range attached.AttachedPolicies {
			arn := aws.ToString(policy.PolicyArn)
			c.env.Retry.DoBool(fmt.Sprintf("detach policy %s from %s", arn, name), func() error {
				_, err := c.api.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
					RoleName:  aws.String(name),
					PolicyArn: aws.String(arn),
				})
				if retry.IsNotFound(err) {
					return nil
				}
				return err
			})
		}
	}

	inline, err := c.api.ListRolePolicies(ctx, &iam.ListRolePoliciesInput{RoleName: aws.String(name)})
	if err != nil {
		logger.WithError(err).Warnf("could not list inline policies of role %s", name)
	} else {
		for _, policyName := range inline.PolicyNames {
			policyName := policyName
			c.env.Retry.DoBool(fmt.Sprintf("delete inline policy %s of %s", policyName, name), func() error {
				_, err := c.api.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
					RoleName:   aws.String(name),
					PolicyName: aws.String(policyName),
				})
				if retry.IsNotFound(err) {
					return nil
				}
				return err
			})
		}
	}

	profiles, err := c.api.ListInstanceProfilesForRole(ctx, &iam.ListInstanceProfilesForRoleInput{
		RoleName: aws.String(name),
	})
	if err != nil {
		logger.WithError(err).Warnf("could not list instance profiles of role %s", name)
	} else {
		for _, profile := range profiles.InstanceProfiles {
			profileName := aws.ToString(profile.InstanceProfileName)
			c.env.Retry.DoBool(fmt.Sprintf("remove role %s from instance profile %s", name, profileName), func() error {
				_, err := c.api.RemoveRoleFromInstanceProfile(ctx, &iam.RemoveRoleFromInstanceProfileInput{
					InstanceProfileName: aws.String(profileName),
					RoleName:            aws.String(name),
				})
				if retry.IsNotFound(err) {
					return nil
				}
				return err
			})
			c.env.Retry.DoBool(fmt.Sprintf("delete instance profile %s", profileName), func() error {
				_, err := c.api.DeleteInstanceProfile(ctx, &iam.DeleteInstanceProfileInput{
					InstanceProfileName: aws.String(profileName),
				})
				if retry.IsNotFound(err) {
					return nil
				}
				return err
			})
		}
	}

	logger.Infof("deleting IAM role %s", name)
	c.env.deleteResource("IAM Roles", name, fmt.Sprintf("delete IAM role %s", name), func() error {
		_, err := c.api.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(name)})
		if retry.IsNotFound(err) {
			return nil
		}
		return err
	})
}
