// Package cleaner implements per-category deletion logic. Each cleaner
// lists and deletes one category of resources in one region, declares
// the categories that must be cleaned before it, and tolerates
// already-gone resources as success.
package cleaner

import (
	"context"

	"github.com/apex/log"
	"github.com/cloudetc/awswipe/pkg/config"
	"github.com/cloudetc/awswipe/pkg/report"
	"github.com/cloudetc/awswipe/pkg/retry"
)

// Resource category names. These are the node names of the dependency
// graph; prerequisites reference them.
const (
	CategoryEC2        = "ec2"
	CategoryASG        = "asg"
	CategoryEBS        = "ebs"
	CategoryELB        = "elb"
	CategoryLambda     = "lambda"
	CategoryEKS        = "eks"
	CategoryRDS        = "rds"
	CategoryEFS        = "efs"
	CategoryECS        = "ecs"
	CategoryKMS        = "kms"
	CategoryLogs       = "logs"
	CategoryCloudTrail = "cloudtrail"
	CategorySageMaker  = "sagemaker"
	CategoryVPC        = "vpc"

	CategoryIAM        = "iam"
	CategoryS3         = "s3"
	CategoryRoute53    = "route53"
	CategoryCloudFront = "cloudfront"

	// CategoryElastiCache has no cleaner of its own; it exists purely
	// as a prerequisite placeholder for VPC.
	CategoryElastiCache = "elasticache"
)

// Cleaner deletes all resources of one category in one region. Cleanup
// performs list-then-delete cycles and records exactly one outcome per
// resource acted on. Under dry-run it still lists, but must not issue
// any mutating call.
type Cleaner interface {
	Category() string
	Prerequisites() []string
	Cleanup(ctx context.Context, region string) error
}

// Env bundles the collaborators handed to every cleaner at
// construction: region-scoped service clients, the read-only config,
// the report aggregator (already bound to dry-run suppression) and the
// shared retry policy.
type Env struct {
	Clients *Clients
	Config  *config.Config
	Report  *report.Aggregator
	Retry   *retry.Policy
}

// dryRun is a convenience shorthand used throughout the cleaners.
func (e *Env) dryRun() bool {
	return e.Config.DryRun
}

// deleteResource runs one mutating delete under the retry policy and
// records the outcome. Callers must have handled dry-run already; this
// is never reached on a dry run.
func (e *Env) deleteResource(resourceType, resourceID, description string, op func() error) bool {
	err := e.Retry.Do(description, op)
	if err != nil {
		log.WithError(err).Errorf("%s failed", description)
		e.Report.Record(resourceType, resourceID, false, err.Error())

		return false
	}

	e.Report.Record(resourceType, resourceID, true, "")

	return true
}

// Regional returns the per-region cleaners enabled by the config, in
// registration order. The dependency graph decides execution order.
func Regional(env *Env) []Cleaner {
	c := env.Clients
	all := []Cleaner{
		NewInstanceCleaner(c.EC2conn, env),
		NewAutoScalingCleaner(c.ASconn, c.EC2conn, env),
		NewEBSCleaner(c.EC2conn, env),
		NewELBCleaner(c.ELBv2conn, c.ELBconn, env),
		NewLambdaCleaner(c.Lambdaconn, env),
		NewEKSCleaner(c.EKSconn, env),
		NewRDSCleaner(c.RDSconn, env),
		NewEFSCleaner(c.EFSconn, env),
		NewECSCleaner(c.ECSconn, env),
		NewKMSCleaner(c.KMSconn, env),
		NewLogGroupCleaner(c.CWLconn, env),
		NewCloudTrailCleaner(c.CTconn, env),
		NewSageMakerCleaner(c.SMconn, env),
		NewVPCCleaner(c.EC2conn, env),
	}

	return enabled(env.Config, all)
}

// Global returns the account-wide cleaners enabled by the config. They
// run once, outside any region loop.
func Global(env *Env) []Cleaner {
	c := env.Clients
	all := []Cleaner{
		NewIAMCleaner(c.IAMconn, env),
		NewS3Cleaner(c.S3conn, env),
		NewRoute53Cleaner(c.Route53conn, env),
		NewCloudFrontCleaner(c.CFconn, env),
	}

	return enabled(env.Config, all)
}

func enabled(cfg *config.Config, cleaners []Cleaner) []Cleaner {
	var out []Cleaner
	for _, c := range cleaners {
		if cfg.IncludesResource(c.Category()) {
			out = append(out, c)
		}
	}
	return out
}
