package cleaner

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/efs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Clients bundles the AWS service clients for one region. The SDK's
// own retryer is left at its defaults; throttling retries for mutating
// calls are handled by the retry package so attempts stay observable.
type Clients struct {
	ASconn      *autoscaling.Client
	CFconn      *cloudfront.Client
	CTconn      *cloudtrail.Client
	CWLconn     *cloudwatchlogs.Client
	EC2conn     *ec2.Client
	ECSconn     *ecs.Client
	EFSconn     *efs.Client
	EKSconn     *eks.Client
	ELBconn     *elasticloadbalancing.Client
	ELBv2conn   *elasticloadbalancingv2.Client
	IAMconn     *iam.Client
	KMSconn     *kms.Client
	Lambdaconn  *lambda.Client
	RDSconn     *rds.Client
	Route53conn *route53.Client
	S3conn      *s3.Client
	SMconn      *sagemaker.Client
	STSconn     *sts.Client
}

// NewClients builds the client bundle for one region from the shared
// base configuration.
func NewClients(cfg aws.Config, region string) *Clients {
	cfg.Region = region

	return &Clients{
		ASconn:      autoscaling.NewFromConfig(cfg),
		CFconn:      cloudfront.NewFromConfig(cfg),
		CTconn:      cloudtrail.NewFromConfig(cfg),
		CWLconn:     cloudwatchlogs.NewFromConfig(cfg),
		EC2conn:     ec2.NewFromConfig(cfg),
		ECSconn:     ecs.NewFromConfig(cfg),
		EFSconn:     efs.NewFromConfig(cfg),
		EKSconn:     eks.NewFromConfig(cfg),
		ELBconn:     elasticloadbalancing.NewFromConfig(cfg),
		ELBv2conn:   elasticloadbalancingv2.NewFromConfig(cfg),
		IAMconn:     iam.NewFromConfig(cfg),
		KMSconn:     kms.NewFromConfig(cfg),
		Lambdaconn:  lambda.NewFromConfig(cfg),
		RDSconn:     rds.NewFromConfig(cfg),
		Route53conn: route53.NewFromConfig(cfg),
		S3conn:      s3.NewFromConfig(cfg),
		SMconn:      sagemaker.NewFromConfig(cfg),
		STSconn:     sts.NewFromConfig(cfg),
	}
}

// LoadBaseConfig resolves credentials and the default region from the
// environment and shared config files.
func LoadBaseConfig(ctx context.Context, profile string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// AccountID returns the account the credentials belong to. A failure
// here means there are no usable credentials, which is fatal before any
// region processing starts.
func AccountID(ctx context.Context, stsConn *sts.Client) (string, error) {
	out, err := stsConn.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", err
	}

	return aws.ToString(out.Account), nil
}
