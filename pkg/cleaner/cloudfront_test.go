package cleaner

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudetc/awswipe/pkg/config"
)

type fakeCloudFrontAPI struct {
	distributions []cftypes.DistributionSummary
	enabled       map[string]bool

	updatedIDs    []string
	deletedIDs    []string
	deleteETags   []string
	configReads   int
	updatedConfig *cftypes.DistributionConfig
}

func (f *fakeCloudFrontAPI) ListDistributions(ctx context.Context, params *cloudfront.ListDistributionsInput,
	optFns ...func(*cloudfront.Options)) (*cloudfront.ListDistributionsOutput, error) {
	return &cloudfront.ListDistributionsOutput{
		DistributionList: &cftypes.DistributionList{Items: f.distributions},
	}, nil
}

// GetDistributionConfig hands out a new ETag on every read, the way the
// real service does after an update.
func (f *fakeCloudFrontAPI) GetDistributionConfig(ctx context.Context, params *cloudfront.GetDistributionConfigInput,
	optFns ...func(*cloudfront.Options)) (*cloudfront.GetDistributionConfigOutput, error) {
	f.configReads++
	etag := "etag-1"
	if f.configReads > 1 {
		etag = "etag-2"
	}
	return &cloudfront.GetDistributionConfigOutput{
		DistributionConfig: &cftypes.DistributionConfig{
			Enabled: aws.Bool(f.enabled[aws.ToString(params.Id)]),
		},
		ETag: aws.String(etag),
	}, nil
}

func (f *fakeCloudFrontAPI) UpdateDistribution(ctx context.Context, params *cloudfront.UpdateDistributionInput,
	optFns ...func(*cloudfront.Options)) (*cloudfront.UpdateDistributionOutput, error) {
	id := aws.ToString(params.Id)
	f.updatedIDs = append(f.updatedIDs, id)
	f.updatedConfig = params.DistributionConfig
	f.enabled[id] = false
	return &cloudfront.UpdateDistributionOutput{}, nil
}

func (f *fakeCloudFrontAPI) DeleteDistribution(ctx context.Context, params *cloudfront.DeleteDistributionInput,
	optFns ...func(*cloudfront.Options)) (*cloudfront.DeleteDistributionOutput, error) {
	f.deletedIDs = append(f.deletedIDs, aws.ToString(params.Id))
	f.deleteETags = append(f.deleteETags, aws.ToString(params.IfMatch))
	return &cloudfront.DeleteDistributionOutput{}, nil
}

func TestCloudFrontCleaner_DisablesBeforeDeleting(t *testing.T) {
	// given
	cfg := config.Default()
	cfg.DryRun = false
	api := &fakeCloudFrontAPI{
		distributions: []cftypes.DistributionSummary{{Id: aws.String("E123")}},
		enabled:       map[string]bool{"E123": true},
	}
	env := testEnv(cfg)
	c := NewCloudFrontCleaner(api, env)

	// when
	err := c.Cleanup(context.Background(), "global")

	// then
	require.NoError(t, err)
	assert.Equal(t, []string{"E123"}, api.updatedIDs, "an enabled distribution must be disabled first")
	require.NotNil(t, api.updatedConfig)
	assert.False(t, aws.ToBool(api.updatedConfig.Enabled))
	assert.Equal(t, []string{"E123"}, api.deletedIDs)
	assert.Equal(t, []string{"etag-2"}, api.deleteETags, "the delete must carry the post-disable ETag")
	assert.Equal(t, []string{"E123"}, env.Report.Deleted("CloudFront Distributions"))
}

func TestCloudFrontCleaner_DeletesDisabledDistributionDirectly(t *testing.T) {
	// given
	cfg := config.Default()
	cfg.DryRun = false
	api := &fakeCloudFrontAPI{
		distributions: []cftypes.DistributionSummary{{Id: aws.String("E456")}},
		enabled:       map[string]bool{"E456": false},
	}
	c := NewCloudFrontCleaner(api, testEnv(cfg))

	// when
	err := c.Cleanup(context.Background(), "global")

	// then
	require.NoError(t, err)
	assert.Empty(t, api.updatedIDs)
	assert.Equal(t, []string{"E456"}, api.deletedIDs)
	assert.Equal(t, []string{"etag-1"}, api.deleteETags)
}

func TestCloudFrontCleaner_DryRunNeverMutates(t *testing.T) {
	// given
	cfg := config.Default()
	require.True(t, cfg.DryRun, "dry-run is the default")

	api := &fakeCloudFrontAPI{
		distributions: []cftypes.DistributionSummary{{Id: aws.String("E123")}},
		enabled:       map[string]bool{"E123": true},
	}
	env := testEnv(cfg)
	c := NewCloudFrontCleaner(api, env)

	// when
	err := c.Cleanup(context.Background(), "global")

	// then
	require.NoError(t, err)
	assert.Empty(t, api.updatedIDs)
	assert.Empty(t, api.deletedIDs)
	assert.True(t, env.Report.Empty())
}
