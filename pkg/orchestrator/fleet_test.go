package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudetc/awswipe/pkg/cleaner"
	"github.com/cloudetc/awswipe/pkg/config"
	"github.com/cloudetc/awswipe/pkg/report"
)

type callRecorder struct {
	mu    sync.Mutex
	calls []string

	inFlight    int32
	maxInFlight int32
}

func (r *callRecorder) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *callRecorder) enter() {
	n := atomic.AddInt32(&r.inFlight, 1)
	for {
		max := atomic.LoadInt32(&r.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&r.maxInFlight, max, n) {
			return
		}
	}
}

func (r *callRecorder) leave() {
	atomic.AddInt32(&r.inFlight, -1)
}

type fakeCleaner struct {
	category string
	prereqs  []string
	err      error
	recorder *callRecorder
}

func (f *fakeCleaner) Category() string        { return f.category }
func (f *fakeCleaner) Prerequisites() []string { return f.prereqs }

func (f *fakeCleaner) Cleanup(ctx context.Context, region string) error {
	f.recorder.enter()
	defer f.recorder.leave()

	f.recorder.record(region + "/" + f.category)

	return f.err
}

func TestOrder_PrerequisitesComeFirst(t *testing.T) {
	// given
	rec := &callRecorder{}
	cleaners := []cleaner.Cleaner{
		&fakeCleaner{category: "vpc", prereqs: []string{"ec2", "ebs"}, recorder: rec},
		&fakeCleaner{category: "ebs", prereqs: []string{"ec2"}, recorder: rec},
		&fakeCleaner{category: "ec2", recorder: rec},
	}

	// when
	ordered := Order(cleaners)

	// then
	require.Len(t, ordered, 3)
	assert.Equal(t, "ec2", ordered[0].Category())
	assert.Equal(t, "ebs", ordered[1].Category())
	assert.Equal(t, "vpc", ordered[2].Category())
}

func TestOrder_DropsPlaceholderPrerequisites(t *testing.T) {
	// given a prerequisite category that has no cleaner of its own
	rec := &callRecorder{}
	cleaners := []cleaner.Cleaner{
		&fakeCleaner{category: "vpc", prereqs: []string{"elasticache"}, recorder: rec},
	}

	// when
	ordered := Order(cleaners)

	// then
	require.Len(t, ordered, 1)
	assert.Equal(t, "vpc", ordered[0].Category())
}

func TestCleanRegion_FailureDoesNotStopRemainingCleaners(t *testing.T) {
	// given
	rec := &callRecorder{}
	rep := report.NewAggregator(false)
	cleaners := []cleaner.Cleaner{
		&fakeCleaner{category: "ebs", prereqs: []string{"ec2"}, recorder: rec},
		&fakeCleaner{category: "ec2", err: errors.New("access denied"), recorder: rec},
	}

	// when
	cleanRegion(context.Background(), "us-west-2", cleaners, rep)

	// then
	assert.Equal(t, []string{"us-west-2/ec2", "us-west-2/ebs"}, rec.calls)
	assert.Equal(t, []string{"us-west-2 (ec2: access denied)"}, rep.Failed("Regions"))
}

func TestFleet_CleansAllRegionsAndThenGlobal(t *testing.T) {
	g := gomega.NewWithT(t)

	// given
	rec := &callRecorder{}
	rep := report.NewAggregator(false)
	f := &Fleet{
		Report:   rep,
		Parallel: 2,
		Regional: func(region string) []cleaner.Cleaner {
			return []cleaner.Cleaner{&fakeCleaner{category: "ec2", recorder: rec}}
		},
		Global: func() []cleaner.Cleaner {
			return []cleaner.Cleaner{&fakeCleaner{category: "iam", recorder: rec}}
		},
	}

	// when
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Run(context.Background(), []string{"eu-west-1", "us-east-1", "us-west-2"})
	}()

	// then
	g.Eventually(done).Should(gomega.BeClosed())
	g.Expect(rec.calls).To(gomega.HaveLen(4))
	g.Expect(rec.calls).To(gomega.ConsistOf(
		"eu-west-1/ec2", "us-east-1/ec2", "us-west-2/ec2", "global/iam"))
	// global runs only after every region worker settled
	g.Expect(rec.calls[3]).To(gomega.Equal("global/iam"))
	g.Expect(rec.maxInFlight).To(gomega.BeNumerically("<=", 2))
}

func TestFleet_RecordsGlobalFailures(t *testing.T) {
	// given
	rec := &callRecorder{}
	rep := report.NewAggregator(false)
	f := &Fleet{
		Report:   rep,
		Regional: func(region string) []cleaner.Cleaner { return nil },
		Global: func() []cleaner.Cleaner {
			return []cleaner.Cleaner{
				&fakeCleaner{category: "iam", err: errors.New("boom"), recorder: rec},
			}
		},
	}

	// when
	f.Run(context.Background(), nil)

	// then
	assert.Equal(t, []string{"iam (boom)"}, rep.Failed("Global"))
}

type fakeRegionsAPI struct {
	regions []string
	err     error
}

func (f *fakeRegionsAPI) DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput,
	optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}

	out := &ec2.DescribeRegionsOutput{}
	for _, r := range f.regions {
		out.Regions = append(out.Regions, ec2types.Region{RegionName: aws.String(r)})
	}

	return out, nil
}

func TestResolveRegions(t *testing.T) {
	tests := []struct {
		name       string
		configured []string
		enabled    []string
		expected   []string
	}{
		{
			name:       "explicit regions, sorted",
			configured: []string{"us-west-2", "eu-west-1"},
			enabled:    []string{"us-east-1", "us-west-2", "eu-west-1"},
			expected:   []string{"eu-west-1", "us-west-2"},
		},
		{
			name:       "all expands to enabled regions, sorted",
			configured: []string{"all"},
			enabled:    []string{"us-east-1", "ap-southeast-2", "eu-west-1"},
			expected:   []string{"ap-southeast-2", "eu-west-1", "us-east-1"},
		},
		{
			name:       "regions the account never enabled are skipped",
			configured: []string{"us-west-2", "ap-east-1", "us-best-1"},
			enabled:    []string{"us-east-1", "us-west-2"},
			expected:   []string{"us-west-2"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// given
			cfg := config.Default()
			cfg.Regions = tc.configured
			api := &fakeRegionsAPI{regions: tc.enabled}

			// when
			regions, err := ResolveRegions(context.Background(), api, cfg)

			// then
			require.NoError(t, err)
			assert.Equal(t, tc.expected, regions)
		})
	}
}

func TestResolveRegions_PropagatesAPIError(t *testing.T) {
	// given
	cfg := config.Default()
	api := &fakeRegionsAPI{err: errors.New("expired credentials")}

	// when
	_, err := ResolveRegions(context.Background(), api, cfg)

	// then
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired credentials")
}
