package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"golang.org/x/sync/errgroup"

	"github.com/cloudetc/awswipe/pkg/cleaner"
	"github.com/cloudetc/awswipe/pkg/config"
	"github.com/cloudetc/awswipe/pkg/report"
)

// DefaultParallel caps how many regions are cleaned at once.
const DefaultParallel = 8

// RegionsAPI is the slice of the EC2 API used to enumerate enabled
// regions.
type RegionsAPI interface {
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput,
		optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
}

// ResolveRegions turns the configured region list into concrete region
// names. "all" expands to every region enabled for the account; an
// explicit list is intersected with the enabled regions, so a typo or
// an opt-in region the account never enabled is silently skipped
// rather than failing every API call later.
func ResolveRegions(ctx context.Context, api RegionsAPI, cfg *config.Config) ([]string, error) {
	out, err := api.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, fmt.Errorf("describing regions: %w", err)
	}

	regions := make([]string, 0, len(out.Regions))
	for _, r := range out.Regions {
		name := aws.ToString(r.RegionName)
		if cfg.IncludesRegion(name) {
			regions = append(regions, name)
		}
	}
	sort.Strings(regions)

	return regions, nil
}

// Fleet runs the whole cleanup. Regional cleaners are constructed per
// region through the Regional factory since service clients are bound
// to one region; global cleaners run once against the account.
type Fleet struct {
	Report   *report.Aggregator
	Parallel int

	Regional func(region string) []cleaner.Cleaner
	Global   func() []cleaner.Cleaner
}

// Run cleans all regions concurrently, bounded by Parallel, then runs
// the account-wide cleaners. It returns once every worker has settled;
// per-region failures land in the report, not in an error.
func (f *Fleet) Run(ctx context.Context, regions []string) {
	parallel := f.Parallel
	if parallel <= 0 {
		parallel = DefaultParallel
	}
	if parallel > len(regions) && len(regions) > 0 {
		parallel = len(regions)
	}

	log.WithFields(log.Fields{
		"regions":  len(regions),
		"parallel": parallel,
	}).Info("starting cleanup")

	var group errgroup.Group
	group.SetLimit(parallel)

	for _, region := range regions {
		region := region
		group.Go(func() error {
			cleanRegion(ctx, region, f.Regional(region), f.Report)
			return nil
		})
	}

	// workers never return errors; failures are recorded in the report
	_ = group.Wait()

	f.runGlobal(ctx)
}

// runGlobal runs the account-wide cleaners after all regions settled,
// so that e.g. instance profiles released by terminated instances no
// longer block IAM role deletion.
func (f *Fleet) runGlobal(ctx context.Context) {
	var group errgroup.Group
	group.SetLimit(DefaultParallel)

	// global categories have no edges between them, so they may run
	// concurrently
	for _, c := range f.Global() {
		c := c
		group.Go(func() error {
			if err := c.Cleanup(ctx, "global"); err != nil {
				log.WithError(err).Errorf("global cleanup of %s failed", c.Category())
				f.Report.Record("Global", c.Category(), false, err.Error())
			}
			return nil
		})
	}

	_ = group.Wait()
}
