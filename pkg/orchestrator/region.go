// Package orchestrator drives the cleanup across regions: it arranges
// cleaners along their dependency graph, fans regions out over a
// bounded worker pool, and runs the account-wide cleaners once.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/apex/log"

	"github.com/cloudetc/awswipe/pkg/cleaner"
	"github.com/cloudetc/awswipe/pkg/dependency"
	"github.com/cloudetc/awswipe/pkg/report"
)

// Order arranges cleaners so every prerequisite category runs before
// its dependents. Categories that appear only as prerequisites and have
// no cleaner of their own (e.g. elasticache) are dropped from the
// result; they exist purely to shape the graph.
func Order(cleaners []cleaner.Cleaner) []cleaner.Cleaner {
	graph := dependency.NewGraph()
	byCategory := make(map[string]cleaner.Cleaner, len(cleaners))

	for _, c := range cleaners {
		graph.AddNode(c.Category(), c.Prerequisites())
		byCategory[c.Category()] = c
	}

	ordered := make([]cleaner.Cleaner, 0, len(cleaners))
	for _, category := range graph.ExecutionOrder() {
		if c, ok := byCategory[category]; ok {
			ordered = append(ordered, c)
		}
	}

	return ordered
}

// cleanRegion runs the region's cleaners sequentially in dependency
// order. A failing cleaner is recorded and does not stop the ones after
// it; categories are independent enough that partial progress is worth
// more than aborting the region.
func cleanRegion(ctx context.Context, region string, cleaners []cleaner.Cleaner, rep *report.Aggregator) {
	logger := log.WithField("region", region)
	logger.Info("starting region cleanup")

	for _, c := range Order(cleaners) {
		if err := c.Cleanup(ctx, region); err != nil {
			logger.WithError(err).Errorf("cleanup of %s failed", c.Category())
			rep.Record("Regions", region, false, fmt.Sprintf("%s: %s", c.Category(), err))
		}
	}

	logger.Info("region cleanup finished")
}
