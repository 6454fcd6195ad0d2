// Package report collects per-resource cleanup outcomes across all
// regions and prints the final summary.
package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

type failure struct {
	id      string
	message string
}

type typeResult struct {
	deleted []string
	failed  []failure
}

// Aggregator is the only state mutated concurrently during a run; every
// append is serialized under its mutex. Under dry-run, Record is a
// structural no-op so no cleaner can pollute the report.
type Aggregator struct {
	mu      sync.Mutex
	dryRun  bool
	order   []string
	results map[string]*typeResult
}

func NewAggregator(dryRun bool) *Aggregator {
	return &Aggregator{
		dryRun:  dryRun,
		results: map[string]*typeResult{},
	}
}

// Record appends one outcome for a resource that was actually acted on.
func (a *Aggregator) Record(resourceType, resourceID string, success bool, message string) {
	if a.dryRun {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.results[resourceType]
	if !ok {
		r = &typeResult{}
		a.results[resourceType] = r
		a.order = append(a.order, resourceType)
	}

	if success {
		r.deleted = append(r.deleted, resourceID)
	} else {
		r.failed = append(r.failed, failure{id: resourceID, message: message})
	}
}

// Empty reports whether nothing has been recorded.
func (a *Aggregator) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.order) == 0
}

// Deleted returns the IDs successfully deleted for a resource type, in
// append order.
func (a *Aggregator) Deleted(resourceType string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.results[resourceType]
	if !ok {
		return nil
	}

	return append([]string(nil), r.deleted...)
}

// Failed returns "id (message)" entries for a resource type, in append
// order.
func (a *Aggregator) Failed(resourceType string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.results[resourceType]
	if !ok {
		return nil
	}

	out := make([]string, 0, len(r.failed))
	for _, f := range r.failed {
		out = append(out, formatFailure(f))
	}

	return out
}

// Print writes the summary grouped by resource type, types ordered by
// first occurrence. Called exactly once, after every task has settled.
func (a *Aggregator) Print(w io.Writer) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fmt.Fprintf(w, "\n%s\n", color.New(color.Bold).Sprint("=== Cleanup Report ==="))

	if len(a.order) == 0 {
		fmt.Fprintln(w, "Nothing was deleted.")
		return
	}

	for _, resourceType := range a.order {
		r := a.results[resourceType]

		fmt.Fprintf(w, "\nResource: %s\n", resourceType)

		fmt.Fprintln(w, "  Deleted:")
		if len(r.deleted) == 0 {
			fmt.Fprintln(w, "    None")
		}
		for _, id := range r.deleted {
			fmt.Fprintf(w, "    - %s\n", id)
		}

		fmt.Fprintln(w, "  Failed:")
		if len(r.failed) == 0 {
			fmt.Fprintln(w, "    None")
		}
		for _, f := range r.failed {
			fmt.Fprintf(w, "    - %s\n", formatFailure(f))
		}
	}
}

func formatFailure(f failure) string {
	if f.message == "" {
		return f.id
	}
	return fmt.Sprintf("%s (%s)", f.id, f.message)
}
