package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/cloudetc/awswipe/internal"
	"github.com/cloudetc/awswipe/pkg/cleaner"
	"github.com/cloudetc/awswipe/pkg/config"
	"github.com/cloudetc/awswipe/pkg/orchestrator"
	"github.com/cloudetc/awswipe/pkg/report"
	"github.com/cloudetc/awswipe/pkg/retry"
)

func main() {
	os.Exit(mainExitCode())
}

func mainExitCode() int {
	var force bool
	var jsonLogs bool
	var liveRun bool
	var parallel int
	var profile string
	var regions []string
	var verbosity int
	var version bool

	flags := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)

	flags.Usage = func() {
		printHelp(flags)
	}

	flags.StringSliceVar(&regions, "region", nil, "Regions to clean up (overrides the config; \"all\" for every enabled region)")
	flags.BoolVar(&liveRun, "live-run", false, "Actually delete resources instead of showing what would be deleted")
	flags.BoolVar(&force, "force", false, "Delete without asking for confirmation")
	flags.StringVar(&profile, "profile", "", "The AWS named profile to use as credential")
	flags.IntVar(&parallel, "parallel", orchestrator.DefaultParallel, "Limit the number of regions cleaned concurrently")
	flags.BoolVar(&jsonLogs, "json-logs", false, "Emit logs as JSON")
	flags.CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v for info, -vv for debug)")
	flags.BoolVar(&version, "version", false, "Show application version")

	err := flags.Parse(os.Args[1:])
	if err != nil {
		// Parse already printed an error and the help message
		log.WithError(err).Debug("failed to parse command line arguments")
		return 1
	}

	args := flags.Args()

	fmt.Println()
	defer fmt.Println()

	if version {
		fmt.Println(internal.BuildVersionString())
		return 0
	}

	pathToConfig := ""
	if len(args) > 0 {
		pathToConfig = args[0]
	}

	cfg, err := config.Load(pathToConfig)
	if err != nil {
		fmt.Fprint(os.Stderr, color.RedString("Error: failed to load config: %s\n", err))
		return 1
	}

	applyFlagOverrides(cfg, regions, liveRun, verbosity, jsonLogs)

	if err := cfg.Validate(); err != nil {
		fmt.Fprint(os.Stderr, color.RedString("Error: invalid config: %s\n", err))
		return 1
	}

	if force && cfg.DryRun {
		fmt.Fprint(os.Stderr, color.RedString("Error: --force requires --live-run\n"))
		printHelp(flags)

		return 1
	}

	internal.SetupLogging(cfg.Verbosity, cfg.JSONLogs)

	ctx := context.Background()

	baseCfg, err := cleaner.LoadBaseConfig(ctx, profile)
	if err != nil {
		fmt.Fprint(os.Stderr, color.RedString("Error: failed to load AWS configuration: %s\n", err))
		return 1
	}
	if baseCfg.Region == "" {
		baseCfg.Region = "us-east-1"
	}

	baseClients := cleaner.NewClients(baseCfg, baseCfg.Region)

	accountID, err := cleaner.AccountID(ctx, baseClients.STSconn)
	if err != nil {
		fmt.Fprint(os.Stderr, color.RedString("Error: no usable AWS credentials: %s\n", err))
		return 1
	}

	resolvedRegions, err := orchestrator.ResolveRegions(ctx, baseClients.EC2conn, cfg)
	if err != nil {
		fmt.Fprint(os.Stderr, color.RedString("Error: failed to resolve regions: %s\n", err))
		return 1
	}

	if cfg.DryRun {
		internal.LogTitle(fmt.Sprintf("dry run: showing what would be deleted in account %s", accountID))
	} else {
		internal.LogTitle(fmt.Sprintf("about to delete resources in account %s, regions: %s",
			accountID, strings.Join(resolvedRegions, ", ")))

		if !internal.UserConfirmedDeletion(os.Stdin, force) {
			return 0
		}

		internal.LogTitle("starting to delete resources")
	}

	rep := report.NewAggregator(cfg.DryRun)
	policy := retry.DefaultPolicy()

	fleet := &orchestrator.Fleet{
		Report:   rep,
		Parallel: parallel,
		Regional: func(region string) []cleaner.Cleaner {
			return cleaner.Regional(&cleaner.Env{
				Clients: cleaner.NewClients(baseCfg, region),
				Config:  cfg,
				Report:  rep,
				Retry:   policy,
			})
		},
		Global: func() []cleaner.Cleaner {
			return cleaner.Global(&cleaner.Env{
				Clients: baseClients,
				Config:  cfg,
				Report:  rep,
				Retry:   policy,
			})
		},
	}

	fleet.Run(ctx, resolvedRegions)

	rep.Print(os.Stdout)

	return 0
}

// applyFlagOverrides lets command line flags win over the config file.
func applyFlagOverrides(cfg *config.Config, regions []string, liveRun bool, verbosity int, jsonLogs bool) {
	if len(regions) > 0 {
		cfg.Regions = regions
	}
	if liveRun {
		cfg.DryRun = false
	}
	if verbosity > 0 {
		// -vvv and beyond still means debug
		if verbosity > config.MaxVerbosity {
			verbosity = config.MaxVerbosity
		}
		cfg.Verbosity = verbosity
	}
	if jsonLogs {
		cfg.JSONLogs = true
	}
}

func printHelp(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "\n"+strings.TrimSpace(help)+"\n")
	fs.PrintDefaults()
	fmt.Println()
}

const help = `
Delete all resources of an AWS account, honoring the dependencies
between them. Dry-run is the default; nothing is deleted unless
--live-run is given.

USAGE:
  $ awswipe [flags] [config.yml]

FLAGS:
`
