package cleaner

import (
	"context"
	"fmt"
	"strings"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/cloudetc/awswipe/pkg/retry"
)

type Route53API interface {
	route53.ListHostedZonesAPIClient
	ListResourceRecordSets(ctx context.Context, params *route53.ListResourceRecordSetsInput,
		optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error)
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput,
		optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
	DeleteHostedZone(ctx context.Context, params *route53.DeleteHostedZoneInput,
		optFns ...func(*route53.Options)) (*route53.DeleteHostedZoneOutput, error)
}

// Route53Cleaner deletes hosted zones. A zone only deletes once every
// record set besides its NS and SOA records is gone, so those are
// removed first.
type Route53Cleaner struct {
	api Route53API
	env *Env
}

func NewRoute53Cleaner(api Route53API, env *Env) *Route53Cleaner {
	return &Route53Cleaner{api: api, env: env}
}

func (c *Route53Cleaner) Category() string { return CategoryRoute53 }

func (c *Route53Cleaner) Prerequisites() []string { return nil }

func (c *Route53Cleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	paginator := route53.NewListHostedZonesPaginator(c.api, &route53.ListHostedZonesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing hosted zones: %w", err)
		}

		for _, zone := range page.HostedZones {
			id := strings.TrimPrefix(aws.ToString(zone.Id), "/hostedzone/")
			name := aws.ToString(zone.Name)

			if c.env.Config.ExcludedByName(name) {
				logger.Debugf("skipping hosted zone %s, excluded by name pattern", name)
				continue
			}

			if c.env.dryRun() {
				logger.Infof("[dry-run] would delete hosted zone %s (%s)", name, id)
				continue
			}

			if err := c.deleteRecordSets(ctx, logger, id); err != nil {
				logger.WithError(err).Errorf("could not clear record sets of zone %s", name)
				c.env.Report.Record("Route53 Hosted Zones", name, false, err.Error())
				continue
			}

			logger.Infof("deleting hosted zone %s (%s)", name, id)
			c.env.deleteResource("Route53 Hosted Zones", name, fmt.Sprintf("delete hosted zone %s", id), func() error {
				_, err := c.api.DeleteHostedZone(ctx, &route53.DeleteHostedZoneInput{Id: aws.String(id)})
				if retry.IsNotFound(err) {
					return nil
				}
				return err
			})
		}
	}

	return nil
}

func (c *Route53Cleaner) deleteRecordSets(ctx context.Context, logger log.Interface, zoneID string) error {
	input := &route53.ListResourceRecordSetsInput{HostedZoneId: aws.String(zoneID)}

	for {
		out, err := c.api.ListResourceRecordSets(ctx, input)
		if err != nil {
			if retry.IsNotFound(err) {
				return nil
			}
			return fmt.Errorf("listing record sets: %w", err)
		}

		for _, record := range out.ResourceRecordSets {
			// NS and SOA records of the zone itself cannot be deleted
			if record.Type == r53types.RRTypeNs || record.Type == r53types.RRTypeSoa {
				continue
			}

			record := record
			name := aws.ToString(record.Name)
			logger.Debugf("deleting record set %s (%s) of zone %s", name, record.Type, zoneID)

			err := c.env.Retry.Do(fmt.Sprintf("delete record set %s", name), func() error {
				_, err := c.api.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
					HostedZoneId: aws.String(zoneID),
					ChangeBatch: &r53types.ChangeBatch{
						Changes: []r53types.Change{
							{Action: r53types.ChangeActionDelete, ResourceRecordSet: &record},
						},
					},
				})
				if retry.IsNotFound(err) {
					return nil
				}
				return err
			})
			if err != nil {
				return err
			}
		}

		// NextRecordName is only set when the listing is truncated
		if out.NextRecordName == nil {
			return nil
		}
		input.StartRecordName = out.NextRecordName
		input.StartRecordType = out.NextRecordType
		input.StartRecordIdentifier = out.NextRecordIdentifier
	}
}
