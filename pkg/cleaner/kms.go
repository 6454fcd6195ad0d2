package cleaner

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

type KMSAPI interface {
	kms.ListKeysAPIClient
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput,
		optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
	DisableKey(ctx context.Context, params *kms.DisableKeyInput,
		optFns ...func(*kms.Options)) (*kms.DisableKeyOutput, error)
	ScheduleKeyDeletion(ctx context.Context, params *kms.ScheduleKeyDeletionInput,
		optFns ...func(*kms.Options)) (*kms.ScheduleKeyDeletionOutput, error)
}

// KMSCleaner disables customer-managed keys and schedules them for
// deletion with the minimum pending window. KMS keys cannot be deleted
// immediately; scheduling is the terminal mutating call here.
type KMSCleaner struct {
	api KMSAPI
	env *Env
}

func NewKMSCleaner(api KMSAPI, env *Env) *KMSCleaner {
	return &KMSCleaner{api: api, env: env}
}

func (c *KMSCleaner) Category() string { return CategoryKMS }

func (c *KMSCleaner) Prerequisites() []string { return nil }

func (c *KMSCleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	pg := kms.NewListKeysPaginator(c.api, &kms.ListKeysInput{})

	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing keys: %w", err)
		}

		for _, key := range page.Keys {
			keyID := aws.ToString(key.KeyId)

			info, err := c.api.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(keyID)})
			if err != nil {
				logger.WithError(err).Errorf("failed to describe key %s", keyID)
				c.env.Report.Record("KMS Keys", keyID, false, err.Error())
				continue
			}

			meta := info.KeyMetadata
			if meta == nil || meta.KeyManager == kmstypes.KeyManagerTypeAws || meta.DeletionDate != nil {
				continue
			}
			if meta.KeyState == kmstypes.KeyStatePendingDeletion || meta.KeyState == kmstypes.KeyStatePendingReplicaDeletion {
				continue
			}

			if c.env.dryRun() {
				logger.Infof("[dry-run] would disable and schedule deletion of key %s", keyID)
				continue
			}

			logger.Infof("disabling key %s", keyID)
			c.env.Retry.DoBool(fmt.Sprintf("disable key %s", keyID), func() error {
				_, err := c.api.DisableKey(ctx, &kms.DisableKeyInput{KeyId: aws.String(keyID)})
				return err
			})

			logger.Infof("scheduling deletion of key %s", keyID)
			c.env.deleteResource("KMS Keys", keyID, fmt.Sprintf("schedule deletion of key %s", keyID), func() error {
				_, err := c.api.ScheduleKeyDeletion(ctx, &kms.ScheduleKeyDeletionInput{
					KeyId:               aws.String(keyID),
					PendingWindowInDays: aws.Int32(7),
				})
				return err
			})
		}
	}

	return nil
}
