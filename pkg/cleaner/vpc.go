package cleaner

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/cloudetc/awswipe/pkg/retry"
)

type VPCAPI interface {
	DescribeNatGateways(ctx context.Context, params *ec2.DescribeNatGatewaysInput,
		optFns ...func(*ec2.Options)) (*ec2.DescribeNatGatewaysOutput, error)
	DeleteNatGateway(ctx context.Context, params *ec2.DeleteNatGatewayInput,
		optFns ...func(*ec2.Options)) (*ec2.DeleteNatGatewayOutput, error)
	DescribeInternetGateways(ctx context.Context, params *ec2.DescribeInternetGatewaysInput,
		optFns ...func(*ec2.Options)) (*ec2.DescribeInternetGatewaysOutput, error)
	DetachInternetGateway(ctx context.Context, params *ec2.DetachInternetGatewayInput,
		optFns ...func(*ec2.Options)) (*ec2.DetachInternetGatewayOutput, error)
	DeleteInternetGateway(ctx context.Context, params *ec2.DeleteInternetGatewayInput,
		optFns ...func(*ec2.Options)) (*ec2.DeleteInternetGatewayOutput, error)
	DescribeVpcEndpoints(ctx context.Context, params *ec2.DescribeVpcEndpointsInput,
		optFns ...func(*ec2.Options)) (*ec2.DescribeVpcEndpointsOutput, error)
	DeleteVpcEndpoints(ctx context.Context, params *ec2.DeleteVpcEndpointsInput,
		optFns ...func(*ec2.Options)) (*ec2.DeleteVpcEndpointsOutput, error)
	DescribeVpcPeeringConnections(ctx context.Context, params *ec2.DescribeVpcPeeringConnectionsInput,
		optFns ...func(*ec2.Options)) (*ec2.DescribeVpcPeeringConnectionsOutput, error)
	DeleteVpcPeeringConnection(ctx context.Context, params *ec2.DeleteVpcPeeringConnectionInput,
		optFns ...func(*ec2.Options)) (*ec2.DeleteVpcPeeringConnectionOutput, error)
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput,
		optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	DeleteSubnet(ctx context.Context, params *ec2.DeleteSubnetInput,
		optFns ...func(*ec2.Options)) (*ec2.DeleteSubnetOutput, error)
	DescribeRouteTables(ctx context.Context, params *ec2.DescribeRouteTablesInput,
		optFns ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error)
	DisassociateRouteTable(ctx context.Context, params *ec2.DisassociateRouteTableInput,
		optFns ...func(*ec2.Options)) (*ec2.DisassociateRouteTableOutput, error)
	DeleteRouteTable(ctx context.Context, params *ec2.DeleteRouteTableInput,
		optFns ...func(*ec2.Options)) (*ec2.DeleteRouteTableOutput, error)
	DescribeNetworkAcls(ctx context.Context, params *ec2.DescribeNetworkAclsInput,
		optFns ...func(*ec2.Options)) (*ec2.DescribeNetworkAclsOutput, error)
	DeleteNetworkAcl(ctx context.Context, params *ec2.DeleteNetworkAclInput,
		optFns ...func(*ec2.Options)) (*ec2.DeleteNetworkAclOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput,
		optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	RevokeSecurityGroupIngress(ctx context.Context, params *ec2.RevokeSecurityGroupIngressInput,
		optFns ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupIngressOutput, error)
	RevokeSecurityGroupEgress(ctx context.Context, params *ec2.RevokeSecurityGroupEgressInput,
		optFns ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupEgressOutput, error)
	DeleteSecurityGroup(ctx context.Context, params *ec2.DeleteSecurityGroupInput,
		optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error)
	DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput,
		optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	DeleteVpc(ctx context.Context, params *ec2.DeleteVpcInput,
		optFns ...func(*ec2.Options)) (*ec2.DeleteVpcOutput, error)
}

// VPCCleaner tears down the networking layer. It must run last in a
// region: everything that still holds a network interface blocks it, so
// its prerequisites cover all compute and storage categories.
// elasticache is a placeholder prerequisite without a cleaner.
type VPCCleaner struct {
	api VPCAPI
	env *Env
}

func NewVPCCleaner(api VPCAPI, env *Env) *VPCCleaner {
	return &VPCCleaner{api: api, env: env}
}

func (c *VPCCleaner) Category() string { return CategoryVPC }

func (c *VPCCleaner) Prerequisites() []string {
	return []string{
		CategoryEC2, CategoryEBS, CategoryELB, CategoryLambda,
		CategoryASG, CategoryRDS, CategoryEFS, CategoryElastiCache,
	}
}

func (c *VPCCleaner) Cleanup(ctx context.Context, region string) error {
	logger := log.WithField("region", region)

	phases := []func(context.Context, log.Interface) error{
		c.deleteNatGateways,
		c.deleteInternetGateways,
		c.deleteVpcEndpoints,
		c.deletePeeringConnections,
		c.deleteSubnets,
		c.deleteRouteTables,
		c.deleteNetworkAcls,
		c.deleteSecurityGroups,
		c.deleteVpcs,
	}

	for _, phase := range phases {
		if err := phase(ctx, logger); err != nil {
			return err
		}
	}

	return nil
}

func (c *VPCCleaner) deleteNatGateways(ctx context.Context, logger log.Interface) error {
	out, err := c.api.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{
		Filter: []ec2types.Filter{
			{Name: aws.String("state"), Values: []string{"available", "failed"}},
		},
	})
	if err != nil {
		return fmt.Errorf("describing NAT gateways: %w", err)
	}

	for _, nat := range out.NatGateways {
		id := aws.ToString(nat.NatGatewayId)

		if c.env.dryRun() {
			logger.Infof("[dry-run] would delete NAT gateway %s", id)
			continue
		}

		logger.Infof("deleting NAT gateway %s", id)
		c.env.deleteResource("NAT Gateways", id, fmt.Sprintf("delete NAT gateway %s", id), func() error {
			_, err := c.api.DeleteNatGateway(ctx, &ec2.DeleteNatGatewayInput{NatGatewayId: aws.String(id)})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	// NAT gateway deletion is asynchronous; give it a moment before
	// tearing down what it is attached to
	if len(out.NatGateways) > 0 && !c.env.dryRun() {
		logger.Info("waiting for NAT gateways to release their addresses")
		c.env.Retry.Wait(retry.ShortDelay * 2)
	}

	return nil
}

func (c *VPCCleaner) deleteInternetGateways(ctx context.Context, logger log.Interface) error {
	out, err := c.api.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{})
	if err != nil {
		return fmt.Errorf("describing internet gateways: %w", err)
	}

	for _, igw := range out.InternetGateways {
		id := aws.ToString(igw.InternetGatewayId)

		if c.env.dryRun() {
			logger.Infof("[dry-run] would detach and delete internet gateway %s", id)
			continue
		}

		for _, attachment := range igw.Attachments {
			vpcID := aws.ToString(attachment.VpcId)

			logger.Infof("detaching internet gateway %s from %s", id, vpcID)
			c.env.Retry.DoBool(fmt.Sprintf("detach internet gateway %s", id), func() error {
				_, err := c.api.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
					InternetGatewayId: aws.String(id),
					VpcId:             aws.String(vpcID),
				})
				if retry.IsNotFound(err) {
					return nil
				}
				return err
			})
		}

		logger.Infof("deleting internet gateway %s", id)
		c.env.deleteResource("Internet Gateways", id, fmt.Sprintf("delete internet gateway %s", id), func() error {
			_, err := c.api.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{
				InternetGatewayId: aws.String(id),
			})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}

func (c *VPCCleaner) deleteVpcEndpoints(ctx context.Context, logger log.Interface) error {
	out, err := c.api.DescribeVpcEndpoints(ctx, &ec2.DescribeVpcEndpointsInput{})
	if err != nil {
		return fmt.Errorf("describing VPC endpoints: %w", err)
	}

	if len(out.VpcEndpoints) == 0 {
		return nil
	}

	ids := make([]string, 0, len(out.VpcEndpoints))
	for _, endpoint := range out.VpcEndpoints {
		ids = append(ids, aws.ToString(endpoint.VpcEndpointId))
	}

	if c.env.dryRun() {
		logger.Infof("[dry-run] would delete VPC endpoints %v", ids)
		return nil
	}

	logger.Infof("deleting VPC endpoints %v", ids)
	err = c.env.Retry.Do(fmt.Sprintf("delete VPC endpoints %v", ids), func() error {
		_, err := c.api.DeleteVpcEndpoints(ctx, &ec2.DeleteVpcEndpointsInput{VpcEndpointIds: ids})
		if retry.IsNotFound(err) {
			return nil
		}
		return err
	})

	for _, id := range ids {
		if err != nil {
			c.env.Report.Record("VPC Endpoints", id, false, err.Error())
		} else {
			c.env.Report.Record("VPC Endpoints", id, true, "")
		}
	}

	return nil
}

func (c *VPCCleaner) deletePeeringConnections(ctx context.Context, logger log.Interface) error {
	out, err := c.api.DescribeVpcPeeringConnections(ctx, &ec2.DescribeVpcPeeringConnectionsInput{})
	if err != nil {
		return fmt.Errorf("describing peering connections: %w", err)
	}

	for _, pcx := range out.VpcPeeringConnections {
		id := aws.ToString(pcx.VpcPeeringConnectionId)

		if c.env.dryRun() {
			logger.Infof("[dry-run] would delete peering connection %s", id)
			continue
		}

		logger.Infof("deleting peering connection %s", id)
		c.env.deleteResource("VPC Peering Connections", id, fmt.Sprintf("delete peering connection %s", id), func() error {
			_, err := c.api.DeleteVpcPeeringConnection(ctx, &ec2.DeleteVpcPeeringConnectionInput{
				VpcPeeringConnectionId: aws.String(id),
			})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}

func (c *VPCCleaner) deleteSubnets(ctx context.Context, logger log.Interface) error {
	out, err := c.api.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{})
	if err != nil {
		return fmt.Errorf("describing subnets: %w", err)
	}

	for _, subnet := range out.Subnets {
		id := aws.ToString(subnet.SubnetId)

		if c.env.dryRun() {
			logger.Infof("[dry-run] would delete subnet %s", id)
			continue
		}

		logger.Infof("deleting subnet %s", id)
		c.env.deleteResource("Subnets", id, fmt.Sprintf("delete subnet %s", id), func() error {
			_, err := c.api.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: aws.String(id)})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}

func (c *VPCCleaner) deleteRouteTables(ctx context.Context, logger log.Interface) error {
	out, err := c.api.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{})
	if err != nil {
		return fmt.Errorf("describing route tables: %w", err)
	}

	for _, rt := range out.RouteTables {
		id := aws.ToString(rt.RouteTableId)

		if isMainRouteTable(rt) {
			continue
		}

		if c.env.dryRun() {
			logger.Infof("[dry-run] would disassociate and delete route table %s", id)
			continue
		}

		for _, assoc := range rt.Associations {
			if aws.ToBool(assoc.Main) {
				continue
			}

			assocID := aws.ToString(assoc.RouteTableAssociationId)
			c.env.Retry.DoBool(fmt.Sprintf("disassociate route table %s", id), func() error {
				_, err := c.api.DisassociateRouteTable(ctx, &ec2.DisassociateRouteTableInput{
					AssociationId: aws.String(assocID),
				})
				if retry.IsNotFound(err) {
					return nil
				}
				return err
			})
		}

		logger.Infof("deleting route table %s", id)
		c.env.deleteResource("Route Tables", id, fmt.Sprintf("delete route table %s", id), func() error {
			_, err := c.api.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: aws.String(id)})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}

func (c *VPCCleaner) deleteNetworkAcls(ctx context.Context, logger log.Interface) error {
	out, err := c.api.DescribeNetworkAcls(ctx, &ec2.DescribeNetworkAclsInput{})
	if err != nil {
		return fmt.Errorf("describing network ACLs: %w", err)
	}

	for _, nacl := range out.NetworkAcls {
		if aws.ToBool(nacl.IsDefault) {
			continue
		}

		id := aws.ToString(nacl.NetworkAclId)

		if c.env.dryRun() {
			logger.Infof("[dry-run] would delete network ACL %s", id)
			continue
		}

		logger.Infof("deleting network ACL %s", id)
		c.env.deleteResource("Network ACLs", id, fmt.Sprintf("delete network ACL %s", id), func() error {
			_, err := c.api.DeleteNetworkAcl(ctx, &ec2.DeleteNetworkAclInput{NetworkAclId: aws.String(id)})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}

func (c *VPCCleaner) deleteSecurityGroups(ctx context.Context, logger log.Interface) error {
	out, err := c.api.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{})
	if err != nil {
		return fmt.Errorf("describing security groups: %w", err)
	}

	// first pass revokes all rules so cross-references between groups
	// no longer block deletion
	for _, sg := range out.SecurityGroups {
		if aws.ToString(sg.GroupName) == "default" {
			continue
		}

		id := aws.ToString(sg.GroupId)

		if c.env.dryRun() {
			logger.Infof("[dry-run] would revoke rules of security group %s", id)
			continue
		}

		if len(sg.IpPermissions) > 0 {
			c.env.Retry.DoBool(fmt.Sprintf("revoke ingress of %s", id), func() error {
				_, err := c.api.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
					GroupId:       aws.String(id),
					IpPermissions: sg.IpPermissions,
				})
				return err
			})
		}
		if len(sg.IpPermissionsEgress) > 0 {
			c.env.Retry.DoBool(fmt.Sprintf("revoke egress of %s", id), func() error {
				_, err := c.api.RevokeSecurityGroupEgress(ctx, &ec2.RevokeSecurityGroupEgressInput{
					GroupId:       aws.String(id),
					IpPermissions: sg.IpPermissionsEgress,
				})
				return err
			})
		}
	}

	for _, sg := range out.SecurityGroups {
		if aws.ToString(sg.GroupName) == "default" {
			continue
		}

		id := aws.ToString(sg.GroupId)

		if c.env.dryRun() {
			logger.Infof("[dry-run] would delete security group %s", id)
			continue
		}

		logger.Infof("deleting security group %s", id)
		c.env.deleteResource("Security Groups", id, fmt.Sprintf("delete security group %s", id), func() error {
			_, err := c.api.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(id)})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}

func (c *VPCCleaner) deleteVpcs(ctx context.Context, logger log.Interface) error {
	out, err := c.api.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{})
	if err != nil {
		return fmt.Errorf("describing VPCs: %w", err)
	}

	for _, vpc := range out.Vpcs {
		// the default VPC is system-managed; leave it alone
		if aws.ToBool(vpc.IsDefault) {
			continue
		}

		id := aws.ToString(vpc.VpcId)

		if !c.env.Config.MatchesTagFilters(ec2TagMap(vpc.Tags)) {
			logger.Debugf("skipping VPC %s, excluded by tag filters", id)
			continue
		}

		if c.env.dryRun() {
			logger.Infof("[dry-run] would delete VPC %s", id)
			continue
		}

		logger.Infof("deleting VPC %s", id)
		c.env.deleteResource("VPCs", id, fmt.Sprintf("delete VPC %s", id), func() error {
			_, err := c.api.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: aws.String(id)})
			if retry.IsNotFound(err) {
				return nil
			}
			return err
		})
	}

	return nil
}

func isMainRouteTable(rt ec2types.RouteTable) bool {
	for _, assoc := range rt.Associations {
		if aws.ToBool(assoc.Main) {
			return true
		}
	}
	return false
}
