package cleaner

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudetc/awswipe/pkg/config"
)

// fakeVPCAPI records every mutating call as "action id".
type fakeVPCAPI struct {
	natGateways    []ec2types.NatGateway
	igws           []ec2types.InternetGateway
	endpoints      []ec2types.VpcEndpoint
	peerings       []ec2types.VpcPeeringConnection
	subnets        []ec2types.Subnet
	routeTables    []ec2types.RouteTable
	nacls          []ec2types.NetworkAcl
	securityGroups []ec2types.SecurityGroup
	vpcs           []ec2types.Vpc

	mutations []string
}

func (f *fakeVPCAPI) mutate(action, id string) {
	f.mutations = append(f.mutations, action+" "+id)
}

func (f *fakeVPCAPI) DescribeNatGateways(ctx context.Context, params *ec2.DescribeNatGatewaysInput,
	optFns ...func(*ec2.Options)) (*ec2.DescribeNatGatewaysOutput, error) {
	return &ec2.DescribeNatGatewaysOutput{NatGateways: f.natGateways}, nil
}

func (f *fakeVPCAPI) DeleteNatGateway(ctx context.Context, params *ec2.DeleteNatGatewayInput,
	optFns ...func(*ec2.Options)) (*ec2.DeleteNatGatewayOutput, error) {
	f.mutate("delete-nat", aws.ToString(params.NatGatewayId))
	return &ec2.DeleteNatGatewayOutput{}, nil
}

func (f *fakeVPCAPI) DescribeInternetGateways(ctx context.Context, params *ec2.DescribeInternetGatewaysInput,
	optFns ...func(*ec2.Options)) (*ec2.DescribeInternetGatewaysOutput, error) {
	return &ec2.DescribeInternetGatewaysOutput{InternetGateways: f.igws}, nil
}

func (f *fakeVPCAPI) DetachInternetGateway(ctx context.Context, params *ec2.DetachInternetGatewayInput,
	optFns ...func(*ec2.Options)) (*ec2.DetachInternetGatewayOutput, error) {
	f.mutate("detach-igw", aws.ToString(params.InternetGatewayId))
	return &ec2.DetachInternetGatewayOutput{}, nil
}

func (f *fakeVPCAPI) DeleteInternetGateway(ctx context.Context, params *ec2.DeleteInternetGatewayInput,
	optFns ...func(*ec2.Options)) (*ec2.DeleteInternetGatewayOutput, error) {
	f.mutate("delete-igw", aws.ToString(params.InternetGatewayId))
	return &ec2.DeleteInternetGatewayOutput{}, nil
}

func (f *fakeVPCAPI) DescribeVpcEndpoints(ctx context.Context, params *ec2.DescribeVpcEndpointsInput,
	optFns ...func(*ec2.Options)) (*ec2.DescribeVpcEndpointsOutput, error) {
	return &ec2.DescribeVpcEndpointsOutput{VpcEndpoints: f.endpoints}, nil
}

func (f *fakeVPCAPI) DeleteVpcEndpoints(ctx context.Context, params *ec2.DeleteVpcEndpointsInput,
	optFns ...func(*ec2.Options)) (*ec2.DeleteVpcEndpointsOutput, error) {
	for _, id := range params.VpcEndpointIds {
		f.mutate("delete-endpoint", id)
	}
	return &ec2.DeleteVpcEndpointsOutput{}, nil
}

func (f *fakeVPCAPI) DescribeVpcPeeringConnections(ctx context.Context, params *ec2.DescribeVpcPeeringConnectionsInput,
	optFns ...func(*ec2.Options)) (*ec2.DescribeVpcPeeringConnectionsOutput, error) {
	return &ec2.DescribeVpcPeeringConnectionsOutput{VpcPeeringConnections: f.peerings}, nil
}

func (f *fakeVPCAPI) DeleteVpcPeeringConnection(ctx context.Context, params *ec2.DeleteVpcPeeringConnectionInput,
	optFns ...func(*ec2.Options)) (*ec2.DeleteVpcPeeringConnectionOutput, error) {
	f.mutate("delete-peering", aws.ToString(params.VpcPeeringConnectionId))
	return &ec2.DeleteVpcPeeringConnectionOutput{}, nil
}

func (f *fakeVPCAPI) DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput,
	optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	return &ec2.DescribeSubnetsOutput{Subnets: f.subnets}, nil
}

func (f *fakeVPCAPI) DeleteSubnet(ctx context.Context, params *ec2.DeleteSubnetInput,
	optFns ...func(*ec2.Options)) (*ec2.DeleteSubnetOutput, error) {
	f.mutate("delete-subnet", aws.ToString(params.SubnetId))
	return &ec2.DeleteSubnetOutput{}, nil
}

func (f *fakeVPCAPI) DescribeRouteTables(ctx context.Context, params *ec2.DescribeRouteTablesInput,
	optFns ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error) {
	return &ec2.DescribeRouteTablesOutput{RouteTables: f.routeTables}, nil
}

func (f *fakeVPCAPI) DisassociateRouteTable(ctx context.Context, params *ec2.DisassociateRouteTableInput,
	optFns ...func(*ec2.Options)) (*ec2.DisassociateRouteTableOutput, error) {
	f.mutate("disassociate-rt", aws.ToString(params.AssociationId))
	return &ec2.DisassociateRouteTableOutput{}, nil
}

func (f *fakeVPCAPI) DeleteRouteTable(ctx context.Context, params *ec2.DeleteRouteTableInput,
	optFns ...func(*ec2.Options)) (*ec2.DeleteRouteTableOutput, error) {
	f.mutate("delete-rt", aws.ToString(params.RouteTableId))
	return &ec2.DeleteRouteTableOutput{}, nil
}

func (f *fakeVPCAPI) DescribeNetworkAcls(ctx context.Context, params *ec2.DescribeNetworkAclsInput,
	optFns ...func(*ec2.Options)) (*ec2.DescribeNetworkAclsOutput, error) {
	return &ec2.DescribeNetworkAclsOutput{NetworkAcls: f.nacls}, nil
}

func (f *fakeVPCAPI) DeleteNetworkAcl(ctx context.Context, params *ec2.DeleteNetworkAclInput,
	optFns ...func(*ec2.Options)) (*ec2.DeleteNetworkAclOutput, error) {
	f.mutate("delete-nacl", aws.ToString(params.NetworkAclId))
	return &ec2.DeleteNetworkAclOutput{}, nil
}

func (f *fakeVPCAPI) DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput,
	optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	return &ec2.DescribeSecurityGroupsOutput{SecurityGroups: f.securityGroups}, nil
}

func (f *fakeVPCAPI) RevokeSecurityGroupIngress(ctx context.Context, params *ec2.RevokeSecurityGroupIngressInput,
	optFns ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupIngressOutput, error) {
	f.mutate("revoke-ingress", aws.ToString(params.GroupId))
	return &ec2.RevokeSecurityGroupIngressOutput{}, nil
}

func (f *fakeVPCAPI) RevokeSecurityGroupEgress(ctx context.Context, params *ec2.RevokeSecurityGroupEgressInput,
	optFns ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupEgressOutput, error) {
	f.mutate("revoke-egress", aws.ToString(params.GroupId))
	return &ec2.RevokeSecurityGroupEgressOutput{}, nil
}

func (f *fakeVPCAPI) DeleteSecurityGroup(ctx context.Context, params *ec2.DeleteSecurityGroupInput,
	optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error) {
	f.mutate("delete-sg", aws.ToString(params.GroupId))
	return &ec2.DeleteSecurityGroupOutput{}, nil
}

func (f *fakeVPCAPI) DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput,
	optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	return &ec2.DescribeVpcsOutput{Vpcs: f.vpcs}, nil
}

func (f *fakeVPCAPI) DeleteVpc(ctx context.Context, params *ec2.DeleteVpcInput,
	optFns ...func(*ec2.Options)) (*ec2.DeleteVpcOutput, error) {
	f.mutate("delete-vpc", aws.ToString(params.VpcId))
	return &ec2.DeleteVpcOutput{}, nil
}

func TestVPCCleaner_SkipsDefaultResources(t *testing.T) {
	// given
	cfg := config.Default()
	cfg.DryRun = false
	api := &fakeVPCAPI{
		routeTables: []ec2types.RouteTable{
			{
				RouteTableId: aws.String("rtb-main"),
				Associations: []ec2types.RouteTableAssociation{{Main: aws.Bool(true)}},
			},
			{
				RouteTableId: aws.String("rtb-custom"),
				Associations: []ec2types.RouteTableAssociation{
					{Main: aws.Bool(false), RouteTableAssociationId: aws.String("rtbassoc-1")},
				},
			},
		},
		nacls: []ec2types.NetworkAcl{
			{NetworkAclId: aws.String("acl-default"), IsDefault: aws.Bool(true)},
			{NetworkAclId: aws.String("acl-custom"), IsDefault: aws.Bool(false)},
		},
		securityGroups: []ec2types.SecurityGroup{
			{GroupId: aws.String("sg-default"), GroupName: aws.String("default")},
			{GroupId: aws.String("sg-custom"), GroupName: aws.String("web")},
		},
		vpcs: []ec2types.Vpc{
			{VpcId: aws.String("vpc-default"), IsDefault: aws.Bool(true)},
			{VpcId: aws.String("vpc-custom"), IsDefault: aws.Bool(false)},
		},
	}
	env := testEnv(cfg)
	c := NewVPCCleaner(api, env)

	// when
	err := c.Cleanup(context.Background(), "us-west-2")

	// then
	require.NoError(t, err)
	assert.NotContains(t, api.mutations, "delete-rt rtb-main")
	assert.NotContains(t, api.mutations, "delete-nacl acl-default")
	assert.NotContains(t, api.mutations, "delete-sg sg-default")
	assert.NotContains(t, api.mutations, "delete-vpc vpc-default")

	assert.Contains(t, api.mutations, "disassociate-rt rtbassoc-1")
	assert.Contains(t, api.mutations, "delete-rt rtb-custom")
	assert.Contains(t, api.mutations, "delete-nacl acl-custom")
	assert.Contains(t, api.mutations, "delete-sg sg-custom")
	assert.Contains(t, api.mutations, "delete-vpc vpc-custom")

	// skipped defaults produce no report outcomes
	assert.Equal(t, []string{"vpc-custom"}, env.Report.Deleted("VPCs"))
}

func TestVPCCleaner_PhaseOrder(t *testing.T) {
	// given
	cfg := config.Default()
	cfg.DryRun = false
	api := &fakeVPCAPI{
		natGateways: []ec2types.NatGateway{{NatGatewayId: aws.String("nat-1")}},
		igws: []ec2types.InternetGateway{
			{
				InternetGatewayId: aws.String("igw-1"),
				Attachments: []ec2types.InternetGatewayAttachment{
					{VpcId: aws.String("vpc-1")},
				},
			},
		},
		subnets: []ec2types.Subnet{{SubnetId: aws.String("subnet-1")}},
		vpcs:    []ec2types.Vpc{{VpcId: aws.String("vpc-1")}},
	}
	env := testEnv(cfg)
	c := NewVPCCleaner(api, env)

	// when
	err := c.Cleanup(context.Background(), "us-west-2")

	// then
	require.NoError(t, err)
	assert.Equal(t, []string{
		"delete-nat nat-1",
		"detach-igw igw-1",
		"delete-igw igw-1",
		"delete-subnet subnet-1",
		"delete-vpc vpc-1",
	}, api.mutations)
}

func TestVPCCleaner_DryRunNeverMutates(t *testing.T) {
	// given
	cfg := config.Default()
	api := &fakeVPCAPI{
		natGateways:    []ec2types.NatGateway{{NatGatewayId: aws.String("nat-1")}},
		igws:           []ec2types.InternetGateway{{InternetGatewayId: aws.String("igw-1")}},
		endpoints:      []ec2types.VpcEndpoint{{VpcEndpointId: aws.String("vpce-1")}},
		subnets:        []ec2types.Subnet{{SubnetId: aws.String("subnet-1")}},
		securityGroups: []ec2types.SecurityGroup{{GroupId: aws.String("sg-1"), GroupName: aws.String("web")}},
		vpcs:           []ec2types.Vpc{{VpcId: aws.String("vpc-1")}},
	}
	env := testEnv(cfg)
	c := NewVPCCleaner(api, env)

	// when
	err := c.Cleanup(context.Background(), "us-west-2")

	// then
	require.NoError(t, err)
	assert.Empty(t, api.mutations)
	assert.True(t, env.Report.Empty())
}
