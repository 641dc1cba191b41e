package provision

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLambda struct {
	subnets []string
	err     error
}

func (f *fakeLambda) GetFunctionConfiguration(_ context.Context, _ *lambda.GetFunctionConfigurationInput, _ ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := &lambda.GetFunctionConfigurationOutput{}
	if f.subnets != nil {
		out.VpcConfig = &lambdatypes.VpcConfigResponse{SubnetIds: f.subnets}
	}
	return out, nil
}

type fakeEC2 struct {
	subnets []ec2types.Subnet
	tables  []ec2types.RouteTable
	created []*ec2.CreateVpcEndpointInput
	filters []ec2types.Filter
}

func (f *fakeEC2) DescribeSubnets(_ context.Context, in *ec2.DescribeSubnetsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	var out []ec2types.Subnet
	for _, s := range f.subnets {
		for _, id := range in.SubnetIds {
			if aws.ToString(s.SubnetId) == id {
				out = append(out, s)
			}
		}
	}
	return &ec2.DescribeSubnetsOutput{Subnets: out}, nil
}

func (f *fakeEC2) DescribeRouteTables(_ context.Context, in *ec2.DescribeRouteTablesInput, _ ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error) {
	f.filters = in.Filters
	return &ec2.DescribeRouteTablesOutput{RouteTables: f.tables}, nil
}

func (f *fakeEC2) CreateVpcEndpoint(_ context.Context, in *ec2.CreateVpcEndpointInput, _ ...func(*ec2.Options)) (*ec2.CreateVpcEndpointOutput, error) {
	f.created = append(f.created, in)
	return &ec2.CreateVpcEndpointOutput{VpcEndpoint: &ec2types.VpcEndpoint{
		VpcEndpointId: aws.String("vpce-" + aws.ToString(in.VpcId)),
		State:         ec2types.StatePending,
	}}, nil
}

func subnet(id, vpc string) ec2types.Subnet {
	return ec2types.Subnet{SubnetId: aws.String(id), VpcId: aws.String(vpc)}
}

func table(id, vpc string, main bool, subnets ...string) ec2types.RouteTable {
	rt := ec2types.RouteTable{RouteTableId: aws.String(id), VpcId: aws.String(vpc)}
	if main {
		rt.Associations = append(rt.Associations, ec2types.RouteTableAssociation{Main: aws.Bool(true)})
	}
	for _, s := range subnets {
		rt.Associations = append(rt.Associations, ec2types.RouteTableAssociation{SubnetId: aws.String(s), Main: aws.Bool(false)})
	}
	return rt
}

func TestResolveRouteTables(t *testing.T) {
	subnets := []ec2types.Subnet{
		subnet("subnet-a", "vpc-1"),
		subnet("subnet-b", "vpc-1"),
		subnet("subnet-c", "vpc-2"),
		subnet("subnet-d", "vpc-3"),
	}
	tables := []ec2types.RouteTable{
		table("rtb-main-1", "vpc-1", true),
		table("rtb-private-1", "vpc-1", false, "subnet-a"),
		table("rtb-main-2", "vpc-2", true),
		// Explicit association in another VPC must not leak across.
		table("rtb-other", "vpc-2", false, "subnet-b"),
	}

	byVPC, missing := ResolveRouteTables(subnets, tables)
	assert.Equal(t, map[string][]string{
		"vpc-1": {"rtb-main-1", "rtb-private-1"},
		"vpc-2": {"rtb-main-2"},
	}, byVPC)
	assert.Equal(t, []string{"subnet-d"}, missing)
}

func TestCreateS3Endpoint(t *testing.T) {
	e := &fakeEC2{
		subnets: []ec2types.Subnet{subnet("subnet-a", "vpc-1"), subnet("subnet-b", "vpc-1")},
		tables:  []ec2types.RouteTable{table("rtb-1", "vpc-1", true), table("rtb-2", "vpc-1", false, "subnet-b")},
	}
	p := NewWithAPIs(&fakeLambda{subnets: []string{"subnet-a", "subnet-b"}}, e, "us-west-2", nil)

	eps, err := p.CreateS3Endpoint(t.Context(), Request{FunctionName: "cmda", Bucket: "staging"})
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, Endpoint{
		ID:            "vpce-vpc-1",
		VpcID:         "vpc-1",
		ServiceName:   "com.amazonaws.us-west-2.s3",
		State:         string(ec2types.StatePending),
		RouteTableIDs: []string{"rtb-1", "rtb-2"},
	}, eps[0])

	require.Len(t, e.filters, 1)
	assert.Equal(t, []string{"vpc-1"}, e.filters[0].Values)

	require.Len(t, e.created, 1)
	in := e.created[0]
	assert.Equal(t, ec2types.VpcEndpointTypeGateway, in.VpcEndpointType)
	var policy map[string]any
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.PolicyDocument)), &policy))
	stmt := policy["Statement"].(map[string]any)
	assert.Equal(t, "s3:*", stmt["Action"])
	assert.Equal(t, []any{"arn:aws:s3:::staging", "arn:aws:s3:::staging/*"}, stmt["Resource"])
}

func TestCreateS3Endpoint_RegionOverride(t *testing.T) {
	e := &fakeEC2{
		subnets: []ec2types.Subnet{subnet("subnet-a", "vpc-1")},
		tables:  []ec2types.RouteTable{table("rtb-1", "vpc-1", true)},
	}
	p := NewWithAPIs(&fakeLambda{subnets: []string{"subnet-a"}}, e, "us-west-2", nil)

	eps, err := p.CreateS3Endpoint(t.Context(), Request{FunctionName: "cmda", Bucket: "b", Region: "eu-west-1"})
	require.NoError(t, err)
	assert.Equal(t, "com.amazonaws.eu-west-1.s3", eps[0].ServiceName)
}

func TestCreateS3Endpoint_NotInVPC(t *testing.T) {
	p := NewWithAPIs(&fakeLambda{}, &fakeEC2{}, "us-east-1", nil)
	_, err := p.CreateS3Endpoint(t.Context(), Request{FunctionName: "cmda", Bucket: "b"})
	assert.ErrorIs(t, err, ErrNoVPC)
}

func TestCreateS3Endpoint_Errors(t *testing.T) {
	boom := errors.New("AccessDeniedException")
	p := NewWithAPIs(&fakeLambda{err: boom}, &fakeEC2{}, "us-east-1", nil)

	_, err := p.CreateS3Endpoint(t.Context(), Request{FunctionName: "cmda", Bucket: "b"})
	assert.ErrorIs(t, err, boom)

	_, err = p.CreateS3Endpoint(t.Context(), Request{FunctionName: "cmda"})
	assert.ErrorContains(t, err, "bucket")

	_, err = NewWithAPIs(&fakeLambda{}, &fakeEC2{}, "", nil).CreateS3Endpoint(t.Context(), Request{FunctionName: "cmda", Bucket: "b"})
	assert.ErrorContains(t, err, "region")
}
