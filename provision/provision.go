// Package provision creates the S3 gateway endpoint a VPC-attached function
// needs to reach the staging bucket.
//
// This is a one-off setup helper. It is not on the transfer path and makes
// no attempt to be idempotent; running it twice creates two endpoints.
package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/lambci/cmda/log"
)

// ErrNoVPC is returned when the function has no subnets attached.
var ErrNoVPC = errors.New("The Lambda function does not appear to be attached to a VPC") //nolint:staticcheck // user-facing message

// LambdaAPI is the subset of *lambda.Client used to find the function's subnets.
type LambdaAPI interface {
	GetFunctionConfiguration(ctx context.Context, in *lambda.GetFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error)
}

// EC2API is the subset of *ec2.Client used to create the endpoint.
type EC2API interface {
	DescribeSubnets(ctx context.Context, in *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	DescribeRouteTables(ctx context.Context, in *ec2.DescribeRouteTablesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error)
	CreateVpcEndpoint(ctx context.Context, in *ec2.CreateVpcEndpointInput, optFns ...func(*ec2.Options)) (*ec2.CreateVpcEndpointOutput, error)
}

// Request describes the endpoint to create.
type Request struct {
	FunctionName string
	Bucket       string
	// Region selects the S3 service name. Empty uses the client region.
	Region string
}

// Endpoint is a created VPC endpoint.
type Endpoint struct {
	ID            string   `json:"id" yaml:"id"`
	VpcID         string   `json:"vpcId" yaml:"vpcId"`
	ServiceName   string   `json:"serviceName" yaml:"serviceName"`
	State         string   `json:"state" yaml:"state"`
	RouteTableIDs []string `json:"routeTableIds" yaml:"routeTableIds"`
}

// Provisioner creates S3 gateway endpoints.
type Provisioner struct {
	lambda LambdaAPI
	ec2    EC2API
	region string
	logger *log.Logger
}

// New builds a Provisioner from an explicit AWS configuration.
func New(awsCfg aws.Config, logger *log.Logger) *Provisioner {
	return NewWithAPIs(lambda.NewFromConfig(awsCfg), ec2.NewFromConfig(awsCfg), awsCfg.Region, logger)
}

// NewWithAPIs builds a Provisioner over explicit API implementations.
func NewWithAPIs(l LambdaAPI, e EC2API, region string, logger *log.Logger) *Provisioner {
	if logger == nil {
		logger = log.Nop()
	}
	return &Provisioner{lambda: l, ec2: e, region: region, logger: logger}
}

// CreateS3Endpoint creates one S3 gateway endpoint per VPC the function's
// subnets live in, attached to the route tables those subnets use. The
// endpoint policy allows every S3 action on the bucket and its objects.
func (p *Provisioner) CreateS3Endpoint(ctx context.Context, req Request) ([]Endpoint, error) {
	if req.FunctionName == "" {
		return nil, errors.New("function name cannot be empty")
	}
	if req.Bucket == "" {
		return nil, errors.New("bucket cannot be empty")
	}
	region := req.Region
	if region == "" {
		region = p.region
	}
	if region == "" {
		return nil, errors.New("region cannot be empty")
	}

	fn, err := p.lambda.GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{
		FunctionName: aws.String(req.FunctionName),
	})
	if err != nil {
		return nil, fmt.Errorf("get function configuration: %w", err)
	}
	if fn.VpcConfig == nil || len(fn.VpcConfig.SubnetIds) == 0 {
		return nil, ErrNoVPC
	}

	subnets, err := p.ec2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: fn.VpcConfig.SubnetIds})
	if err != nil {
		return nil, fmt.Errorf("describe subnets: %w", err)
	}

	vpcIDs := make(map[string]struct{})
	for _, s := range subnets.Subnets {
		vpcIDs[aws.ToString(s.VpcId)] = struct{}{}
	}
	tables, err := p.routeTables(ctx, slices.Sorted(maps.Keys(vpcIDs)))
	if err != nil {
		return nil, err
	}

	byVPC, missing := ResolveRouteTables(subnets.Subnets, tables)
	for _, id := range missing {
		p.logger.Warn("could not find route table for subnet", map[string]any{"subnet": id})
	}

	policy, err := bucketPolicy(req.Bucket)
	if err != nil {
		return nil, err
	}
	service := ServiceName(region)

	var created []Endpoint
	for _, vpcID := range slices.Sorted(maps.Keys(byVPC)) {
		out, err := p.ec2.CreateVpcEndpoint(ctx, &ec2.CreateVpcEndpointInput{
			VpcId:           aws.String(vpcID),
			ServiceName:     aws.String(service),
			VpcEndpointType: ec2types.VpcEndpointTypeGateway,
			RouteTableIds:   byVPC[vpcID],
			PolicyDocument:  aws.String(policy),
		})
		if err != nil {
			return created, fmt.Errorf("create endpoint in %s: %w", vpcID, err)
		}
		ep := Endpoint{VpcID: vpcID, ServiceName: service, RouteTableIDs: byVPC[vpcID]}
		if out.VpcEndpoint != nil {
			ep.ID = aws.ToString(out.VpcEndpoint.VpcEndpointId)
			ep.State = string(out.VpcEndpoint.State)
		}
		p.logger.Info("created vpc endpoint", map[string]any{"id": ep.ID, "vpc": vpcID})
		created = append(created, ep)
	}
	return created, nil
}

func (p *Provisioner) routeTables(ctx context.Context, vpcIDs []string) ([]ec2types.RouteTable, error) {
	pager := ec2.NewDescribeRouteTablesPaginator(p.ec2, &ec2.DescribeRouteTablesInput{
		Filters: []ec2types.Filter{{Name: aws.String("vpc-id"), Values: vpcIDs}},
	})
	var tables []ec2types.RouteTable
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe route tables: %w", err)
		}
		tables = append(tables, page.RouteTables...)
	}
	return tables, nil
}

// ResolveRouteTables picks the route table each subnet uses: the table
// explicitly associated with it, else its VPC's main table. It returns the
// distinct table IDs per VPC, sorted, and the subnets with no table.
func ResolveRouteTables(subnets []ec2types.Subnet, tables []ec2types.RouteTable) (map[string][]string, []string) {
	sets := make(map[string]map[string]struct{})
	var missing []string

	for _, subnet := range subnets {
		vpcID := aws.ToString(subnet.VpcId)
		subnetID := aws.ToString(subnet.SubnetId)

		tableID := ""
		mainID := ""
		for _, rt := range tables {
			if aws.ToString(rt.VpcId) != vpcID {
				continue
			}
			for _, assoc := range rt.Associations {
				if aws.ToString(assoc.SubnetId) == subnetID {
					tableID = aws.ToString(rt.RouteTableId)
				}
				if aws.ToBool(assoc.Main) && mainID == "" {
					mainID = aws.ToString(rt.RouteTableId)
				}
			}
		}
		if tableID == "" {
			tableID = mainID
		}
		if tableID == "" {
			missing = append(missing, subnetID)
			continue
		}
		if sets[vpcID] == nil {
			sets[vpcID] = make(map[string]struct{})
		}
		sets[vpcID][tableID] = struct{}{}
	}

	out := make(map[string][]string, len(sets))
	for vpcID, ids := range sets {
		out[vpcID] = slices.Sorted(maps.Keys(ids))
	}
	return out, missing
}

// ServiceName returns the S3 gateway service name for region.
func ServiceName(region string) string {
	return "com.amazonaws." + region + ".s3"
}

type policyStatement struct {
	Principal string   `json:"Principal"`
	Effect    string   `json:"Effect"`
	Action    string   `json:"Action"`
	Resource  []string `json:"Resource"`
}

type policyDocument struct {
	Version   string          `json:"Version"`
	Statement policyStatement `json:"Statement"`
}

func bucketPolicy(bucket string) (string, error) {
	doc := policyDocument{
		Version: "2008-10-17",
		Statement: policyStatement{
			Principal: "*",
			Effect:    "Allow",
			Action:    "s3:*",
			Resource:  []string{"arn:aws:s3:::" + bucket, "arn:aws:s3:::" + bucket + "/*"},
		},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal endpoint policy: %w", err)
	}
	return string(b), nil
}
