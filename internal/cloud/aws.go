package cloud

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// AWSConnection implements the Connection interface for AWS EC2
type AWSConnection struct {
	client *ec2.Client
}

// NewAWSConnection creates a new AWS connection. Empty credentials
// fall back to the SDK default chain.
func NewAWSConnection(ctx context.Context, region, accessKey, secretKey string) (*AWSConnection, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSConnection{
		client: ec2.NewFromConfig(cfg),
	}, nil
}

// CreateDisk provisions an EBS volume. EC2 instances boot from their
// AMI, so the volume is attached as auxiliary storage after launch
// rather than used as the boot device.
func (c *AWSConnection) CreateDisk(ctx context.Context, spec DiskSpec) (*Disk, error) {
	out, err := c.client.CreateVolume(ctx, &ec2.CreateVolumeInput{
		AvailabilityZone: aws.String(spec.Zone),
		Size:             aws.Int32(int32(spec.Size)),
		VolumeType:       types.VolumeTypeGp3,
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeVolume,
				Tags: []types.Tag{
					{Key: aws.String("Name"), Value: aws.String(spec.Name)},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create volume: %w", err)
	}

	return &Disk{ID: aws.ToString(out.VolumeId), Name: spec.Name, Zone: spec.Zone}, nil
}

// CreateServer creates a new EC2 instance
func (c *AWSConnection) CreateServer(ctx context.Context, spec ServerSpec) (*Server, error) {
	userData, err := GenerateCloudConfig(spec.Username, spec.SSHPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cloud-config: %w", err)
	}
	encodedUserData := base64.StdEncoding.EncodeToString([]byte(userData))

	tags := []types.Tag{
		{Key: aws.String("Name"), Value: aws.String(spec.Name)},
	}
	for _, tag := range spec.Tags {
		tags = append(tags, types.Tag{Key: aws.String(tag), Value: aws.String("")})
	}
	for key, value := range spec.Metadata {
		tags = append(tags, types.Tag{Key: aws.String(key), Value: aws.String(value)})
	}

	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.Image),
		InstanceType: types.InstanceType(spec.MachineType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		UserData:     aws.String(encodedUserData),
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags:         tags,
			},
		},
	}
	if spec.Subnetwork != "" {
		input.SubnetId = aws.String(spec.Subnetwork)
	}

	output, err := c.client.RunInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run instance: %w", err)
	}

	instanceID := aws.ToString(output.Instances[0].InstanceId)

	// Wait for instance to be running
	for i := 0; i < 60; i++ {
		srv, err := c.GetServer(ctx, instanceID)
		if err != nil {
			return nil, err
		}

		if srv.Status == string(types.InstanceStateNameRunning) {
			if spec.BootDisk != "" {
				if err := c.attachVolume(ctx, spec.BootDisk, instanceID); err != nil {
					return nil, err
				}
			}
			return srv, nil
		}
		time.Sleep(5 * time.Second)
	}

	return nil, fmt.Errorf("timed out waiting for instance to be running")
}

// GetServer describes an EC2 instance by ID
func (c *AWSConnection) GetServer(ctx context.Context, id string) (*Server, error) {
	desc, err := c.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrServerNotFound, id)
		}
		return nil, fmt.Errorf("failed to describe instance: %w", err)
	}
	if len(desc.Reservations) == 0 || len(desc.Reservations[0].Instances) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}

	instance := desc.Reservations[0].Instances[0]

	srv := &Server{
		ID:     aws.ToString(instance.InstanceId),
		Zone:   aws.ToString(instance.Placement.AvailabilityZone),
		Status: string(instance.State.Name),
	}
	for _, tag := range instance.Tags {
		if aws.ToString(tag.Key) == "Name" {
			srv.Name = aws.ToString(tag.Value)
		}
	}
	if ip := aws.ToString(instance.PublicIpAddress); ip != "" {
		srv.Addresses = append(srv.Addresses, ip)
	}
	if ip := aws.ToString(instance.Ipv6Address); ip != "" {
		srv.Addresses = append(srv.Addresses, ip)
	}

	return srv, nil
}

// DeleteServer terminates an EC2 instance
func (c *AWSConnection) DeleteServer(ctx context.Context, id string) error {
	_, err := c.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		if isAWSNotFound(err) {
			return fmt.Errorf("%w: %s", ErrServerNotFound, id)
		}
		return fmt.Errorf("failed to terminate instance: %w", err)
	}
	return nil
}

func (c *AWSConnection) attachVolume(ctx context.Context, volumeID, instanceID string) error {
	_, err := c.client.AttachVolume(ctx, &ec2.AttachVolumeInput{
		Device:     aws.String("/dev/sdf"),
		InstanceId: aws.String(instanceID),
		VolumeId:   aws.String(volumeID),
	})
	if err != nil {
		return fmt.Errorf("failed to attach volume: %w", err)
	}
	return nil
}

func isAWSNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidInstanceID.NotFound"
}
