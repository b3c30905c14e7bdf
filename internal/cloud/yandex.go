package cloud

import (
	"context"
	"fmt"

	"github.com/yandex-cloud/go-genproto/yandex/cloud/compute/v1"
	"github.com/yandex-cloud/go-genproto/yandex/cloud/vpc/v1"
	ycsdk "github.com/yandex-cloud/go-sdk"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// YCConnection implements the Connection interface for Yandex Cloud
type YCConnection struct {
	sdk      *ycsdk.SDK
	folderID string
	subnetID string
}

// NewYCConnection creates a new Yandex Cloud connection
func NewYCConnection(ctx context.Context, iamToken, folderID, subnetID string) (*YCConnection, error) {
	sdk, err := ycsdk.Build(ctx, ycsdk.Config{
		Credentials: ycsdk.NewIAMTokenCredentials(iamToken),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SDK: %w", err)
	}

	return &YCConnection{
		sdk:      sdk,
		folderID: folderID,
		subnetID: subnetID,
	}, nil
}

// CreateDisk creates a network disk, optionally sourced from an image
func (c *YCConnection) CreateDisk(ctx context.Context, spec DiskSpec) (*Disk, error) {
	req := &compute.CreateDiskRequest{
		FolderId: c.folderID,
		Name:     spec.Name,
		ZoneId:   spec.Zone,
		TypeId:   "network-hdd",
		Size:     spec.Size * 1024 * 1024 * 1024,
	}
	if spec.Image != "" {
		req.Source = &compute.CreateDiskRequest_ImageId{ImageId: spec.Image}
	}

	pop, err := c.sdk.Compute().Disk().Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create disk: %w", err)
	}

	op, err := c.sdk.WrapOperation(pop, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap operation: %w", err)
	}

	if err := op.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for operation: %w", err)
	}

	resp, err := op.Response()
	if err != nil {
		return nil, fmt.Errorf("failed to get response: %w", err)
	}

	disk := resp.(*compute.Disk)
	return &Disk{ID: disk.Id, Name: disk.Name, Zone: disk.ZoneId}, nil
}

// CreateServer creates a new VM in Yandex Cloud
func (c *YCConnection) CreateServer(ctx context.Context, spec ServerSpec) (*Server, error) {
	subnetID := c.subnetID
	if subnetID == "" {
		subnetID = c.findSubnet(ctx, spec.Zone)
	}
	if subnetID == "" {
		return nil, fmt.Errorf("no subnet found in zone %s", spec.Zone)
	}

	userData, err := GenerateCloudConfig(spec.Username, spec.SSHPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cloud-config: %w", err)
	}

	metadata := map[string]string{"user-data": userData}
	for key, value := range spec.Metadata {
		metadata[key] = value
	}

	boot := &compute.AttachedDiskSpec{AutoDelete: true}
	if spec.BootDisk != "" {
		boot.Disk = &compute.AttachedDiskSpec_DiskId{DiskId: spec.BootDisk}
	} else {
		boot.Disk = &compute.AttachedDiskSpec_DiskSpec_{
			DiskSpec: &compute.AttachedDiskSpec_DiskSpec{
				TypeId: "network-hdd",
				Size:   spec.DiskSize * 1024 * 1024 * 1024,
				Source: &compute.AttachedDiskSpec_DiskSpec_ImageId{
					ImageId: spec.Image,
				},
			},
		}
	}

	// Machine type names do not translate to Yandex Cloud; a small
	// fixed shape is used for every instance.
	request := &compute.CreateInstanceRequest{
		FolderId:   c.folderID,
		Name:       spec.Name,
		ZoneId:     spec.Zone,
		PlatformId: "standard-v2",
		ResourcesSpec: &compute.ResourcesSpec{
			Cores:  2,
			Memory: 2 * 1024 * 1024 * 1024,
		},
		BootDiskSpec: boot,
		NetworkInterfaceSpecs: []*compute.NetworkInterfaceSpec{
			{
				SubnetId: subnetID,
				PrimaryV4AddressSpec: &compute.PrimaryAddressSpec{
					OneToOneNatSpec: &compute.OneToOneNatSpec{
						IpVersion: compute.IpVersion_IPV4,
					},
				},
			},
		},
		Metadata: metadata,
	}

	pop, err := c.sdk.Compute().Instance().Create(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("failed to create VM: %w", err)
	}

	op, err := c.sdk.WrapOperation(pop, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap operation: %w", err)
	}

	if err := op.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for operation: %w", err)
	}

	resp, err := op.Response()
	if err != nil {
		return nil, fmt.Errorf("failed to get response: %w", err)
	}

	return serverFromYandexInstance(resp.(*compute.Instance)), nil
}

// GetServer looks up a VM by ID
func (c *YCConnection) GetServer(ctx context.Context, id string) (*Server, error) {
	instance, err := c.sdk.Compute().Instance().Get(ctx, &compute.GetInstanceRequest{
		InstanceId: id,
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrServerNotFound, id)
		}
		return nil, fmt.Errorf("failed to get VM: %w", err)
	}

	return serverFromYandexInstance(instance), nil
}

// DeleteServer requests VM deletion and returns once the request is
// accepted.
func (c *YCConnection) DeleteServer(ctx context.Context, id string) error {
	_, err := c.sdk.Compute().Instance().Delete(ctx, &compute.DeleteInstanceRequest{
		InstanceId: id,
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrServerNotFound, id)
		}
		return fmt.Errorf("failed to delete VM: %w", err)
	}
	return nil
}

// findSubnet finds a subnet in the specified zone
func (c *YCConnection) findSubnet(ctx context.Context, zone string) string {
	resp, err := c.sdk.VPC().Subnet().List(ctx, &vpc.ListSubnetsRequest{
		FolderId: c.folderID,
		PageSize: 100,
	})
	if err != nil {
		return ""
	}

	for _, subnet := range resp.Subnets {
		if subnet.ZoneId == zone {
			return subnet.Id
		}
	}

	return ""
}

func serverFromYandexInstance(instance *compute.Instance) *Server {
	srv := &Server{
		ID:     instance.Id,
		Name:   instance.Name,
		Zone:   instance.ZoneId,
		Status: instance.Status.String(),
	}
	for _, nic := range instance.NetworkInterfaces {
		if nic.PrimaryV4Address != nil && nic.PrimaryV4Address.OneToOneNat != nil {
			if addr := nic.PrimaryV4Address.OneToOneNat.Address; addr != "" {
				srv.Addresses = append(srv.Addresses, addr)
			}
		}
	}
	return srv
}
