package cloud

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
)

// GCEConnection implements the Connection interface for Google Compute Engine
type GCEConnection struct {
	service *compute.Service
	project string
}

// NewGCEConnection authenticates with a service account. The key file
// may hold either a PEM private key paired with clientEmail or a full
// service account JSON blob.
func NewGCEConnection(ctx context.Context, project, clientEmail, keyLocation string) (*GCEConnection, error) {
	key, err := os.ReadFile(keyLocation)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account key: %w", err)
	}

	var conf *jwt.Config
	if strings.HasPrefix(strings.TrimSpace(string(key)), "{") {
		conf, err = google.JWTConfigFromJSON(key, compute.ComputeScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse service account key: %w", err)
		}
	} else {
		conf = &jwt.Config{
			Email:      clientEmail,
			PrivateKey: key,
			Scopes:     []string{compute.ComputeScope},
			TokenURL:   google.JWTTokenURL,
		}
	}

	service, err := compute.NewService(ctx, option.WithTokenSource(conf.TokenSource(ctx)))
	if err != nil {
		return nil, fmt.Errorf("failed to create compute service: %w", err)
	}

	return &GCEConnection{
		service: service,
		project: project,
	}, nil
}

// CreateDisk creates a persistent disk from an image
func (c *GCEConnection) CreateDisk(ctx context.Context, spec DiskSpec) (*Disk, error) {
	rb := &compute.Disk{
		Name:        spec.Name,
		SizeGb:      spec.Size,
		Type:        diskTypeDescriptor(spec.Zone, spec.Type),
		SourceImage: imageDescriptor(spec.Image),
	}

	op, err := c.service.Disks.Insert(c.project, spec.Zone, rb).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to insert disk: %w", err)
	}

	if err := c.waitForOperation(ctx, op.Name, spec.Zone); err != nil {
		return nil, fmt.Errorf("disk operation failed: %w", err)
	}

	return &Disk{ID: spec.Name, Name: spec.Name, Zone: spec.Zone}, nil
}

// CreateServer creates a new VM instance
func (c *GCEConnection) CreateServer(ctx context.Context, spec ServerSpec) (*Server, error) {
	boot := &compute.AttachedDisk{
		AutoDelete: true,
		Boot:       true,
		Type:       "PERSISTENT",
	}
	if spec.BootDisk != "" {
		boot.Source = fmt.Sprintf("zones/%s/disks/%s", spec.Zone, spec.BootDisk)
	} else {
		boot.InitializeParams = &compute.AttachedDiskInitializeParams{
			SourceImage: imageDescriptor(spec.Image),
			DiskSizeGb:  spec.DiskSize,
			DiskType:    diskTypeDescriptor(spec.Zone, spec.DiskType),
		}
	}

	rb := &compute.Instance{
		Name:         spec.Name,
		MachineType:  machineTypeDescriptor(spec.Zone, spec.MachineType),
		CanIpForward: false,
		Disks:        []*compute.AttachedDisk{boot},
		NetworkInterfaces: []*compute.NetworkInterface{
			{
				Network:    networkDescriptor(spec.Network),
				Subnetwork: spec.Subnetwork,
				AccessConfigs: []*compute.AccessConfig{
					{
						Type: "ONE_TO_ONE_NAT",
						Name: "External NAT",
					},
				},
			},
		},
		Metadata: instanceMetadata(spec),
	}
	if len(spec.Tags) > 0 {
		rb.Tags = &compute.Tags{Items: spec.Tags}
	}
	if spec.Preemptible {
		restart := false
		rb.Scheduling = &compute.Scheduling{
			Preemptible:       true,
			AutomaticRestart:  &restart,
			OnHostMaintenance: "TERMINATE",
		}
	}

	op, err := c.service.Instances.Insert(c.project, spec.Zone, rb).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to insert instance: %w", err)
	}

	if err := c.waitForOperation(ctx, op.Name, spec.Zone); err != nil {
		return nil, fmt.Errorf("instance operation failed: %w", err)
	}

	instance, err := c.service.Instances.Get(c.project, spec.Zone, spec.Name).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return serverFromInstance(instance), nil
}

// GetServer looks up an instance by name across all zones
func (c *GCEConnection) GetServer(ctx context.Context, id string) (*Server, error) {
	list, err := c.service.Instances.AggregatedList(c.project).
		Filter(fmt.Sprintf("name = %s", id)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	for _, scoped := range list.Items {
		for _, instance := range scoped.Instances {
			if instance.Name == id {
				return serverFromInstance(instance), nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrServerNotFound, id)
}

// DeleteServer requests instance deletion and returns once the
// request is accepted.
func (c *GCEConnection) DeleteServer(ctx context.Context, id string) error {
	srv, err := c.GetServer(ctx, id)
	if err != nil {
		return err
	}

	_, err = c.service.Instances.Delete(c.project, srv.Zone, id).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	return nil
}

func (c *GCEConnection) waitForOperation(ctx context.Context, opName, zone string) error {
	for i := 0; i < 60; i++ {
		op, err := c.service.ZoneOperations.Get(c.project, zone, opName).Context(ctx).Do()
		if err != nil {
			return err
		}
		if op.Status == "DONE" {
			if op.Error != nil {
				return fmt.Errorf("operation error: %v", op.Error.Errors)
			}
			return nil
		}
		time.Sleep(5 * time.Second)
	}
	return fmt.Errorf("timeout waiting for operation")
}

func serverFromInstance(instance *compute.Instance) *Server {
	srv := &Server{
		ID:     instance.Name,
		Name:   instance.Name,
		Zone:   path.Base(instance.Zone),
		Status: instance.Status,
	}
	for _, nic := range instance.NetworkInterfaces {
		for _, ac := range nic.AccessConfigs {
			if ac.NatIP != "" {
				srv.Addresses = append(srv.Addresses, ac.NatIP)
			}
		}
		for _, ac := range nic.Ipv6AccessConfigs {
			if ac.ExternalIpv6 != "" {
				srv.Addresses = append(srv.Addresses, ac.ExternalIpv6)
			}
		}
	}
	return srv
}

func instanceMetadata(spec ServerSpec) *compute.Metadata {
	items := make([]*compute.MetadataItems, 0, len(spec.Metadata)+1)
	for key, value := range spec.Metadata {
		items = append(items, &compute.MetadataItems{Key: key, Value: &value})
	}
	if spec.SSHPublicKey != "" {
		sshKeys := fmt.Sprintf("%s:%s", spec.Username, spec.SSHPublicKey)
		items = append(items, &compute.MetadataItems{Key: "ssh-keys", Value: &sshKeys})
	}
	if len(items) == 0 {
		return nil
	}
	return &compute.Metadata{Items: items}
}

func machineTypeDescriptor(zone, machineType string) string {
	return fmt.Sprintf("zones/%s/machineTypes/%s", zone, machineType)
}

func diskTypeDescriptor(zone, diskType string) string {
	return fmt.Sprintf("zones/%s/diskTypes/%s", zone, diskType)
}

// networkDescriptor accepts either a bare network name or a full
// resource path.
func networkDescriptor(network string) string {
	if network == "" {
		return "global/networks/default"
	}
	if strings.Contains(network, "/") {
		return network
	}
	return "global/networks/" + network
}

// imageDescriptor accepts either a bare image name in the current
// project or a full resource path such as
// projects/debian-cloud/global/images/family/debian-12.
func imageDescriptor(image string) string {
	if image == "" || strings.Contains(image, "/") {
		return image
	}
	return "global/images/" + image
}
