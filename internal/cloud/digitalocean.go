package cloud

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/digitalocean/godo"
)

// DOConnection implements the Connection interface for DigitalOcean
type DOConnection struct {
	client *godo.Client
}

// NewDOConnection creates a new DigitalOcean connection
func NewDOConnection(token string) (*DOConnection, error) {
	return &DOConnection{
		client: godo.NewFromToken(token),
	}, nil
}

// CreateDisk provisions a block storage volume. Droplets boot from
// their image, so the volume is attached as auxiliary storage after
// the droplet is active.
func (c *DOConnection) CreateDisk(ctx context.Context, spec DiskSpec) (*Disk, error) {
	vol, _, err := c.client.Storage.CreateVolume(ctx, &godo.VolumeCreateRequest{
		Region:        spec.Zone,
		Name:          spec.Name,
		SizeGigaBytes: spec.Size,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create volume: %w", err)
	}

	return &Disk{ID: vol.ID, Name: vol.Name, Zone: spec.Zone}, nil
}

// CreateServer creates a new droplet
func (c *DOConnection) CreateServer(ctx context.Context, spec ServerSpec) (*Server, error) {
	userData, err := GenerateCloudConfig(spec.Username, spec.SSHPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cloud-config: %w", err)
	}

	createRequest := &godo.DropletCreateRequest{
		Name:   spec.Name,
		Region: spec.Zone,
		Size:   spec.MachineType,
		Image: godo.DropletCreateImage{
			Slug: spec.Image,
		},
		Tags:     spec.Tags,
		UserData: userData,
	}

	droplet, _, err := c.client.Droplets.Create(ctx, createRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to create droplet: %w", err)
	}

	// Wait for droplet to be active
	for i := 0; i < 60; i++ {
		d, _, err := c.client.Droplets.Get(ctx, droplet.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get droplet: %w", err)
		}

		if d.Status == "active" {
			if spec.BootDisk != "" {
				if _, _, err := c.client.StorageActions.Attach(ctx, spec.BootDisk, d.ID); err != nil {
					return nil, fmt.Errorf("failed to attach volume: %w", err)
				}
			}
			return serverFromDroplet(d), nil
		}

		time.Sleep(5 * time.Second)
	}

	return nil, fmt.Errorf("timed out waiting for droplet to be active")
}

// GetServer looks up a droplet by ID
func (c *DOConnection) GetServer(ctx context.Context, id string) (*Server, error) {
	dropletID, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("invalid droplet ID %q: %w", id, err)
	}

	d, resp, err := c.client.Droplets.Get(ctx, dropletID)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrServerNotFound, id)
		}
		return nil, fmt.Errorf("failed to get droplet: %w", err)
	}

	return serverFromDroplet(d), nil
}

// DeleteServer deletes a droplet by ID
func (c *DOConnection) DeleteServer(ctx context.Context, id string) error {
	dropletID, err := strconv.Atoi(id)
	if err != nil {
		return fmt.Errorf("invalid droplet ID %q: %w", id, err)
	}

	resp, err := c.client.Droplets.Delete(ctx, dropletID)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrServerNotFound, id)
		}
		return fmt.Errorf("failed to delete droplet: %w", err)
	}
	return nil
}

func serverFromDroplet(d *godo.Droplet) *Server {
	srv := &Server{
		ID:     strconv.Itoa(d.ID),
		Name:   d.Name,
		Status: d.Status,
	}
	if d.Region != nil {
		srv.Zone = d.Region.Slug
	}
	if ip, err := d.PublicIPv4(); err == nil && ip != "" {
		srv.Addresses = append(srv.Addresses, ip)
	}
	if ip, err := d.PublicIPv6(); err == nil && ip != "" {
		srv.Addresses = append(srv.Addresses, ip)
	}
	return srv
}
