package cloud

import (
	"context"
	"errors"
)

// ErrServerNotFound is returned when a lookup or delete references a
// server the provider does not know.
var ErrServerNotFound = errors.New("server not found")

// DiskSpec represents the specification for creating a persistent disk
type DiskSpec struct {
	Name  string
	Zone  string
	Size  int64 // in GB
	Type  string
	Image string
}

// Disk contains information about a created disk
type Disk struct {
	ID   string
	Name string
	Zone string
}

// ServerSpec represents the specification for creating a server
type ServerSpec struct {
	Name        string
	Zone        string
	MachineType string
	Network     string
	Subnetwork  string
	Image       string
	Tags        []string
	Metadata    map[string]string
	Preemptible bool

	// BootDisk names a disk created beforehand. Compute Engine boots
	// from it; providers that can only boot from an image attach it as
	// auxiliary storage instead.
	BootDisk string
	DiskSize int64 // in GB
	DiskType string

	// Login injected through provider metadata
	Username     string
	SSHPublicKey string
}

// Server contains information about a provisioned server. ID is the
// identifier later lookups and deletes use; on Compute Engine it is
// the instance name.
type Server struct {
	ID        string
	Name      string
	Zone      string
	Status    string
	Addresses []string // public addresses, IPv4 and IPv6 mixed
}

// Connection defines the interface for managing servers at a provider
type Connection interface {
	CreateDisk(ctx context.Context, spec DiskSpec) (*Disk, error)
	CreateServer(ctx context.Context, spec ServerSpec) (*Server, error)
	GetServer(ctx context.Context, id string) (*Server, error)
	DeleteServer(ctx context.Context, id string) error
}
