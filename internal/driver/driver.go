package driver

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"testkiln/internal/cloud"
	"testkiln/internal/config"
	"testkiln/internal/logging"
	"testkiln/internal/state"
)

// Driver provisions one compute instance and tears it down again. It
// is synchronous: Create blocks through the provider round trips and
// the readiness poll. Several drivers may run concurrently as long as
// each owns its own state record.
type Driver struct {
	cfg  *config.Config
	conn cloud.Connection

	// Dial establishes the provider connection; swapped for a fake in
	// tests.
	Dial func(ctx context.Context, cfg *config.Config) (cloud.Connection, error)

	// Rand drives zone selection.
	Rand *rand.Rand

	// Readiness poll parameters, seeded from config.
	Probe    Probe
	Attempts int
	Delay    time.Duration
}

// New builds a driver from configuration.
func New(cfg *config.Config) *Driver {
	d := &Driver{
		cfg:      cfg,
		Dial:     cloud.NewConnection,
		Rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		Attempts: cfg.WaitAttempts,
		Delay:    cfg.WaitDelay(),
	}

	if cfg.ReadinessHTTP != "" {
		d.Probe = HTTPProbe(cfg.ReadinessHTTP)
	} else {
		d.Probe = TCPProbe(cfg.SSHPort)
	}

	return d
}

// Create provisions the instance and records it in st. A record that
// already names a server is trusted as-is: no provider call is made
// and nothing is re-verified. On success st carries the server name
// and its public address.
func (d *Driver) Create(ctx context.Context, st *state.Instance) error {
	if st.Provisioned() {
		logging.Logger().Info("server already provisioned, nothing to create",
			zap.String("server", st.ServerID))
		return nil
	}

	conn, err := d.connection(ctx)
	if err != nil {
		return err
	}

	name := d.cfg.InstName
	if name == "" {
		name = GenerateInstName(d.baseName())
	}

	zone := d.cfg.ZoneName
	if zone == "" {
		zone, err = SelectZone(d.cfg.Area, d.Rand)
		if err != nil {
			return err
		}
	}

	logging.Logger().Info("creating server",
		zap.String("name", name),
		zap.String("zone", zone),
		zap.String("machine_type", d.cfg.MachineType))

	var bootDisk string
	if d.cfg.ImageName != "" {
		disk, err := conn.CreateDisk(ctx, cloud.DiskSpec{
			Name:  name,
			Zone:  zone,
			Size:  d.cfg.DiskSize,
			Type:  d.cfg.DiskType,
			Image: d.cfg.ImageName,
		})
		if err != nil {
			return err
		}
		bootDisk = disk.ID

		logging.Logger().Debug("created boot disk",
			zap.String("disk", disk.Name),
			zap.String("zone", disk.Zone))
	}

	srv, err := conn.CreateServer(ctx, cloud.ServerSpec{
		Name:         name,
		Zone:         zone,
		MachineType:  d.cfg.MachineType,
		Network:      d.cfg.Network,
		Subnetwork:   d.cfg.Subnetwork,
		Image:        d.cfg.ImageName,
		Tags:         d.cfg.Tags,
		Metadata:     d.cfg.Metadata,
		Preemptible:  d.cfg.Preemptible,
		BootDisk:     bootDisk,
		DiskSize:     d.cfg.DiskSize,
		DiskType:     d.cfg.DiskType,
		Username:     d.cfg.Username,
		SSHPublicKey: d.cfg.SSHPublicKey,
	})
	if err != nil {
		return err
	}

	waiter := &Waiter{Conn: conn, Attempts: d.Attempts, Delay: d.Delay, Probe: d.Probe}
	if err := waiter.Wait(ctx, srv.ID, st); err != nil {
		return err
	}

	st.ServerID = srv.ID

	logging.Logger().Info("server created",
		zap.String("server", st.ServerID),
		zap.String("hostname", st.Hostname),
		zap.String("zone", srv.Zone))
	return nil
}

// Destroy deletes the recorded server. A record without a server is a
// no-op. The record is cleared only after the provider accepted the
// delete request; a server the provider no longer knows counts as
// already deleted.
func (d *Driver) Destroy(ctx context.Context, st *state.Instance) error {
	if !st.Provisioned() {
		logging.Logger().Info("no server recorded, nothing to destroy")
		return nil
	}

	conn, err := d.connection(ctx)
	if err != nil {
		return err
	}

	if err := conn.DeleteServer(ctx, st.ServerID); err != nil {
		if !errors.Is(err, cloud.ErrServerNotFound) {
			return err
		}
		logging.Logger().Warn("server already gone at provider",
			zap.String("server", st.ServerID))
	} else {
		logging.Logger().Info("server deletion accepted",
			zap.String("server", st.ServerID))
	}

	st.ServerID = ""
	st.Hostname = ""
	return nil
}

// connection lazily opens the provider connection and caches it for
// the driver's lifetime. Required credentials are checked here, before
// any network call.
func (d *Driver) connection(ctx context.Context) (cloud.Connection, error) {
	if d.conn != nil {
		return d.conn, nil
	}

	if d.cfg.Provider == config.ProviderGCE {
		required := []struct {
			field string
			value string
		}{
			{"google_client_email", d.cfg.GoogleClientEmail},
			{"google_key_location", d.cfg.GoogleKeyLocation},
			{"google_project", d.cfg.GoogleProject},
		}
		for _, r := range required {
			if r.value == "" {
				return nil, &ConfigurationError{Field: r.field, Reason: "is required"}
			}
		}
	}

	conn, err := d.Dial(ctx, d.cfg)
	if err != nil {
		return nil, err
	}
	d.conn = conn
	return conn, nil
}

func (d *Driver) baseName() string {
	if d.cfg.BaseName != "" {
		return d.cfg.BaseName
	}
	return "testkiln"
}
