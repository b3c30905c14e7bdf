package driver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"testkiln/internal/cloud"
	"testkiln/internal/config"
	"testkiln/internal/state"
)

// fakeConn is a hand-rolled Connection double recording every call.
type fakeConn struct {
	calls   int
	disks   []cloud.DiskSpec
	servers []cloud.ServerSpec
	deleted []string

	createDiskErr   error
	createServerErr error
	deleteErr       error
	getErr          error

	// Successive GetServer responses; the last one repeats.
	getResponses []*cloud.Server
	gets         int
}

func (f *fakeConn) CreateDisk(_ context.Context, spec cloud.DiskSpec) (*cloud.Disk, error) {
	f.calls++
	if f.createDiskErr != nil {
		return nil, f.createDiskErr
	}
	f.disks = append(f.disks, spec)
	return &cloud.Disk{ID: spec.Name, Name: spec.Name, Zone: spec.Zone}, nil
}

func (f *fakeConn) CreateServer(_ context.Context, spec cloud.ServerSpec) (*cloud.Server, error) {
	f.calls++
	if f.createServerErr != nil {
		return nil, f.createServerErr
	}
	f.servers = append(f.servers, spec)
	return &cloud.Server{ID: spec.Name, Name: spec.Name, Zone: spec.Zone, Status: "PROVISIONING"}, nil
}

func (f *fakeConn) GetServer(_ context.Context, id string) (*cloud.Server, error) {
	f.calls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	i := f.gets
	if i >= len(f.getResponses) {
		i = len(f.getResponses) - 1
	}
	f.gets++
	srv := f.getResponses[i]
	srv.ID = id
	return srv, nil
}

func (f *fakeConn) DeleteServer(_ context.Context, id string) error {
	f.calls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Provider:          config.ProviderGCE,
		Area:              config.DefaultArea,
		BaseName:          "kiln-default",
		MachineType:       config.DefaultMachineType,
		Network:           config.DefaultNetwork,
		Tags:              []string{"kiln"},
		Username:          "chef",
		ImageName:         "debian-12",
		DiskSize:          config.DefaultDiskSize,
		DiskType:          config.DefaultDiskType,
		SSHPort:           config.DefaultSSHPort,
		WaitAttempts:      3,
		GoogleClientEmail: "robot@example.iam.gserviceaccount.com",
		GoogleKeyLocation: "/keys/robot.pem",
		GoogleProject:     "example-project",
	}
}

// testDriver wires a driver to the fake with zero poll delay and a
// probe that always accepts.
func testDriver(cfg *config.Config, conn *fakeConn) *Driver {
	d := New(cfg)
	d.Dial = func(context.Context, *config.Config) (cloud.Connection, error) {
		return conn, nil
	}
	d.Rand = rand.New(rand.NewSource(1))
	d.Delay = 0
	d.Probe = func(context.Context, string) error { return nil }
	return d
}

func reachable(addr string) *cloud.Server {
	return &cloud.Server{Status: "RUNNING", Addresses: []string{addr}}
}

func TestCreateAlreadyProvisioned(t *testing.T) {
	conn := &fakeConn{}
	d := testDriver(testConfig(), conn)

	st := &state.Instance{ServerID: "kiln-existing"}
	if err := d.Create(context.Background(), st); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if conn.calls != 0 {
		t.Errorf("Expected zero provider calls, got %d", conn.calls)
	}
	if st.ServerID != "kiln-existing" {
		t.Errorf("Expected state untouched, got %+v", st)
	}
}

func TestCreateSuccess(t *testing.T) {
	conn := &fakeConn{
		getResponses: []*cloud.Server{
			{Status: "PROVISIONING"},
			reachable("203.0.113.7"),
		},
	}
	d := testDriver(testConfig(), conn)

	st := &state.Instance{}
	if err := d.Create(context.Background(), st); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(conn.servers) != 1 {
		t.Fatalf("Expected one create server call, got %d", len(conn.servers))
	}
	spec := conn.servers[0]

	if st.ServerID != spec.Name {
		t.Errorf("Expected server ID %v, got %v", spec.Name, st.ServerID)
	}
	if st.Hostname != "203.0.113.7" {
		t.Errorf("Expected hostname 203.0.113.7, got %v", st.Hostname)
	}
	if !instNamePattern.MatchString(spec.Name) {
		t.Errorf("Expected generated name, got %v", spec.Name)
	}

	us := zoneSet([]string{"us-central1-a", "us-central1-b", "us-central2-a"})
	if !us[spec.Zone] {
		t.Errorf("Expected a us zone, got %v", spec.Zone)
	}

	if len(conn.disks) != 1 {
		t.Fatalf("Expected one create disk call, got %d", len(conn.disks))
	}
	if conn.disks[0].Name != spec.Name || conn.disks[0].Zone != spec.Zone {
		t.Errorf("Expected disk to share name and zone with server, got %+v", conn.disks[0])
	}
	if spec.BootDisk != conn.disks[0].Name {
		t.Errorf("Expected server to boot from created disk, got %v", spec.BootDisk)
	}
}

func TestCreateOverrides(t *testing.T) {
	cfg := testConfig()
	cfg.InstName = "kiln-fixed"
	cfg.ZoneName = "europe-west1-a"

	conn := &fakeConn{getResponses: []*cloud.Server{reachable("203.0.113.7")}}
	d := testDriver(cfg, conn)

	st := &state.Instance{}
	if err := d.Create(context.Background(), st); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	spec := conn.servers[0]
	if spec.Name != "kiln-fixed" {
		t.Errorf("Expected configured name, got %v", spec.Name)
	}
	if spec.Zone != "europe-west1-a" {
		t.Errorf("Expected configured zone, got %v", spec.Zone)
	}
	if st.ServerID != "kiln-fixed" {
		t.Errorf("Expected server ID kiln-fixed, got %v", st.ServerID)
	}
}

func TestCreateWithoutImageSkipsDisk(t *testing.T) {
	cfg := testConfig()
	cfg.ImageName = ""

	conn := &fakeConn{getResponses: []*cloud.Server{reachable("203.0.113.7")}}
	d := testDriver(cfg, conn)

	if err := d.Create(context.Background(), &state.Instance{}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(conn.disks) != 0 {
		t.Errorf("Expected no disk calls, got %d", len(conn.disks))
	}
	if conn.servers[0].BootDisk != "" {
		t.Errorf("Expected no boot disk reference, got %v", conn.servers[0].BootDisk)
	}
}

func TestCreatePropagatesProviderError(t *testing.T) {
	quota := errors.New("quota exceeded in zone")
	conn := &fakeConn{createServerErr: quota}
	d := testDriver(testConfig(), conn)

	st := &state.Instance{}
	if err := d.Create(context.Background(), st); !errors.Is(err, quota) {
		t.Errorf("Expected provider error unmodified, got %v", err)
	}
	if st.ServerID != "" || st.Hostname != "" {
		t.Errorf("Expected no state written, got %+v", st)
	}
}

func TestCreateTimeoutWritesNoState(t *testing.T) {
	// Server never gets an address
	conn := &fakeConn{getResponses: []*cloud.Server{{Status: "PROVISIONING"}}}
	d := testDriver(testConfig(), conn)
	d.Attempts = 2

	st := &state.Instance{}
	err := d.Create(context.Background(), st)

	var timeout *ProvisioningTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Expected ProvisioningTimeoutError, got %v", err)
	}
	if timeout.Server != conn.servers[0].Name {
		t.Errorf("Expected error to name the orphaned server, got %v", timeout.Server)
	}
	if timeout.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", timeout.Attempts)
	}
	if st.ServerID != "" || st.Hostname != "" {
		t.Errorf("Expected no partial state on timeout, got %+v", st)
	}
}

func TestDestroyNothingRecorded(t *testing.T) {
	conn := &fakeConn{}
	d := testDriver(testConfig(), conn)

	if err := d.Destroy(context.Background(), &state.Instance{}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if conn.calls != 0 {
		t.Errorf("Expected zero provider calls, got %d", conn.calls)
	}
}

func TestDestroyClearsState(t *testing.T) {
	conn := &fakeConn{}
	d := testDriver(testConfig(), conn)

	st := &state.Instance{ServerID: "kiln-doomed", Hostname: "203.0.113.7"}
	if err := d.Destroy(context.Background(), st); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(conn.deleted) != 1 || conn.deleted[0] != "kiln-doomed" {
		t.Errorf("Expected delete call for kiln-doomed, got %v", conn.deleted)
	}
	if st.ServerID != "" || st.Hostname != "" {
		t.Errorf("Expected cleared state, got %+v", st)
	}
}

func TestDestroyKeepsStateOnError(t *testing.T) {
	conn := &fakeConn{deleteErr: errors.New("permission denied")}
	d := testDriver(testConfig(), conn)

	st := &state.Instance{ServerID: "kiln-doomed", Hostname: "203.0.113.7"}
	if err := d.Destroy(context.Background(), st); err == nil {
		t.Fatal("Expected delete error to propagate")
	}

	if st.ServerID != "kiln-doomed" || st.Hostname != "203.0.113.7" {
		t.Errorf("Expected state untouched after failed delete, got %+v", st)
	}
}

func TestDestroyServerAlreadyGone(t *testing.T) {
	conn := &fakeConn{deleteErr: fmt.Errorf("%w: kiln-doomed", cloud.ErrServerNotFound)}
	d := testDriver(testConfig(), conn)

	st := &state.Instance{ServerID: "kiln-doomed", Hostname: "203.0.113.7"}
	if err := d.Destroy(context.Background(), st); err != nil {
		t.Fatalf("Expected missing server to count as deleted, got %v", err)
	}
	if st.ServerID != "" || st.Hostname != "" {
		t.Errorf("Expected cleared state, got %+v", st)
	}
}

func TestConnectionRequiresCredentials(t *testing.T) {
	fields := []struct {
		name  string
		strip func(*config.Config)
	}{
		{"google_client_email", func(c *config.Config) { c.GoogleClientEmail = "" }},
		{"google_key_location", func(c *config.Config) { c.GoogleKeyLocation = "" }},
		{"google_project", func(c *config.Config) { c.GoogleProject = "" }},
	}

	for _, f := range fields {
		cfg := testConfig()
		f.strip(cfg)

		d := New(cfg)
		dialed := false
		d.Dial = func(context.Context, *config.Config) (cloud.Connection, error) {
			dialed = true
			return &fakeConn{}, nil
		}

		_, err := d.connection(context.Background())
		var confErr *ConfigurationError
		if !errors.As(err, &confErr) {
			t.Errorf("Expected ConfigurationError without %s, got %v", f.name, err)
			continue
		}
		if confErr.Field != f.name {
			t.Errorf("Expected error naming %s, got %s", f.name, confErr.Field)
		}
		if dialed {
			t.Errorf("Expected no dial attempt without %s", f.name)
		}
	}
}

func TestConnectionCached(t *testing.T) {
	d := New(testConfig())
	dials := 0
	d.Dial = func(context.Context, *config.Config) (cloud.Connection, error) {
		dials++
		return &fakeConn{}, nil
	}

	for i := 0; i < 3; i++ {
		if _, err := d.connection(context.Background()); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}
	if dials != 1 {
		t.Errorf("Expected one dial, got %d", dials)
	}
}
