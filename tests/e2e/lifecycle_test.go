package e2e_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"testkiln/internal/cloud"
	"testkiln/internal/config"
	"testkiln/internal/driver"
	"testkiln/internal/fleet"
	"testkiln/internal/state"
)

// MockConnection is an in-memory provider: created servers get an
// address after a configurable number of status polls.
type MockConnection struct {
	mu           sync.Mutex
	servers      map[string]*cloud.Server
	disks        map[string]*cloud.Disk
	polls        map[string]int
	pollsToReady int
	nextIP       int
	calls        int
}

func NewMockConnection(pollsToReady int) *MockConnection {
	return &MockConnection{
		servers:      make(map[string]*cloud.Server),
		disks:        make(map[string]*cloud.Disk),
		polls:        make(map[string]int),
		pollsToReady: pollsToReady,
	}
}

func (m *MockConnection) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockConnection) ServerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.servers)
}

func (m *MockConnection) CreateDisk(_ context.Context, spec cloud.DiskSpec) (*cloud.Disk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	disk := &cloud.Disk{ID: spec.Name, Name: spec.Name, Zone: spec.Zone}
	m.disks[spec.Name] = disk
	return disk, nil
}

func (m *MockConnection) CreateServer(_ context.Context, spec cloud.ServerSpec) (*cloud.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	m.nextIP++
	srv := &cloud.Server{
		ID:     spec.Name,
		Name:   spec.Name,
		Zone:   spec.Zone,
		Status: "PROVISIONING",
		// Address withheld until the server has been polled enough
		Addresses: []string{fmt.Sprintf("203.0.113.%d", m.nextIP)},
	}
	m.servers[spec.Name] = srv
	return &cloud.Server{ID: srv.ID, Name: srv.Name, Zone: srv.Zone, Status: srv.Status}, nil
}

func (m *MockConnection) GetServer(_ context.Context, id string) (*cloud.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	srv, ok := m.servers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", cloud.ErrServerNotFound, id)
	}

	m.polls[id]++
	out := &cloud.Server{ID: srv.ID, Name: srv.Name, Zone: srv.Zone, Status: "STAGING"}
	if m.polls[id] >= m.pollsToReady {
		out.Status = "RUNNING"
		out.Addresses = srv.Addresses
	}
	return out, nil
}

func (m *MockConnection) DeleteServer(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if _, ok := m.servers[id]; !ok {
		return fmt.Errorf("%w: %s", cloud.ErrServerNotFound, id)
	}
	delete(m.servers, id)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Provider:          config.ProviderGCE,
		Area:              config.DefaultArea,
		BaseName:          "kiln-default",
		MachineType:       config.DefaultMachineType,
		Network:           config.DefaultNetwork,
		Username:          "chef",
		ImageName:         "debian-12",
		DiskSize:          config.DefaultDiskSize,
		DiskType:          config.DefaultDiskType,
		SSHPort:           config.DefaultSSHPort,
		WaitAttempts:      10,
		GoogleClientEmail: "robot@example.iam.gserviceaccount.com",
		GoogleKeyLocation: "/keys/robot.pem",
		GoogleProject:     "example-project",
	}
}

func testDriver(cfg *config.Config, conn *MockConnection) *driver.Driver {
	d := driver.New(cfg)
	d.Dial = func(context.Context, *config.Config) (cloud.Connection, error) {
		return conn, nil
	}
	d.Rand = rand.New(rand.NewSource(GinkgoRandomSeed()))
	d.Delay = 0
	d.Probe = func(context.Context, string) error { return nil }
	return d
}

var _ = Describe("Instance lifecycle", func() {
	var (
		ctx   context.Context
		conn  *MockConnection
		cfg   *config.Config
		store *state.FileStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		conn = NewMockConnection(2)
		cfg = testConfig()

		var err error
		store, err = state.NewFileStore(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
	})

	Context("create followed by destroy", func() {
		It("provisions, persists, and tears down through the state store", func() {
			st := &state.Instance{}
			Expect(testDriver(cfg, conn).Create(ctx, st)).To(Succeed())

			Expect(st.ServerID).To(HavePrefix("kiln-default-"))
			Expect(st.Hostname).To(MatchRegexp(`^\d+\.\d+\.\d+\.\d+$`))
			Expect(conn.ServerCount()).To(Equal(1))

			// Persist and reload, as the caller does between invocations
			Expect(store.Save(ctx, "default", st)).To(Succeed())
			loaded, err := store.Get(ctx, "default")
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.ServerID).To(Equal(st.ServerID))

			// Destroy through a fresh driver, as a later process would
			Expect(testDriver(cfg, conn).Destroy(ctx, loaded)).To(Succeed())
			Expect(loaded.ServerID).To(BeEmpty())
			Expect(loaded.Hostname).To(BeEmpty())
			Expect(conn.ServerCount()).To(BeZero())
		})
	})

	Context("idempotency", func() {
		It("does not touch the provider when the record is already provisioned", func() {
			st := &state.Instance{ServerID: "kiln-existing"}

			Expect(testDriver(cfg, conn).Create(ctx, st)).To(Succeed())
			Expect(conn.Calls()).To(BeZero())
		})

		It("does not touch the provider when there is nothing to destroy", func() {
			Expect(testDriver(cfg, conn).Destroy(ctx, &state.Instance{})).To(Succeed())
			Expect(conn.Calls()).To(BeZero())
		})
	})

	Context("readiness timeout", func() {
		It("reports the orphaned server and records nothing", func() {
			conn = NewMockConnection(100) // never ready within the bound
			d := testDriver(cfg, conn)
			d.Attempts = 3

			st := &state.Instance{}
			err := d.Create(ctx, st)

			var timeout *driver.ProvisioningTimeoutError
			Expect(errors.As(err, &timeout)).To(BeTrue())
			Expect(timeout.Server).To(HavePrefix("kiln-default-"))
			Expect(st.ServerID).To(BeEmpty())
			Expect(st.Hostname).To(BeEmpty())

			// The instance exists at the provider but was never recorded
			Expect(conn.ServerCount()).To(Equal(1))
		})
	})

	Context("fleet", func() {
		newFleet := func() *fleet.Fleet {
			f := fleet.New(cfg, store)
			f.NewDriver = func(c *config.Config) fleet.Provisioner {
				return testDriver(c, conn)
			}
			return f
		}

		It("brings a suite up and down", func() {
			suite := &fleet.Suite{Instances: []fleet.Entry{
				{Name: "smoke"},
				{Name: "integration", Area: "europe"},
			}}

			Expect(newFleet().Up(ctx, suite)).To(Succeed())
			Expect(conn.ServerCount()).To(Equal(2))

			records, err := store.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
			Expect(records["smoke"].ServerID).To(HavePrefix("smoke-"))
			Expect(records["integration"].ServerID).To(HavePrefix("integration-"))

			Expect(newFleet().Down(ctx)).To(Succeed())
			Expect(conn.ServerCount()).To(BeZero())

			records, err = store.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})

		It("leaves provisioned entries alone on a rerun", func() {
			suite := &fleet.Suite{Instances: []fleet.Entry{{Name: "smoke"}}}

			Expect(newFleet().Up(ctx, suite)).To(Succeed())
			created := conn.ServerCount()

			Expect(newFleet().Up(ctx, suite)).To(Succeed())
			Expect(conn.ServerCount()).To(Equal(created))
		})
	})
})
