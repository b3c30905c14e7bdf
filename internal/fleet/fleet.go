package fleet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"testkiln/internal/config"
	"testkiln/internal/control"
	"testkiln/internal/driver"
	"testkiln/internal/logging"
	"testkiln/internal/state"
)

// Provisioner is the per-instance lifecycle the fleet drives;
// *driver.Driver implements it.
type Provisioner interface {
	Create(ctx context.Context, st *state.Instance) error
	Destroy(ctx context.Context, st *state.Instance) error
}

// Fleet provisions a suite of instances concurrently, one driver and
// one state record per entry.
type Fleet struct {
	cfg   *config.Config
	store state.Store

	// Overridable for tests.
	NewDriver     func(cfg *config.Config) Provisioner
	NewController func(cfg control.Config) (control.Controller, error)

	// PrivateKeyPath unlocks SSH setup on ready instances.
	PrivateKeyPath string
}

// New builds a fleet over the given store.
func New(cfg *config.Config, store state.Store) *Fleet {
	return &Fleet{
		cfg:   cfg,
		store: store,
		NewDriver: func(c *config.Config) Provisioner {
			return driver.New(c)
		},
		NewController: control.NewController,
	}
}

// Up provisions every suite entry, records it in the store, and runs
// the suite's setup steps on it. Entries already recorded as
// provisioned are left alone. Failures do not stop other entries;
// every error is reported.
func (f *Fleet) Up(ctx context.Context, suite *Suite) error {
	concurrency := suite.Concurrency
	if concurrency <= 0 {
		concurrency = len(suite.Instances)
	}

	logging.Logger().Info("bringing fleet up",
		zap.Int("instances", len(suite.Instances)),
		zap.Int("concurrency", concurrency))

	pool := pond.NewPool(concurrency)
	defer pool.StopAndWait()

	group := pool.NewGroup()
	for _, entry := range suite.Instances {
		group.SubmitErr(func() error {
			if err := f.upOne(ctx, suite, entry); err != nil {
				logging.Logger().Error("failed to bring instance up",
					zap.String("instance", entry.Name),
					zap.Error(err))
				return fmt.Errorf("instance %s: %w", entry.Name, err)
			}
			return nil
		})
	}

	return group.Wait()
}

func (f *Fleet) upOne(ctx context.Context, suite *Suite, entry Entry) error {
	st, err := f.store.Get(ctx, entry.Name)
	if errors.Is(err, state.ErrNotFound) {
		st = &state.Instance{}
	} else if err != nil {
		return err
	}

	drv := f.NewDriver(f.entryConfig(entry))
	if err := drv.Create(ctx, st); err != nil {
		return err
	}

	if err := f.store.Save(ctx, entry.Name, st); err != nil {
		return err
	}

	return f.setup(suite, st)
}

// Down destroys every instance the store knows about and removes its
// record. Destruction continues past individual failures.
func (f *Fleet) Down(ctx context.Context) error {
	instances, err := f.store.List(ctx)
	if err != nil {
		return err
	}

	logging.Logger().Info("tearing fleet down", zap.Int("instances", len(instances)))

	var errs []error
	for name, st := range instances {
		drv := f.NewDriver(f.entryConfig(Entry{Name: name}))
		if err := drv.Destroy(ctx, st); err != nil {
			errs = append(errs, fmt.Errorf("instance %s: %w", name, err))
			continue
		}
		if err := f.store.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("instance %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// entryConfig derives the per-instance configuration: a copy of the
// fleet config with the entry's overrides applied. The entry name
// seeds name generation so every instance stays attributable.
func (f *Fleet) entryConfig(entry Entry) *config.Config {
	cfg := *f.cfg
	cfg.BaseName = entry.Name
	cfg.InstName = ""

	if entry.MachineType != "" {
		cfg.MachineType = entry.MachineType
	}
	if entry.ZoneName != "" {
		cfg.ZoneName = entry.ZoneName
	}
	if entry.Area != "" {
		cfg.Area = entry.Area
	}
	if entry.ImageName != "" {
		cfg.ImageName = entry.ImageName
	}
	if len(entry.Tags) > 0 {
		cfg.Tags = entry.Tags
	}

	return &cfg
}

// setup pushes the suite's files and runs its setup commands over SSH.
func (f *Fleet) setup(suite *Suite, st *state.Instance) error {
	commands := append(append([]string{}, f.cfg.SetupCommands...), suite.Setup...)
	if len(commands) == 0 && len(suite.Files) == 0 {
		return nil
	}
	if f.PrivateKeyPath == "" {
		return fmt.Errorf("suite has setup steps but no SSH key is configured")
	}

	ctrl, err := f.NewController(control.Config{
		Host:           st.Hostname,
		Port:           f.cfg.SSHPort,
		User:           f.cfg.Username,
		PrivateKeyPath: f.PrivateKeyPath,
		SSHTimeout:     30 * time.Second,
		InstanceName:   st.ServerID,
	})
	if err != nil {
		return fmt.Errorf("failed to connect for setup: %w", err)
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			logging.Logger().Warn("failed to close controller",
				zap.String("instance", st.ServerID),
				zap.Error(err))
		}
	}()

	for _, push := range suite.Files {
		data, err := os.ReadFile(push.Source)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", push.Source, err)
		}
		if err := ctrl.WriteFile(push.Remote, string(data), 0644); err != nil {
			return err
		}
	}

	for _, cmd := range commands {
		if err := ctrl.Run(cmd); err != nil {
			return fmt.Errorf("setup command %q failed: %w", cmd, err)
		}
	}

	return nil
}
