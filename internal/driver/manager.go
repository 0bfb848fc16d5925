package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-drivers/internal/field"
	"github.com/nerrad567/gray-logic-drivers/internal/trigger"
)

// FieldObserver receives field changes from every instance.
type FieldObserver func(moniker string, ch field.Change)

// StateObserver receives lifecycle transitions from every instance.
type StateObserver func(moniker string, s State)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Repository persists configs. Optional.
	Repository ConfigRepository

	Triggers trigger.Emitter
	Logger   Logger

	// Opener overrides how ports are opened, mainly for tests.
	Opener OpenerFunc
}

// Manager owns every driver instance of the process.
type Manager struct {
	repo     ConfigRepository
	triggers trigger.Emitter
	logger   Logger
	opener   OpenerFunc

	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]*Instance
	stopped   bool

	obsMu          sync.RWMutex
	fieldObservers []FieldObserver
	stateObservers []StateObserver
}

// NewManager creates an empty manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Triggers == nil {
		opts.Triggers = trigger.Discard
	}
	return &Manager{
		repo:      opts.Repository,
		triggers:  opts.Triggers,
		logger:    opts.Logger,
		opener:    opts.Opener,
		factories: make(map[string]Factory),
		instances: make(map[string]*Instance),
	}
}

// RegisterKind makes a driver kind available.
func (m *Manager) RegisterKind(kind string, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[kind] = f
}

// Kinds lists the registered driver kinds.
func (m *Manager) Kinds() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kinds := make([]string, 0, len(m.factories))
	for k := range m.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// OnFieldChange registers an observer for field changes of all instances.
func (m *Manager) OnFieldChange(fn FieldObserver) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.fieldObservers = append(m.fieldObservers, fn)
}

// OnStateChange registers an observer for lifecycle transitions.
func (m *Manager) OnStateChange(fn StateObserver) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.stateObservers = append(m.stateObservers, fn)
}

// Add persists cfg and starts a new instance for it.
func (m *Manager) Add(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrTerminated
	}
	if _, exists := m.instances[cfg.Moniker]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateMoniker, cfg.Moniker)
	}
	factory, ok := m.factories[cfg.Kind]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownKind, cfg.Kind)
	}
	in, err := NewInstance(cfg, InstanceOptions{
		Factory:       factory,
		Opener:        m.opener,
		Triggers:      m.triggers,
		Logger:        m.logger,
		OnState:       m.notifyState,
		OnFieldChange: m.notifyField,
	})
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.instances[cfg.Moniker] = in
	m.mu.Unlock()

	if m.repo != nil {
		if err := m.repo.Save(ctx, cfg); err != nil {
			m.logger.Warn("config not persisted", "moniker", cfg.Moniker, "error", err)
		}
	}
	in.Start()
	m.logger.Info("driver instance added", "moniker", cfg.Moniker, "kind", cfg.Kind)
	return nil
}

// Remove stops an instance and deletes its stored config.
func (m *Manager) Remove(ctx context.Context, moniker string) error {
	m.mu.Lock()
	in, ok := m.instances[moniker]
	delete(m.instances, moniker)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, moniker)
	}
	in.Stop()
	if m.repo != nil {
		if err := m.repo.Delete(ctx, moniker); err != nil && !errors.Is(err, ErrConfigNotFound) {
			m.logger.Warn("stored config not deleted", "moniker", moniker, "error", err)
		}
	}
	m.logger.Info("driver instance removed", "moniker", moniker)
	return nil
}

// Reconfigure persists cfg and pushes it to the running instance.
func (m *Manager) Reconfigure(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	in, err := m.instance(cfg.Moniker)
	if err != nil {
		return err
	}
	if in.Config().Kind != cfg.Kind {
		// A kind change needs a different factory.
		if err := m.Remove(ctx, cfg.Moniker); err != nil {
			return err
		}
		return m.Add(ctx, cfg)
	}
	if m.repo != nil {
		if err := m.repo.Save(ctx, cfg); err != nil {
			m.logger.Warn("config not persisted", "moniker", cfg.Moniker, "error", err)
		}
	}
	return in.Reconfigure(ctx, cfg)
}

// Apply reconciles the running instances with cfgs: new monikers are added,
// changed ones reconfigured and missing ones removed.
func (m *Manager) Apply(ctx context.Context, cfgs []Config) error {
	want := make(map[string]Config, len(cfgs))
	for _, c := range cfgs {
		want[c.Moniker] = c
	}

	var errs []error
	for _, moniker := range m.Monikers() {
		if _, keep := want[moniker]; !keep {
			if err := m.Remove(ctx, moniker); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, c := range cfgs {
		in, err := m.instance(c.Moniker)
		switch {
		case err != nil:
			err = m.Add(ctx, c)
		case !in.Config().Equal(c):
			err = m.Reconfigure(ctx, c)
		default:
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Moniker, err))
		}
	}
	return errors.Join(errs...)
}

// LoadPersisted starts an instance for every stored config.
func (m *Manager) LoadPersisted(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	cfgs, listErr := m.repo.List(ctx)
	var errs []error
	if listErr != nil {
		errs = append(errs, listErr)
	}
	for _, c := range cfgs {
		if err := m.Add(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Moniker, err))
		}
	}
	return errors.Join(errs...)
}

// Monikers lists the instance names in order.
func (m *Manager) Monikers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.instances))
	for k := range m.instances {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Statuses returns the status of every instance ordered by moniker.
func (m *Manager) Statuses() []Status {
	var out []Status
	for _, moniker := range m.Monikers() {
		if in, err := m.instance(moniker); err == nil {
			out = append(out, in.Status())
		}
	}
	return out
}

// Status returns one instance's status.
func (m *Manager) Status(moniker string) (Status, error) {
	in, err := m.instance(moniker)
	if err != nil {
		return Status{}, err
	}
	return in.Status(), nil
}

// Read returns a field value.
func (m *Manager) Read(moniker, name string) (field.Value, error) {
	in, err := m.instance(moniker)
	if err != nil {
		return field.Value{}, err
	}
	return in.Read(name)
}

// Snapshot returns a field's definition, last value and validity.
func (m *Manager) Snapshot(moniker, name string) (field.Def, field.Value, field.State, error) {
	in, err := m.instance(moniker)
	if err != nil {
		return field.Def{}, field.Value{}, field.StateUnknown, err
	}
	reg := in.Fields()
	id, ok := reg.Lookup(name)
	if !ok {
		return field.Def{}, field.Value{}, field.StateUnknown, fmt.Errorf("%w: %s", field.ErrNotFound, name)
	}
	def, err := reg.Def(id)
	if err != nil {
		return field.Def{}, field.Value{}, field.StateUnknown, err
	}
	v, st, err := reg.Snapshot(id)
	return def, v, st, err
}

// Write writes a field value.
func (m *Manager) Write(ctx context.Context, moniker, name string, v field.Value) error {
	in, err := m.instance(moniker)
	if err != nil {
		return err
	}
	return in.Write(ctx, name, v)
}

// WriteText parses text according to the field's type and writes it.
func (m *Manager) WriteText(ctx context.Context, moniker, name, text string) error {
	in, err := m.instance(moniker)
	if err != nil {
		return err
	}
	id, ok := in.Fields().Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", field.ErrNotFound, name)
	}
	def, err := in.Fields().Def(id)
	if err != nil {
		return err
	}
	v, err := field.ParseValue(def.Type, text)
	if err != nil {
		return err
	}
	return in.WriteID(ctx, id, v)
}

// FieldDefs returns the field definitions of an instance.
func (m *Manager) FieldDefs(moniker string) ([]field.Def, error) {
	in, err := m.instance(moniker)
	if err != nil {
		return nil, err
	}
	return in.FieldDefs(), nil
}

// Command runs a backdoor command on an instance.
func (m *Manager) Command(ctx context.Context, moniker, cmd, arg string) (string, error) {
	in, err := m.instance(moniker)
	if err != nil {
		return "", err
	}
	return in.Command(ctx, cmd, arg)
}

// Stop terminates every instance. Stored configs are kept.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	all := make([]*Instance, 0, len(m.instances))
	for _, in := range m.instances {
		all = append(all, in)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, in := range all {
		wg.Add(1)
		go func(in *Instance) {
			defer wg.Done()
			in.Stop()
		}(in)
	}
	wg.Wait()
}

func (m *Manager) instance(moniker string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.instances[moniker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, moniker)
	}
	return in, nil
}

func (m *Manager) notifyField(moniker string, ch field.Change) {
	m.obsMu.RLock()
	obs := m.fieldObservers
	m.obsMu.RUnlock()
	for _, fn := range obs {
		fn(moniker, ch)
	}
}

func (m *Manager) notifyState(moniker string, s State) {
	m.obsMu.RLock()
	obs := m.stateObservers
	m.obsMu.RUnlock()
	for _, fn := range obs {
		fn(moniker, s)
	}
}
