package multitest

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-harness/driver"
	"github.com/ethereum-optimism/infra/op-harness/metrics"
)

// ResourceNotFoundError reports a testcase asking for a driver the
// environment does not contain.
type ResourceNotFoundError struct {
	Name string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("resource %q not found in environment", e.Name)
}

// asyncStarter is implemented by drivers whose start may overlap with the
// rest of the environment.
type asyncStarter interface {
	AsyncStart() bool
}

// Env is the set of drivers one multitest runs against. Resources keep their
// declaration order: they start in that order and stop in reverse.
type Env struct {
	logger    log.Logger
	resources []driver.Resource
	byName    map[string]driver.Resource
	started   []driver.Resource
}

// NewEnv builds an environment from the given resources. Names must be
// unique.
func NewEnv(logger log.Logger, resources ...driver.Resource) (*Env, error) {
	if logger == nil {
		logger = log.New()
	}
	e := &Env{
		logger:    logger.New("component", "env"),
		resources: resources,
		byName:    make(map[string]driver.Resource, len(resources)),
	}
	for _, r := range resources {
		if _, ok := e.byName[r.Name()]; ok {
			return nil, fmt.Errorf("duplicate resource name %q in environment", r.Name())
		}
		e.byName[r.Name()] = r
	}
	return e, nil
}

// Driver returns the named resource or a ResourceNotFoundError.
func (e *Env) Driver(name string) (driver.Resource, error) {
	r, ok := e.byName[name]
	if !ok {
		return nil, &ResourceNotFoundError{Name: name}
	}
	return r, nil
}

// Resources returns the resources in declaration order.
func (e *Env) Resources() []driver.Resource {
	return e.resources
}

// Start brings every resource up in declaration order. Resources flagged for
// async start are launched without waiting and joined once the rest of the
// environment is up. On any failure the already-started resources are torn
// down in reverse order and the first start error is returned.
func (e *Env) Start(ctx context.Context) error {
	type pending struct {
		resource driver.Resource
		done     chan error
	}
	var async []*pending

	fail := func(err error) error {
		e.logger.Error("Environment setup failed, tearing down", "err", err)
		// A resource must never see Stop while its Start is still in
		// flight: join every pending async start before teardown.
		for _, p := range async {
			if p.done == nil {
				continue
			}
			if startErr := <-p.done; startErr != nil {
				e.logger.Error("Async resource also failed to start",
					"resource", p.resource.Name(), "err", startErr)
			}
			p.done = nil
		}
		if stopErr := e.Stop(ctx); stopErr != nil {
			e.logger.Error("Teardown after failed setup also failed", "err", stopErr)
		}
		return err
	}

	for _, r := range e.resources {
		e.started = append(e.started, r)
		if a, ok := r.(asyncStarter); ok && a.AsyncStart() {
			p := &pending{resource: r, done: make(chan error, 1)}
			async = append(async, p)
			go func(r driver.Resource, done chan<- error) {
				err := r.Start(ctx)
				metrics.RecordDriverStart(r.Name(), err)
				done <- err
			}(r, p.done)
			continue
		}
		err := r.Start(ctx)
		metrics.RecordDriverStart(r.Name(), err)
		if err != nil {
			return fail(fmt.Errorf("starting resource %s: %w", r.Name(), err))
		}
	}
	for _, p := range async {
		err := <-p.done
		p.done = nil
		if err != nil {
			return fail(fmt.Errorf("starting resource %s: %w", p.resource.Name(), err))
		}
	}
	e.logger.Debug("Environment started", "resources", len(e.resources))
	return nil
}

// Stop tears the environment down in reverse declaration order, continuing
// past individual failures. Only resources that Start touched are stopped.
func (e *Env) Stop(ctx context.Context) error {
	var errs []error
	for i := len(e.started) - 1; i >= 0; i-- {
		r := e.started[i]
		if err := r.Stop(ctx); err != nil {
			e.logger.Error("Failed to stop resource", "resource", r.Name(), "err", err)
			errs = append(errs, fmt.Errorf("stopping resource %s: %w", r.Name(), err))
		}
	}
	e.started = nil
	return errors.Join(errs...)
}
