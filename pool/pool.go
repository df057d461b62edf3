// Package pool executes tasks across named groups of workers. Each group has
// its own slot budget and FIFO queue, so slow groups cannot starve fast ones.
// Task timeouts are graceful: a timed-out task releases its worker slot
// immediately while the task body keeps running in the background until it
// returns on its own.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultGroup is where tasks without an explicit group run.
const DefaultGroup = "default"

// Task is a unit of work bound to an execution group.
type Task struct {
	// Name identifies the task in logs, traces and results.
	Name string
	// Group selects the worker group. Empty means DefaultGroup.
	Group string
	// Timeout bounds the task body once a worker picks it up. Zero means
	// no timeout. The clock starts at execution, not at scheduling.
	Timeout time.Duration
	// Run is the task body. On timeout its context is cancelled but the
	// body is not waited for; it must tolerate outliving its slot.
	Run func(ctx context.Context) error
	// OnAbandoned, if set, fires when a timed-out body eventually returns.
	OnAbandoned func(err error)
}

// Result records the outcome of one task.
type Result struct {
	TaskID   string
	Name     string
	Group    string
	Err      error
	TimedOut bool
	Duration time.Duration
}

// TimeoutError reports a task exceeding its execution deadline.
type TimeoutError struct {
	Task    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %s", e.Task, e.Timeout)
}

// UnknownGroupError reports a task scheduled into a group the pool was not
// configured with while implicit groups are disabled.
type UnknownGroupError struct {
	Group string
}

func (e *UnknownGroupError) Error() string {
	return fmt.Sprintf("unknown execution group %q", e.Group)
}

// GroupConfig sizes one named worker group.
type GroupConfig struct {
	Name  string `yaml:"name"`
	Slots int    `yaml:"slots"`
}

// Config configures a pool. Groups are resolved once, at construction.
type Config struct {
	Groups []GroupConfig `yaml:"groups,omitempty"`
	// AllowImplicitGroups lets Schedule create groups on first use with
	// DefaultSlots workers instead of rejecting them.
	AllowImplicitGroups bool `yaml:"allow_implicit_groups,omitempty"`
	// DefaultSlots sizes the default group and any implicit groups.
	// Defaults to 1.
	DefaultSlots int `yaml:"default_slots,omitempty"`
}

type group struct {
	name  string
	tasks chan *scheduled
	wg    sync.WaitGroup
}

type scheduled struct {
	task  Task
	id    string
	index int
}

// Pool runs tasks on grouped worker slots.
type Pool struct {
	logger log.Logger
	tracer trace.Tracer
	cfg    Config

	mu      sync.Mutex
	groups  map[string]*group
	results []Result
	next    int
	closed  bool
}

// New builds a pool with the configured groups plus the default group, and
// starts their workers.
func New(logger log.Logger, cfg Config) (*Pool, error) {
	if logger == nil {
		logger = log.New()
	}
	if cfg.DefaultSlots <= 0 {
		cfg.DefaultSlots = 1
	}
	p := &Pool{
		logger: logger.New("component", "pool"),
		tracer: otel.Tracer("op-harness/pool"),
		cfg:    cfg,
		groups: make(map[string]*group),
	}
	p.startGroup(DefaultGroup, cfg.DefaultSlots)
	for _, gc := range cfg.Groups {
		if gc.Name == "" {
			return nil, fmt.Errorf("execution group requires a name")
		}
		if gc.Slots <= 0 {
			return nil, fmt.Errorf("execution group %s requires a positive slot count", gc.Name)
		}
		if _, ok := p.groups[gc.Name]; ok {
			return nil, fmt.Errorf("duplicate execution group %s", gc.Name)
		}
		p.startGroup(gc.Name, gc.Slots)
	}
	return p, nil
}

func (p *Pool) startGroup(name string, slots int) *group {
	g := &group{
		name: name,
		// Deep queue so Schedule never blocks in practice; slots bound
		// actual parallelism.
		tasks: make(chan *scheduled, 1024),
	}
	p.groups[name] = g
	for i := 0; i < slots; i++ {
		g.wg.Add(1)
		go p.worker(g)
	}
	return g
}

// Schedule queues a task on its group. The returned ID identifies the task in
// results and traces. Scheduling after Wait returns an error.
func (p *Pool) Schedule(task Task) (string, error) {
	if task.Run == nil {
		return "", fmt.Errorf("task %s has no body", task.Name)
	}
	name := task.Group
	if name == "" {
		name = DefaultGroup
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", fmt.Errorf("pool is closed")
	}
	g, ok := p.groups[name]
	if !ok {
		if !p.cfg.AllowImplicitGroups {
			p.mu.Unlock()
			return "", &UnknownGroupError{Group: name}
		}
		g = p.startGroup(name, p.cfg.DefaultSlots)
	}
	s := &scheduled{task: task, id: uuid.New().String(), index: p.next}
	// Enqueue while holding the lock so Wait cannot close the intake channel
	// between the closed check and the send. The queue is deep enough that
	// this send never blocks.
	select {
	case g.tasks <- s:
	default:
		p.mu.Unlock()
		return "", fmt.Errorf("execution group %s queue is full", name)
	}
	p.next++
	p.results = append(p.results, Result{TaskID: s.id, Name: task.Name, Group: name})
	p.mu.Unlock()

	p.logger.Debug("Scheduled task", "task", task.Name, "group", name, "id", s.id)
	return s.id, nil
}

// Wait closes intake, waits for every worker slot to drain and returns the
// results in scheduling order. Abandoned task bodies are not waited for.
func (p *Pool) Wait() []Result {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, g := range p.groups {
			close(g.tasks)
		}
	}
	groups := make([]*group, 0, len(p.groups))
	for _, g := range p.groups {
		groups = append(groups, g)
	}
	p.mu.Unlock()

	for _, g := range groups {
		g.wg.Wait()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Result, len(p.results))
	copy(out, p.results)
	return out
}

func (p *Pool) worker(g *group) {
	defer g.wg.Done()
	for s := range g.tasks {
		p.execute(g, s)
	}
}

// execute runs one task under its deadline. The deadline clock starts here,
// when a slot is actually available, not at scheduling time.
func (p *Pool) execute(g *group, s *scheduled) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if s.task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.task.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	ctx, span := p.tracer.Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("task.id", s.id),
			attribute.String("task.name", s.task.Name),
			attribute.String("task.group", g.name),
		))

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("task %s panicked: %v", s.task.Name, r)
			}
		}()
		done <- s.task.Run(ctx)
	}()

	var res Result
	select {
	case err := <-done:
		cancel()
		res = Result{Err: err, Duration: time.Since(start)}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	case <-ctx.Done():
		cancel()
		res = Result{
			Err:      &TimeoutError{Task: s.task.Name, Timeout: s.task.Timeout},
			TimedOut: true,
			Duration: time.Since(start),
		}
		span.SetStatus(codes.Error, res.Err.Error())
		p.logger.Warn("Task timed out, releasing worker slot",
			"task", s.task.Name, "group", g.name, "timeout", s.task.Timeout)
		// The body keeps running; surface its eventual outcome if asked.
		if s.task.OnAbandoned != nil {
			go func(cb func(error)) {
				cb(<-done)
			}(s.task.OnAbandoned)
		}
	}
	span.End()

	p.mu.Lock()
	r := &p.results[s.index]
	r.Err = res.Err
	r.TimedOut = res.TimedOut
	r.Duration = res.Duration
	p.mu.Unlock()
}
