package multitest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-harness/pool"
	"github.com/ethereum-optimism/infra/op-harness/report"
	"github.com/ethereum-optimism/infra/op-harness/status"
)

// Runner executes multitests on a shared worker pool and joins their results
// into one report tree. A Runner drives a single run and is not reusable.
type Runner struct {
	logger log.Logger
	pool   *pool.Pool
	report *report.Report

	// joined maps scheduled task IDs to where their finished node lives,
	// so timeout overrides land on whatever node is in the tree by then.
	joined map[string]joinPoint
	envs   []*Env
}

type joinPoint struct {
	parent *report.TestGroupReport
	name   string
}

// NewRunner creates a runner writing into the given report root.
func NewRunner(logger log.Logger, p *pool.Pool, rep *report.Report) *Runner {
	if logger == nil {
		logger = log.New()
	}
	return &Runner{
		logger: logger.New("component", "runner"),
		pool:   p,
		report: rep,
		joined: make(map[string]joinPoint),
	}
}

// Run executes the given multitests to completion. The report reflects every
// scheduled testcase's outcome; the returned error covers orchestration
// failures only (invalid models, environment setup/teardown), never plain
// test failures.
func (r *Runner) Run(ctx context.Context, tests ...*MultiTest) error {
	var errs []error
	for _, mt := range tests {
		if err := r.runOne(ctx, mt); err != nil {
			errs = append(errs, err)
		}
	}

	results := r.pool.Wait()
	r.applyOverrides(results)

	// Tear environments down in reverse of their start order.
	for i := len(r.envs) - 1; i >= 0; i-- {
		if err := r.envs[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// runOne appends the multitest's report skeleton, starts its environment and
// schedules every testcase instantiation.
func (r *Runner) runOne(ctx context.Context, mt *MultiTest) error {
	if err := mt.Validate(); err != nil {
		return err
	}
	group := report.NewTestGroupReport(mt.Name, report.CategoryMultiTest).
		WithDescription(mt.Description)
	r.report.Append(group)

	env, err := NewEnv(r.logger, mt.Resources...)
	if err != nil {
		group.StatusOverride = status.Error
		return err
	}
	if err := env.Start(ctx); err != nil {
		group.StatusOverride = status.Error
		node := report.NewTestCaseReport("environment_start")
		node.Status = status.Error
		node.Append(report.Entry{"type": "Error", "message": err.Error()})
		group.Append(node)
		r.logger.Error("Skipping suites, environment failed to start",
			"multitest", mt.Name, "err", err)
		return fmt.Errorf("multitest %s: %w", mt.Name, err)
	}
	r.envs = append(r.envs, env)

	for _, suite := range mt.Suites {
		suiteGroup := report.NewTestGroupReport(suite.Name, report.CategoryTestSuite).
			WithDescription(suite.Description)
		group.Append(suiteGroup)
		for i := range suite.Testcases {
			if err := r.scheduleTestcase(mt, suite, &suite.Testcases[i], suiteGroup, env); err != nil {
				return err
			}
		}
	}
	return nil
}

// scheduleTestcase expands parametrization and enqueues one task per
// instantiation, appending placeholders so report order follows declaration
// order regardless of completion order.
func (r *Runner) scheduleTestcase(mt *MultiTest, suite *Suite, tc *Testcase, parent *report.TestGroupReport, env *Env) error {
	execGroup := firstNonEmpty(tc.Group, suite.Group, mt.Group)
	timeout := firstDuration(tc.Timeout, suite.Timeout, mt.Timeout)

	if len(tc.Parameters) == 0 {
		return r.scheduleInstance(mt, suite, tc, parent, env, tc.Name, nil, execGroup, timeout)
	}
	paramGroup := report.NewTestGroupReport(tc.Name, report.CategoryParametrization).
		WithDescription(tc.Description)
	parent.Append(paramGroup)
	for i, params := range tc.Parameters {
		name := InstanceName(tc.Name, i, params)
		if err := r.scheduleInstance(mt, suite, tc, paramGroup, env, name, params, execGroup, timeout); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) scheduleInstance(mt *MultiTest, suite *Suite, tc *Testcase, parent *report.TestGroupReport, env *Env, name string, params []Param, execGroup string, timeout time.Duration) error {
	placeholder := report.NewTestCaseReport(name)
	placeholder.Description = tc.Description
	placeholder.Status = status.Unknown
	parent.Append(placeholder)

	taskName := fmt.Sprintf("%s/%s/%s", mt.Name, suite.Name, name)
	id, err := r.pool.Schedule(pool.Task{
		Name:    taskName,
		Group:   execGroup,
		Timeout: timeout,
		Run:     r.testcaseBody(tc, parent, env, name, params),
		OnAbandoned: func(err error) {
			r.logger.Debug("Abandoned testcase body returned",
				"task", taskName, "err", err)
		},
	})
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", taskName, err)
	}
	r.joined[id] = joinPoint{parent: parent, name: name}
	return nil
}

// testcaseBody builds the task closure. The body owns a private report node
// and merges it only on natural completion; a timed-out body leaves the
// placeholder in place for the override pass.
func (r *Runner) testcaseBody(tc *Testcase, parent *report.TestGroupReport, env *Env, name string, params []Param) func(ctx context.Context) error {
	return func(ctx context.Context) (err error) {
		node := report.NewTestCaseReport(name)
		node.Description = tc.Description
		res := newResult(node, params)

		start := time.Now()
		func() {
			defer func() {
				if p := recover(); p != nil {
					res.Error(fmt.Errorf("testcase panicked: %v", p))
				}
			}()
			tc.Run(ctx, env, res)
		}()
		node.Duration = time.Since(start)

		// Once the deadline fired the placeholder belongs to the override
		// pass; joining a late subtree would race with it.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		parent.Merge(node)
		return nil
	}
}

// applyOverrides force-finalizes timed-out testcases: whatever node sits at
// the join point gets an ERROR override and a timeout entry.
func (r *Runner) applyOverrides(results []pool.Result) {
	for _, result := range results {
		if !result.TimedOut {
			continue
		}
		jp, ok := r.joined[result.TaskID]
		if !ok {
			continue
		}
		node, ok := jp.parent.Find(jp.name).(*report.TestCaseReport)
		if !ok {
			continue
		}
		node.StatusOverride = status.Error
		node.Duration = result.Duration
		node.Append(report.Entry{
			"type":    "TaskTimeout",
			"message": result.Err.Error(),
		})
		r.logger.Warn("Testcase timed out", "task", result.Name, "duration", result.Duration)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstDuration(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
