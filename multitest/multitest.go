// Package multitest models a runnable collection of test suites together
// with the driver environment they depend on, and executes it on a worker
// pool, aggregating outcomes into the report tree.
package multitest

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/driver"
)

// Param is one named parameter of a parametrized testcase instantiation.
// Order is significant: it is preserved in the generated testcase name.
type Param struct {
	Name  string
	Value any
}

// Testcase is one test function within a suite. When Parameters is set the
// testcase expands into one instantiation per parameter set, grouped under a
// synthetic parametrization node named after the base testcase.
type Testcase struct {
	Name        string
	Description string
	// Group selects the execution group, defaulting to the suite's.
	Group string
	// Timeout bounds the testcase body; zero falls back to the suite's.
	Timeout    time.Duration
	Parameters [][]Param
	Run        func(ctx context.Context, env *Env, t *Result)
}

// Suite is an ordered collection of testcases sharing setup expectations.
type Suite struct {
	Name        string
	Description string
	// Group and Timeout are the defaults for testcases that do not set
	// their own.
	Group     string
	Timeout   time.Duration
	Testcases []Testcase
}

// MultiTest is the schedulable top-level unit: a named set of suites plus
// the environment of drivers they run against.
type MultiTest struct {
	Name        string
	Description string
	Suites      []*Suite
	// Resources is the environment, in declaration order.
	Resources []driver.Resource
	// Group and Timeout are the defaults for suites that do not set their
	// own.
	Group   string
	Timeout time.Duration
}

// Validate checks the model is runnable: names present and unique per level.
func (m *MultiTest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("multitest requires a name")
	}
	suites := make(map[string]struct{}, len(m.Suites))
	for _, s := range m.Suites {
		if s.Name == "" {
			return fmt.Errorf("multitest %s: suite requires a name", m.Name)
		}
		if _, ok := suites[s.Name]; ok {
			return fmt.Errorf("multitest %s: duplicate suite %s", m.Name, s.Name)
		}
		suites[s.Name] = struct{}{}
		cases := make(map[string]struct{}, len(s.Testcases))
		for _, tc := range s.Testcases {
			if tc.Name == "" {
				return fmt.Errorf("suite %s: testcase requires a name", s.Name)
			}
			if _, ok := cases[tc.Name]; ok {
				return fmt.Errorf("suite %s: duplicate testcase %s", s.Name, tc.Name)
			}
			cases[tc.Name] = struct{}{}
			if tc.Run == nil {
				return fmt.Errorf("testcase %s has no body", tc.Name)
			}
		}
	}
	return nil
}

var paramTokenRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// InstanceName derives the deterministic name of one parametrized
// instantiation: the base name followed by "__<param>_<value>" per parameter
// in declared order. When any value does not render to a clean identifier
// token, the whole instantiation falls back to "<base>__<index>".
func InstanceName(base string, index int, params []Param) string {
	name := base
	for _, p := range params {
		value := fmt.Sprintf("%v", p.Value)
		if !paramTokenRe.MatchString(value) {
			return fmt.Sprintf("%s__%d", base, index)
		}
		name = fmt.Sprintf("%s__%s_%s", name, p.Name, value)
	}
	return name
}
