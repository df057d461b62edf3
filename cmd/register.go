package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-harness/driver"
	"github.com/ethereum-optimism/infra/op-harness/multitest"
	"github.com/ethereum-optimism/infra/op-harness/registry"
)

// registerMultiTests wires the multitests this binary ships with. Embedders
// building their own harness binary add their registrations here (or link the
// packages that provide them).
func registerMultiTests(reg *registry.Registry) error {
	return reg.Register("harness_selfcheck", selfcheck)
}

// selfcheck is a built-in multitest that exercises the full pipeline against
// a trivial shell process. It is mainly useful for validating a deployment:
// plan loading, driver startup synchronization, extract capture and report
// output all run for real.
func selfcheck() *multitest.MultiTest {
	runpath := filepath.Join(os.TempDir(), "op-harness-selfcheck")
	echo, err := driver.NewCommand(driver.CommandConfig{
		Config: driver.Config{
			Name:          "echo",
			StdoutRegexps: []string{`selfcheck ready pid=(?P<pid>\d+)`},
			Timeout:       10 * time.Second,
		},
		Binary: "sh",
		Args:   []string{"-c", `echo "selfcheck ready pid=$$"; sleep 60`},
	}, log.Root(), runpath)
	if err != nil {
		// Config is static; a failure here is a programming error.
		panic(err)
	}

	return &multitest.MultiTest{
		Name:        "harness_selfcheck",
		Description: "End-to-end smoke check of the harness itself",
		Resources:   []driver.Resource{echo},
		Suites: []*multitest.Suite{{
			Name:    "selfcheck",
			Timeout: 30 * time.Second,
			Testcases: []multitest.Testcase{{
				Name:        "test_driver_extracts",
				Description: "The echo driver started and its pid was extracted",
				Run: func(_ context.Context, env *multitest.Env, t *multitest.Result) {
					res, err := env.Driver("echo")
					if err != nil {
						t.Error(err)
						return
					}
					d, ok := res.(*driver.Command)
					t.True(ok, "echo resource is a command driver")
					if !ok {
						return
					}
					pid := d.Extracts()["pid"]
					t.True(pid != "", "pid extracted from driver stdout")
					t.Log("driver pid: %s", pid)
				},
			}},
		}},
	}
}
