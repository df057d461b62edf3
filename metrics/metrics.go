package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-harness/report"
)

const (
	MetricsNamespace = "harness"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Effective status of each run",
	}, []string{
		"plan",
		"run_id",
		"status",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of each run",
	}, []string{
		"plan",
		"run_id",
	})

	testcasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "testcases_total",
		Help:      "Count of executed testcases by outcome",
	}, []string{
		"plan",
		"run_id",
		"outcome",
	})

	taskTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "task_timeouts_total",
		Help:      "Count of tasks force-finalized by their execution deadline",
	}, []string{
		"plan",
		"group",
	})

	driverStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "driver_starts_total",
		Help:      "Count of driver start attempts by result",
	}, []string{
		"driver",
		"result",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordTaskTimeout counts one deadline-enforced task finalization.
func RecordTaskTimeout(plan, group string) {
	if Debug {
		log.Debug("metric inc", "m", "task_timeouts_total", "plan", plan, "group", group)
	}
	taskTimeoutsTotal.WithLabelValues(plan, group).Inc()
}

// RecordDriverStart counts one driver start attempt.
func RecordDriverStart(driver string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	driverStartsTotal.WithLabelValues(driver, result).Inc()
}

// RecordRun emits the per-run summary metrics from the report's stats.
func RecordRun(plan, runID, status string, stats report.Stats, duration time.Duration) {
	runResults.WithLabelValues(plan, runID, status).Set(1)
	runDuration.WithLabelValues(plan, runID).Set(duration.Seconds())

	outcomes := map[string]int{
		"passed":   stats.Passed,
		"failed":   stats.Failed,
		"errored":  stats.Errored,
		"skipped":  stats.Skipped,
		"unstable": stats.Unstable,
	}
	for outcome, count := range outcomes {
		if count > 0 {
			testcasesTotal.WithLabelValues(plan, runID, outcome).Add(float64(count))
		}
	}
}
