package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/report"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name: "simple error",
			err:  errors.New("test error"),
		},
		{
			name: "error with special chars",
			err:  errors.New("test@error#123"),
		},
		{
			name: "error with multiple spaces",
			err:  errors.New("test   error"),
		},
		{
			name: "error with multiple underscores",
			err:  errors.New("test__error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errToLabel(tt.err)
			validLabelRegex := regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)
			if !validLabelRegex.MatchString(result) {
				t.Errorf("errLabel() = %v, is not a valid Prometheus label", result)
			}
		})
	}
}

func TestRecordError(t *testing.T) {
	// just test that it doesn't panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("RecordError panic'd")
		}
	}()

	RecordError("test_error")
}

func TestRecordErrorDetails(t *testing.T) {
	// Test with nil error
	RecordErrorDetails("test", nil)

	// Test with actual error
	RecordErrorDetails("test", errors.New("sample error"))
}

func TestRecordTaskTimeout(t *testing.T) {
	RecordTaskTimeout("plan1", "default")
	RecordTaskTimeout("plan1", "first")
}

func TestRecordDriverStart(t *testing.T) {
	RecordDriverStart("server", nil)
	RecordDriverStart("server", errors.New("bind failed"))
}

func TestRecordRun(t *testing.T) {
	RecordRun("plan1", "run1", "PASSED", report.Stats{Total: 2, Passed: 2}, time.Second)
	RecordRun("plan1", "run2", "ERROR", report.Stats{Total: 3, Passed: 1, Failed: 1, Errored: 1}, 2*time.Second)
}
