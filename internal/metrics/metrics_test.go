package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGetIsSingleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}

func TestCounters(t *testing.T) {
	m := Get()
	before := testutil.ToFloat64(m.ImportsTotal.WithLabelValues(OutcomeSkipped))
	m.ImportsTotal.WithLabelValues(OutcomeSkipped).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(m.ImportsTotal.WithLabelValues(OutcomeSkipped)))
}

func TestResult(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Result(nil))
	assert.Equal(t, OutcomeFailure, Result(errors.New("x")))
}
