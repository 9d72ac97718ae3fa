package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordClassification(t *testing.T) {
	before := testutil.ToFloat64(Classifications.WithLabelValues("degraded"))

	RecordClassification(true, true)

	assert.Equal(t, before+1, testutil.ToFloat64(Classifications.WithLabelValues("degraded")))
}

func TestRecordDecision(t *testing.T) {
	before := testutil.ToFloat64(Decisions.WithLabelValues("approve", "error"))

	RecordDecision("approve", errors.New("store down"))

	assert.Equal(t, before+1, testutil.ToFloat64(Decisions.WithLabelValues("approve", "error")))
}
