package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectors(t *testing.T) {
	SetPartitionCount(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(partitionCount))

	before := testutil.ToFloat64(transitions.WithLabelValues("Production", ResultApplied))
	IncTransition("Production", ResultApplied)
	assert.Equal(t, before+1, testutil.ToFloat64(transitions.WithLabelValues("Production", ResultApplied)))

	sel := testutil.ToFloat64(selectionFailures)
	IncSelectionFailure()
	assert.Equal(t, sel+1, testutil.ToFloat64(selectionFailures))

	pe := testutil.ToFloat64(partitionErrors.WithLabelValues("no_knee"))
	IncPartitionError("no_knee")
	assert.Equal(t, pe+1, testutil.ToFloat64(partitionErrors.WithLabelValues("no_knee")))

	ObserveCandidateFit(5 * time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(candidateFitDuration))
}
