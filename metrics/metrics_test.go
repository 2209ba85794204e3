package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetPartitionStateIsExclusive(t *testing.T) {
	SetPartitionState("p1", "running")
	SetPartitionState("p1", "degraded")

	assert.Equal(t, 1.0, testutil.ToFloat64(PartitionState.WithLabelValues("p1", "degraded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(PartitionState.WithLabelValues("p1", "running")))
}

func TestRecordItemsIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(ItemsTotal.WithLabelValues("p2", "fetched"))
	RecordItems("p2", "fetched", 0)
	RecordItems("p2", "fetched", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(ItemsTotal.WithLabelValues("p2", "fetched")))
}
