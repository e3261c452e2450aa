package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	t.Run("proposal outcomes", func(t *testing.T) {
		before := testutil.ToFloat64(proposalConflict)
		ProposalConflict()
		assert.Equal(t, before+1, testutil.ToFloat64(proposalConflict))
	})

	t.Run("ack outcomes", func(t *testing.T) {
		okBefore := testutil.ToFloat64(ackOK)
		failedBefore := testutil.ToFloat64(ackFailed)
		ReportAck(true)
		ReportAck(false)
		ReportAck(false)
		assert.Equal(t, okBefore+1, testutil.ToFloat64(ackOK))
		assert.Equal(t, failedBefore+2, testutil.ToFloat64(ackFailed))
	})

	t.Run("power statuses are labelled", func(t *testing.T) {
		c := powerRequests.WithLabelValues("404")
		before := testutil.ToFloat64(c)
		ReportPowerRequest(404)
		assert.Equal(t, before+1, testutil.ToFloat64(c))
	})
}

func TestGauges(t *testing.T) {
	SetConnections(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(connections))

	SetSessions(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(sessions))
}

func TestLatencyDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() { ReportBroadcastLatency(15 * time.Millisecond) })
}
