package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunNowAppliesDueOperations(t *testing.T) {
	// GIVEN: A rate change scheduled for tomorrow
	// WHEN: The clock passes it and the scheduler runs
	// THEN: The rate change is applied and the run is recorded

	clock := fixedClock()
	s := newTestServer(t, clock)
	s.takeLoan(t)

	rec := s.batch(t, BatchRequestItem{
		SubLoanID: 1, Kind: "set_interest_rate_remuneratory", Timestamp: testNow + day, Rate: "0.02",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sched := NewProcessingScheduler(s.engine)
	sched.RunNow()
	_, res := sched.LastRun()
	assert.Empty(t, res.Events, "nothing due yet")

	clock.Advance(2 * 24 * time.Hour)
	sched.RunNow()

	ranAt, res := sched.LastRun()
	assert.False(t, ranAt.IsZero())
	assert.NotEmpty(t, res.Events)

	rec = s.do(t, http.MethodGet, "/api/subloans/1/operations", nil)
	ops := decode[[]OperationDTO](t, rec)
	require.Len(t, ops, 1)
	assert.Equal(t, "applied", ops[0].Status)
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestServer(t, fixedClock())

	sched := NewProcessingScheduler(s.engine)
	sched.CheckInterval = time.Hour
	sched.Start()
	sched.Start() // second start is a no-op
	sched.Stop()
	sched.Stop()

	disabled := NewProcessingScheduler(s.engine)
	disabled.Enabled = false
	disabled.Start()
	disabled.Stop()
}
