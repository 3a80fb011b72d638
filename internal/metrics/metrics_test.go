package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mlbrnm/incidentgpt/internal/metrics"
	"github.com/mlbrnm/incidentgpt/pkg/service"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHub struct{ sent, dropped uint64 }

func (f fakeHub) Sent() uint64     { return f.sent }
func (f fakeHub) Dropped() uint64  { return f.dropped }
func (f fakeHub) Subscribers() int { return 2 }

var _ service.QueueObserver = (*metrics.Recorder)(nil)

func TestRecorder(t *testing.T) {
	r := metrics.NewRecorder()
	r.Enqueued()
	r.Enqueued()
	r.Deduplicated()
	r.Depth(3)
	r.JobDone(service.OutcomeSuccess, 2*time.Second)
	r.JobDone(service.OutcomeFailure, time.Second)
	r.JobDone(service.OutcomeSuccess, time.Second)
	r.WatchNotifier(fakeHub{sent: 7, dropped: 1})

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(body)

	assert.Contains(t, out, "opsassist_queue_enqueued_total 2")
	assert.Contains(t, out, "opsassist_queue_deduplicated_total 1")
	assert.Contains(t, out, "opsassist_queue_depth 3")
	assert.Contains(t, out, `opsassist_generation_jobs_total{outcome="success"} 2`)
	assert.Contains(t, out, `opsassist_generation_jobs_total{outcome="failure"} 1`)
	assert.Contains(t, out, "opsassist_generation_job_duration_seconds_count 3")
	assert.Contains(t, out, "opsassist_events_sent_total 7")
	assert.Contains(t, out, "opsassist_events_dropped_total 1")
	assert.Contains(t, out, "opsassist_event_subscribers 2")
	assert.Contains(t, out, "go_goroutines")
}

func TestRecordersAreIndependent(t *testing.T) {
	a := metrics.NewRecorder()
	b := metrics.NewRecorder()
	a.Enqueued()

	expected := `
# HELP opsassist_queue_enqueued_total Keys accepted by the generation queue
# TYPE opsassist_queue_enqueued_total counter
opsassist_queue_enqueued_total 0
`
	assert.NoError(t, testutil.GatherAndCompare(b.Registry(), strings.NewReader(expected), "opsassist_queue_enqueued_total"))

	problems, err := testutil.GatherAndLint(a.Registry(),
		"opsassist_queue_depth",
		"opsassist_queue_enqueued_total",
		"opsassist_queue_deduplicated_total",
		"opsassist_generation_jobs_total",
		"opsassist_generation_job_duration_seconds",
	)
	require.NoError(t, err)
	assert.Empty(t, problems)
}
