package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zkfold/internal/engine"
	"github.com/roach88/zkfold/internal/kv/leveldbkv"
	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/pubsub"
	"github.com/roach88/zkfold/internal/store"
	"github.com/roach88/zkfold/internal/testutil"
)

func TestMetrics_ObservesEngine(t *testing.T) {
	ctx := context.Background()
	m := New()
	s := store.New(leveldbkv.NewMem())
	defer s.Close()
	e := engine.New(s, nil, engine.WithObserver(m))

	b := testutil.NewBuilder()
	post := b.Post("userA", "hello")
	for _, msg := range []message.Message{post, post, b.Revert("userA", post)} {
		_, err := e.InsertMessage(ctx, msg, testutil.Signed())
		require.NoError(t, err)
	}
	_, err := e.InsertMessage(ctx, nil, testutil.Signed())
	require.NoError(t, err)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.messages.WithLabelValues("inserted", "POST")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.messages.WithLabelValues("already_existed", "POST")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.messages.WithLabelValues("inserted", "REVERT")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.reverts.WithLabelValues("POST")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.dropped.WithLabelValues("missing message")))
}

func TestMetrics_ObserveSync(t *testing.T) {
	m := New()
	newest := time.Unix(1700000000, 0)
	m.ObserveSync(pubsub.SyncResult{Topic: "t", Inserted: 2, Rejected: 1, Newest: newest}, nil)
	m.ObserveSync(pubsub.SyncResult{Topic: "t", Malformed: 1}, io.ErrUnexpectedEOF)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.syncRuns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.syncRuns.WithLabelValues("error")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.envelopes.WithLabelValues("inserted")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.envelopes.WithLabelValues("malformed")))
	assert.Equal(t, float64(newest.Unix()), promtest.ToFloat64(m.lastSync.WithLabelValues("t")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.OnDropped(nil, "unknown message variant")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `zkfold_dropped_total{reason="unknown message variant"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
