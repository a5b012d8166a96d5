package pubsub

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zkfold/internal/testutil"
)

func startRelay(t *testing.T, opts ...RelayOption) (*Broker, string) {
	t.Helper()
	br := NewBroker(WithBrokerLogger(quietLogger()))
	opts = append([]RelayOption{WithRelayLogger(quietLogger())}, opts...)
	srv := httptest.NewServer(NewRelayHandler(br, opts...))
	t.Cleanup(func() {
		srv.Close()
		br.Close()
	})
	return br, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, opts ...RelayOption) *RelayClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	opts = append([]RelayOption{WithRelayLogger(quietLogger())}, opts...)
	c, err := DialRelay(ctx, url, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRelay_PublishSubscribeHistory(t *testing.T) {
	ctx := context.Background()
	br, url := startRelay(t, WithPublishRate(0, 0))
	alice := dial(t, url, WithPublishRate(0, 0))
	bob := dial(t, url)

	sub, err := bob.Subscribe(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, []string{"room"}, sub.Topics())

	b := testutil.NewBuilder()
	env := seal(t, "room", b.Post("alice", "hi bob"), testutil.Signed(), testutil.Epoch)
	require.NoError(t, alice.Publish(ctx, env))

	got := receive(t, sub)
	assert.Equal(t, env.Data, got.Data)
	assert.Equal(t, "room", got.Topic)

	hist, err := bob.History(ctx, "room", time.Time{})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, env.Data, hist[0].Data)

	local, err := br.History(ctx, "room", time.Time{})
	require.NoError(t, err)
	assert.Len(t, local, 1, "relay publishes land in the broker")

	later, err := bob.History(ctx, "room", testutil.Epoch.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, later)
}

func TestRelay_BrokerPublishReachesClient(t *testing.T) {
	ctx := context.Background()
	br, url := startRelay(t)
	c := dial(t, url)

	sub, err := c.Subscribe(ctx, "a", "b")
	require.NoError(t, err)

	b := testutil.NewBuilder()
	require.NoError(t, br.Publish(ctx, seal(t, "b", b.Post("userA", "x"), testutil.Signed(), testutil.Epoch)))
	assert.Equal(t, "b", receive(t, sub).Topic)
}

func TestRelay_ServerRateLimit(t *testing.T) {
	ctx := context.Background()
	_, url := startRelay(t, WithPublishRate(0.001, 1))
	c := dial(t, url, WithPublishRate(0, 0))

	env := Envelope{Topic: "a", Data: "00", Proof: []byte(`{}`)}
	require.NoError(t, c.Publish(ctx, env))

	err := c.Publish(ctx, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestRelay_UnknownOpAndClose(t *testing.T) {
	ctx := context.Background()
	_, url := startRelay(t)
	c := dial(t, url)

	_, err := c.call(ctx, frame{Op: "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown op")

	sub, err := c.Subscribe(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, c.Close())
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not shut down")
	}
	_, ok := <-sub.C
	assert.False(t, ok)
	assert.NoError(t, c.Err(), "clean close records no error")

	_, err = c.History(ctx, "a", time.Time{})
	assert.ErrorIs(t, err, ErrClosed)
}
