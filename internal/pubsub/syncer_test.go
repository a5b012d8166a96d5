package pubsub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zkfold/internal/engine"
	"github.com/roach88/zkfold/internal/kv/leveldbkv"
	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/store"
	"github.com/roach88/zkfold/internal/testutil"
)

// validatorFunc adapts a function to validate.Validator.
type validatorFunc func(message.Message, message.Proof) (bool, error)

func (f validatorFunc) Validate(_ context.Context, m message.Message, p message.Proof) (bool, error) {
	return f(m, p)
}

var acceptAll = validatorFunc(func(message.Message, message.Proof) (bool, error) { return true, nil })

type node struct {
	engine *engine.Engine
	store  *store.Store
	broker *Broker
}

func newNode(t *testing.T) *node {
	t.Helper()
	s := store.New(leveldbkv.NewMem())
	e := engine.New(s, nil, engine.WithLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	br := NewBroker(WithBrokerLogger(quietLogger()))
	t.Cleanup(func() {
		cancel()
		<-done
		br.Close()
		s.Close()
	})
	return &node{engine: e, store: s, broker: br}
}

func (n *node) syncer(v validatorFunc, ids ...string) *Syncer {
	opts := []SyncOption{WithSyncLogger(quietLogger())}
	if len(ids) > 0 {
		opts = append(opts, WithIDGenerator(testutil.NewFixedIDGenerator(ids[0])))
	}
	return NewSyncer(n.broker, v, n.engine, n.store, opts...)
}

func (n *node) publish(t *testing.T, topic string, msg message.Message, at time.Time) {
	t.Helper()
	require.NoError(t, n.broker.Publish(context.Background(), seal(t, topic, msg, testutil.Signed(), at)))
}

func TestSyncer_SyncAllAdvancesCheckpoint(t *testing.T) {
	ctx := context.Background()
	n := newNode(t)
	sy := n.syncer(acceptAll, "run-1")
	global := sy.Topics().Global()
	t0 := testutil.Epoch

	b := testutil.NewBuilder()
	op := b.Post("userA", "hello")
	n.publish(t, global, op, t0)
	n.publish(t, global, b.Moderation("userB", message.ModerationLike, op), t0.Add(time.Second))

	res, err := sy.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, global, res.Topic)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 2, res.Inserted)
	assert.True(t, res.Newest.Equal(t0.Add(time.Second)))

	last, err := n.store.LastSync(ctx, store.ScopeGlobal, "")
	require.NoError(t, err)
	assert.True(t, last.Equal(t0.Add(time.Second)))

	meta, err := n.store.PostMeta(ctx, message.MustHash(op))
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Like)

	// The checkpoint is inclusive: the newest envelope is fetched again
	// and folds as already existing.
	n.publish(t, global, b.Post("userC", "later"), t0.Add(2*time.Second))
	res, err = sy.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Existing)
}

func TestSyncer_ScopedCheckpoints(t *testing.T) {
	ctx := context.Background()
	n := newNode(t)
	sy := n.syncer(acceptAll)
	topics := sy.Topics()
	t0 := testutil.Epoch

	b := testutil.NewBuilder()
	op := b.Post("userA", "thread root")
	hash := message.MustHash(op)
	dm := b.DirectChat("userA", "ka", "kb", "psst")

	n.publish(t, topics.User("userA"), op, t0)
	n.publish(t, topics.Thread(hash), b.Reply("userB", op, "reply"), t0.Add(time.Second))
	n.publish(t, topics.Chat("kb"), dm, t0.Add(2*time.Second))
	n.publish(t, topics.Group("taz"), b.Post("userD", "grouped"), t0.Add(3*time.Second))

	_, err := sy.SyncUser(ctx, "userA")
	require.NoError(t, err)
	_, err = sy.SyncThread(ctx, hash)
	require.NoError(t, err)
	_, err = sy.SyncChat(ctx, "kb")
	require.NoError(t, err)
	_, err = sy.SyncGroup(ctx, "taz")
	require.NoError(t, err)

	checks := []struct {
		scope store.Scope
		id    string
		want  time.Time
	}{
		{store.ScopeAddress, "userA", t0},
		{store.ScopeThread, string(hash), t0.Add(time.Second)},
		{store.ScopeECDH, "kb", t0.Add(2 * time.Second)},
		{store.ScopeGroup, "taz", t0.Add(3 * time.Second)},
	}
	for _, c := range checks {
		got, err := n.store.LastSync(ctx, c.scope, c.id)
		require.NoError(t, err)
		assert.True(t, got.Equal(c.want), "%s %s: got %s", c.scope, c.id, got)
	}

	meta, err := n.store.PostMeta(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Reply)

	metas, err := n.store.ChatsByECDH(ctx, "kb")
	require.NoError(t, err)
	assert.Len(t, metas, 1)
}

func TestSyncer_RejectedAndMalformed(t *testing.T) {
	ctx := context.Background()
	n := newNode(t)
	sy := n.syncer(validatorFunc(func(m message.Message, _ message.Proof) (bool, error) {
		return m.MessageHeader().Creator != "mallory", nil
	}))
	t0 := testutil.Epoch

	b := testutil.NewBuilder()
	good := b.Post("userA", "fine")
	bad := b.Post("mallory", "spam")
	envs := []Envelope{
		seal(t, "x", good, testutil.Signed(), t0),
		seal(t, "x", bad, testutil.Signed(), t0),
		{Topic: "x", Data: "not hex", Timestamp: t0.UnixMilli()},
	}

	res, err := sy.Ingest(ctx, envs)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 1, res.Malformed)

	has, err := n.store.HasMessage(ctx, message.MustHash(bad))
	require.NoError(t, err)
	assert.False(t, has, "rejected messages never reach the store")
}

func TestSyncer_ValidatorErrorStopsRun(t *testing.T) {
	ctx := context.Background()
	n := newNode(t)
	boom := errors.New("boom")
	sy := n.syncer(validatorFunc(func(message.Message, message.Proof) (bool, error) { return false, boom }))

	global := sy.Topics().Global()
	n.publish(t, global, testutil.NewBuilder().Post("userA", "x"), testutil.Epoch)

	_, err := sy.SyncAll(ctx)
	require.ErrorIs(t, err, boom)

	last, err := n.store.LastSync(ctx, store.ScopeGlobal, "")
	require.NoError(t, err)
	assert.True(t, last.IsZero(), "failed runs do not move the checkpoint")
}

func TestSyncer_DownloadHistoryOnce(t *testing.T) {
	ctx := context.Background()
	n := newNode(t)
	sy := n.syncer(acceptAll)

	n.publish(t, sy.Topics().User("userA"), testutil.NewBuilder().Post("userA", "x"), testutil.Epoch)

	res, ran, err := sy.DownloadHistory(ctx, HistoryScope{User: "userA"})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, res.Inserted)

	_, ran, err = sy.DownloadHistory(ctx, HistoryScope{User: "userA"})
	require.NoError(t, err)
	assert.False(t, ran, "second download is skipped")

	// A global download covers every scope afterwards.
	_, ran, err = sy.DownloadHistory(ctx, HistoryScope{})
	require.NoError(t, err)
	assert.True(t, ran)
	_, ran, err = sy.DownloadHistory(ctx, HistoryScope{Group: "taz"})
	require.NoError(t, err)
	assert.False(t, ran)

	_, _, err = sy.DownloadHistory(ctx, HistoryScope{User: "a", Group: "b"})
	assert.Error(t, err)
}

func TestSyncer_NoSource(t *testing.T) {
	n := newNode(t)
	sy := NewSyncer(nil, acceptAll, n.engine, n.store, WithSyncLogger(quietLogger()))
	_, err := sy.SyncAll(context.Background())
	assert.Error(t, err)
}

func TestSyncer_Live(t *testing.T) {
	n := newNode(t)
	sy := n.syncer(acceptAll)
	global := sy.Topics().Global()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := n.broker.Subscribe(ctx, global)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- sy.Live(ctx, sub) }()

	op := testutil.NewBuilder().Post("userA", "live")
	n.publish(t, global, op, testutil.Epoch)

	require.Eventually(t, func() bool {
		has, err := n.store.HasMessage(context.Background(), message.MustHash(op))
		return err == nil && has
	}, 2*time.Second, 10*time.Millisecond)

	sub.Close()
	select {
	case err := <-errc:
		assert.NoError(t, err, "closed subscription ends Live cleanly")
	case <-time.After(2 * time.Second):
		t.Fatal("Live did not return")
	}

	last, err := n.store.LastSync(context.Background(), store.ScopeGlobal, "")
	require.NoError(t, err)
	assert.True(t, last.IsZero(), "live envelopes do not move checkpoints")
}

func TestPublisher_RoutesAndFoldsLocally(t *testing.T) {
	ctx := context.Background()
	n := newNode(t)
	topics := NewTopics("")
	pub := NewPublisher(n.broker, acceptAll, n.engine, nil, topics)
	pub.now = func() time.Time { return testutil.Epoch }

	op := testutil.NewBuilder().Post("userA", "published")
	routes, err := pub.Publish(ctx, op, testutil.Signed())
	require.NoError(t, err)
	hash := message.MustHash(op)
	assert.Equal(t, []string{topics.Global(), topics.User("userA"), topics.Thread(hash)}, routes)

	for _, topic := range routes {
		hist, err := n.broker.History(ctx, topic, time.Time{})
		require.NoError(t, err)
		assert.Len(t, hist, 1, topic)
	}

	has, err := n.store.HasMessage(ctx, hash)
	require.NoError(t, err)
	assert.True(t, has)

	reject := NewPublisher(n.broker, validatorFunc(func(message.Message, message.Proof) (bool, error) { return false, nil }), n.engine, nil, topics)
	_, err = reject.Publish(ctx, testutil.NewBuilder().Post("userB", "nope"), testutil.Signed())
	assert.Error(t, err)
}
