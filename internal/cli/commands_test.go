package cli

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zkfold/internal/config"
	"github.com/roach88/zkfold/internal/engine"
	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/pubsub"
	"github.com/roach88/zkfold/internal/registry"
)

func TestInit_WritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node", "zkfold.yaml")

	code, stdout, stderr := execute(t, "--config", path, "init", "--backend", "pebble", "--data-dir", "/srv/zkfold")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "Wrote "+path)

	cfg, err := config.Load(path, func(string) (string, bool) { return "", false })
	require.NoError(t, err)
	assert.Equal(t, config.BackendPebble, cfg.Backend)
	assert.Equal(t, "/srv/zkfold", cfg.DataDir)

	code, _, stderr = execute(t, "--config", path, "init")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "already exists")

	code, _, stderr = execute(t, "--config", path, "init", "--force")
	assert.Equal(t, ExitSuccess, code, stderr)
}

func TestInit_RejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zkfold.yaml")
	code, _, stderr := execute(t, "--config", path, "init", "--backend", "mongo")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "invalid backend")
	assert.NoFileExists(t, path)
}

func TestIngest_FoldsValidMessages(t *testing.T) {
	e := newEnv(t)

	post := e.b.Post(alice, "hello")
	like := e.b.Moderation(alice, message.ModerationLike, post)
	forged := e.b.Post(alice, "forged")
	stranger := e.b.Post("0xbob", "who am i")
	path := e.writeJSONL(t, "history.jsonl",
		e.seal(t, post, e.sign(t, post)),
		e.seal(t, like, e.sign(t, like)),
		e.seal(t, forged, &message.SignatureProof{Signature: "00"}),
		e.seal(t, stranger, e.sign(t, stranger)),
	)

	code, stdout, stderr := e.run(t, "--format", "json", "ingest", path)
	require.Equal(t, ExitSuccess, code, stderr)
	var res pubsub.SyncResult
	decodeResponse(t, stdout, &res)
	assert.Equal(t, 4, res.Fetched)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 2, res.Rejected)

	// The second pass folds nothing new.
	code, stdout, stderr = e.run(t, "ingest", path)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "ingest: 4 fetched, 0 inserted, 2 existing, 0 dropped, 2 rejected, 0 malformed")

	code, stdout, stderr = e.run(t, "--format", "json", "status")
	require.Equal(t, ExitSuccess, code, stderr)
	var st Status
	decodeResponse(t, stdout, &st)
	assert.Equal(t, "leveldb", st.Backend)
	assert.Equal(t, 2, st.Messages)
	assert.Equal(t, 1, st.ByType["POST"])
	assert.Equal(t, 1, st.ByType["MODERATION"])
	assert.Equal(t, 1, st.Users)
	assert.Equal(t, 1, st.Posts)
	require.Len(t, st.Checkpoints, 1)
	assert.True(t, st.Checkpoints[0].LastSync.IsZero(), "ingest does not move checkpoints")
}

func TestQueries_AfterIngest(t *testing.T) {
	e := newEnv(t)

	op := e.b.Post(alice, "root post")
	reply := e.b.Reply(alice, op, "first reply")
	like := e.b.Moderation(alice, message.ModerationLike, op)
	name := e.b.Profile(alice, message.ProfileName, "", "Alice")
	path := e.writeJSONL(t, "history.jsonl",
		e.seal(t, op, e.sign(t, op)),
		e.seal(t, reply, e.sign(t, reply)),
		e.seal(t, like, e.sign(t, like)),
		e.seal(t, name, e.sign(t, name)),
	)
	code, _, stderr := e.run(t, "ingest", path)
	require.Equal(t, ExitSuccess, code, stderr)

	opHash := message.MustHash(op)

	t.Run("timeline", func(t *testing.T) {
		code, stdout, stderr := e.run(t, "--format", "json", "timeline")
		require.Equal(t, ExitSuccess, code, stderr)
		var views []PostView
		decodeResponse(t, stdout, &views)
		require.Len(t, views, 1, "replies stay out of the global list")
		assert.Equal(t, opHash, views[0].Hash)
		assert.Equal(t, message.ID(op), views[0].MessageID)
		assert.Equal(t, 1, views[0].Meta.Reply)
		assert.Equal(t, 1, views[0].Meta.Like)
	})

	t.Run("timeline conflicting scopes", func(t *testing.T) {
		code, _, stderr := e.run(t, "timeline", "--user", alice, "--group", "taz")
		assert.Equal(t, ExitCommandError, code)
		assert.Contains(t, stderr, "mutually exclusive")
	})

	t.Run("user timeline", func(t *testing.T) {
		code, stdout, stderr := e.run(t, "--format", "json", "timeline", "--user", alice)
		require.Equal(t, ExitSuccess, code, stderr)
		var views []PostView
		decodeResponse(t, stdout, &views)
		require.Len(t, views, 1, "replies are not user posts")
		assert.Equal(t, opHash, views[0].Hash)
	})

	t.Run("thread", func(t *testing.T) {
		code, stdout, stderr := e.run(t, "--format", "json", "thread", message.ID(op))
		require.Equal(t, ExitSuccess, code, stderr)
		var th Thread
		decodeResponse(t, stdout, &th)
		assert.Equal(t, opHash, th.Post.Hash)
		require.Len(t, th.Replies, 1)
		assert.Equal(t, "first reply", th.Replies[0].Content)
		assert.Equal(t, message.ID(op), th.Replies[0].Reference)
	})

	t.Run("thread not found", func(t *testing.T) {
		code, _, stderr := e.run(t, "thread", "deadbeef")
		assert.Equal(t, ExitFailure, code)
		assert.Contains(t, stderr, "not found")
	})

	t.Run("whois", func(t *testing.T) {
		code, stdout, stderr := e.run(t, "--format", "json", "whois", alice)
		require.Equal(t, ExitSuccess, code, stderr)
		var who Whois
		decodeResponse(t, stdout, &who)
		require.NotNil(t, who.User)
		assert.Equal(t, alice, who.User.Address)
		assert.Equal(t, "Alice", who.Meta.Nickname)
		assert.Equal(t, 1, who.Meta.Posts)

		code, stdout, stderr = e.run(t, "whois", alice)
		require.Equal(t, ExitSuccess, code, stderr)
		assert.Contains(t, stdout, "name:      Alice")
	})

	t.Run("members", func(t *testing.T) {
		code, stdout, stderr := e.run(t, "--format", "json", "members", "taz")
		require.Equal(t, ExitSuccess, code, stderr)
		var m Members
		decodeResponse(t, stdout, &m)
		require.Len(t, m.Members, 2)
		assert.Equal(t, "idc-1", m.Members[0].IDCommitment)
		assert.Equal(t, m.Members[1].NewRoot, m.Root)
	})

	t.Run("chats empty", func(t *testing.T) {
		code, stdout, stderr := e.run(t, "chats", "ecdh-x")
		require.Equal(t, ExitSuccess, code, stderr)
		assert.Contains(t, stdout, "No chats.")
	})

	t.Run("rebuild keeps counters", func(t *testing.T) {
		code, stdout, stderr := e.run(t, "--format", "json", "rebuild")
		require.Equal(t, ExitSuccess, code, stderr)
		var res engine.RebuildResult
		decodeResponse(t, stdout, &res)
		assert.Equal(t, 4, res.Applied)

		code, stdout, stderr = e.run(t, "--format", "json", "timeline")
		require.Equal(t, ExitSuccess, code, stderr)
		var views []PostView
		decodeResponse(t, stdout, &views)
		require.Len(t, views, 1)
		assert.Equal(t, 1, views[0].Meta.Reply)
		assert.Equal(t, 1, views[0].Meta.Like)
	})
}

func TestUsers_ImportAndList(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.Registry = "" })

	snap := filepath.Join(e.dir, "more.yaml")
	require.NoError(t, os.WriteFile(snap, []byte(`users:
  - address: 0xcarol
    pubkey: "04ab"
    joined_at: 2023-02-01T00:00:00Z
groups:
  - id: taz
    members: [idc-9]
`), 0o644))

	code, stdout, stderr := e.run(t, "--format", "json", "users", "import", snap)
	require.Equal(t, ExitSuccess, code, stderr)
	var res registry.ImportResult
	decodeResponse(t, stdout, &res)
	assert.Equal(t, 1, res.UsersCreated)
	assert.Equal(t, 1, res.MembersAdded)

	code, stdout, stderr = e.run(t, "users", "import", snap)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "Users: 1 seen, 0 created")
	assert.Contains(t, stdout, "Members: 0 added, 1 skipped")

	code, stdout, stderr = e.run(t, "users", "list")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "0xcarol")
	assert.Contains(t, stdout, "snapshot")
}

func TestRunOnce_SyncsHistoryFiles(t *testing.T) {
	e := newEnv(t)
	post := e.b.Post(alice, "from history")
	path := e.writeJSONL(t, "history.jsonl", e.seal(t, post, e.sign(t, post)))
	require.NoError(t, config.Write(e.config, withHistory(e.cfg, path), true))

	code, stdout, stderr := e.run(t, "--format", "json", "run", "--once")
	require.Equal(t, ExitSuccess, code, stderr)
	var report SyncReport
	decodeResponse(t, stdout, &report)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Runs, 1)
	assert.Equal(t, e.topics.Global(), report.Runs[0].Topic)
	assert.Equal(t, 1, report.Runs[0].Inserted)

	code, stdout, stderr = e.run(t, "--format", "json", "status")
	require.Equal(t, ExitSuccess, code, stderr)
	var st Status
	decodeResponse(t, stdout, &st)
	assert.Equal(t, 1, st.Posts)
	require.NotEmpty(t, st.Checkpoints)
	assert.True(t, st.Checkpoints[0].LastSync.Equal(post.CreatedAt))
}

func withHistory(cfg config.Config, paths ...string) config.Config {
	cfg.History = paths
	return cfg
}

func TestRunOnce_MissingHistoryFile(t *testing.T) {
	e := newEnv(t, func(c *config.Config) {
		c.History = []string{"/nonexistent/history.jsonl"}
	})
	code, _, stderr := e.run(t, "run", "--once")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "failed to read history")
}

func TestPublish_SendsToRelay(t *testing.T) {
	broker := pubsub.NewBroker()
	srv := httptest.NewServer(pubsub.NewRelayHandler(broker))
	t.Cleanup(func() {
		srv.Close()
		broker.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	e := newEnv(t, func(c *config.Config) { c.RelayURL = url })
	post := e.b.Post(alice, "outgoing")
	path := e.writeJSONL(t, "outbox.jsonl", e.seal(t, post, e.sign(t, post)))

	code, stdout, stderr := e.run(t, "--format", "json", "publish", path)
	require.Equal(t, ExitSuccess, code, stderr)
	var res PublishResult
	decodeResponse(t, stdout, &res)
	require.Len(t, res.Published, 1)
	assert.Equal(t, message.ID(post), res.Published[0].MessageID)
	assert.Contains(t, res.Published[0].Topics, e.topics.Global())
	assert.Contains(t, res.Published[0].Topics, e.topics.User(alice))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hist, err := broker.History(ctx, e.topics.Global(), time.Time{})
	require.NoError(t, err)
	require.Len(t, hist, 1)

	// The message was folded locally too.
	code, stdout, stderr = e.run(t, "--format", "json", "timeline")
	require.Equal(t, ExitSuccess, code, stderr)
	var views []PostView
	decodeResponse(t, stdout, &views)
	require.Len(t, views, 1)
	assert.Equal(t, "outgoing", views[0].Content)
}

func TestPublish_RejectsInvalidMessage(t *testing.T) {
	broker := pubsub.NewBroker()
	srv := httptest.NewServer(pubsub.NewRelayHandler(broker))
	t.Cleanup(func() {
		srv.Close()
		broker.Close()
	})

	e := newEnv(t, func(c *config.Config) { c.RelayURL = "ws" + strings.TrimPrefix(srv.URL, "http") })
	post := e.b.Post(alice, "unsigned")
	path := e.writeJSONL(t, "outbox.jsonl", e.seal(t, post, &message.SignatureProof{Signature: "00"}))

	code, _, stderr := e.run(t, "publish", path)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "failed validation")

	hist, err := broker.History(context.Background(), e.topics.Global(), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestPublish_NeedsRelayURL(t *testing.T) {
	e := newEnv(t)
	code, _, stderr := e.run(t, "publish", filepath.Join(e.dir, "outbox.jsonl"))
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "publish needs relay_url")
}

func TestScenario_HarnessTestdata(t *testing.T) {
	code, stdout, stderr := execute(t, "scenario", "../harness/testdata/scenarios",
		"--golden", "../harness/testdata/golden")
	require.Equal(t, ExitSuccess, code, stdout+stderr)
	assert.Contains(t, stdout, "PASS thread_counters")
	assert.Contains(t, stdout, "PASS groups_and_profiles")
	assert.Contains(t, stdout, "Summary: 2 passed, 0 failed, 2 total")
}

func TestScenario_Filter(t *testing.T) {
	code, stdout, stderr := execute(t, "--format", "json", "scenario", "../harness/testdata/scenarios",
		"--filter", "thread_*")
	require.Equal(t, ExitSuccess, code, stderr)
	var report ScenarioReport
	resp := decodeResponse(t, stdout, &report)
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, report.Scenarios, 1)
	assert.Equal(t, "thread_counters", report.Scenarios[0].Name)
}

func TestScenario_FailureReportedOnce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(`name: broken
description: expects a like that never happens
steps:
  - label: p1
    type: POST
    creator: "0xalice"
    payload:
      content: hello
assertions:
  - type: post_meta
    target: p1
    expect:
      like: 1
`), 0o644))

	code, stdout, _ := execute(t, "--format", "json", "scenario", dir)
	assert.Equal(t, ExitFailure, code)

	// One JSON document carrying both the report and the error.
	assert.Equal(t, 1, strings.Count(strings.TrimSpace(stdout), "\n")+1)
	var report ScenarioReport
	resp := decodeResponse(t, stdout, &report)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "1 scenario(s) failed", resp.Error.Message)
	require.Len(t, report.Scenarios, 1)
	assert.False(t, report.Scenarios[0].Pass)
	assert.NotEmpty(t, report.Scenarios[0].Errors)
}

func TestScenario_UpdateNeedsGolden(t *testing.T) {
	code, _, stderr := execute(t, "scenario", t.TempDir(), "--update")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "--update needs --golden")
}
