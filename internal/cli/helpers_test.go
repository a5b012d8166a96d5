package cli

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/zkfold/internal/config"
	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/pubsub"
	"github.com/roach88/zkfold/internal/testutil"
	"github.com/roach88/zkfold/internal/validate"
)

const alice = "0xalice"

// env is a node directory with a leveldb store, a registry snapshot that
// registers alice, and a config file pointing at both.
type env struct {
	dir    string
	config string
	cfg    config.Config
	key    *ecdsa.PrivateKey
	b      *testutil.Builder
	topics pubsub.Topics
}

func newEnv(t *testing.T, mutate ...func(*config.Config)) *env {
	t.Helper()
	dir := t.TempDir()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pub, err := validate.PublicKeyHex(key)
	require.NoError(t, err)

	snapshot := fmt.Sprintf(`users:
  - address: %s
    pubkey: "%s"
    joined_at: 2022-12-01T00:00:00Z
groups:
  - id: taz
    members: [idc-1, idc-2]
`, alice, pub)
	registryPath := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(registryPath, []byte(snapshot), 0o644))

	cfg := config.Default()
	cfg.Backend = config.BackendLevelDB
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Registry = registryPath
	cfg.SyncSchedule = ""
	for _, m := range mutate {
		m(&cfg)
	}
	path := filepath.Join(dir, "zkfold.yaml")
	require.NoError(t, config.Write(path, cfg, false))

	return &env{
		dir:    dir,
		config: path,
		cfg:    cfg,
		key:    key,
		b:      testutil.NewBuilder(),
		topics: pubsub.NewTopics(cfg.TopicPrefix),
	}
}

// run executes the CLI against the env's config.
func (e *env) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return execute(t, append([]string{"--config", e.config}, args...)...)
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (e *env) sign(t *testing.T, m message.Message) message.Proof {
	t.Helper()
	sig, err := validate.Sign(e.key, message.MustHash(m))
	require.NoError(t, err)
	return &message.SignatureProof{Signature: sig}
}

// seal wraps m as an envelope on the global topic.
func (e *env) seal(t *testing.T, m message.Message, proof message.Proof) pubsub.Envelope {
	t.Helper()
	env, err := pubsub.Seal(e.topics.Global(), m, proof, m.MessageHeader().CreatedAt)
	require.NoError(t, err)
	return env
}

// writeJSONL writes envs to a file under the env's directory.
func (e *env) writeJSONL(t *testing.T, name string, envs ...pubsub.Envelope) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, pubsub.WriteEnvelopes(&buf, envs))
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// jsonResponse is Response with Data left raw for per-test decoding.
type jsonResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *ResponseError  `json:"error"`
}

func decodeResponse(t *testing.T, out string, data any) jsonResponse {
	t.Helper()
	var resp jsonResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "stdout: %s", out)
	if data != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp
}
