package pubsub

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/testutil"
)

func seal(t *testing.T, topic string, msg message.Message, proof message.Proof, at time.Time) Envelope {
	t.Helper()
	env, err := Seal(topic, msg, proof, at)
	require.NoError(t, err)
	return env
}

func TestEnvelope_SealOpen(t *testing.T) {
	b := testutil.NewBuilder()
	post := b.Post("userA", "hello")

	env := seal(t, "t", post, testutil.Signed(), testutil.Epoch)
	assert.Equal(t, testutil.Epoch.UnixMilli(), env.Timestamp)
	assert.True(t, testutil.Epoch.Equal(env.Time()))

	msg, proof, err := env.Open()
	require.NoError(t, err)
	assert.Equal(t, message.MustHash(post), message.MustHash(msg))
	assert.Equal(t, testutil.Signed(), proof)
}

func TestEnvelope_OpenRejects(t *testing.T) {
	b := testutil.NewBuilder()
	good := seal(t, "t", b.Post("userA", "hello"), testutil.Signed(), testutil.Epoch)

	raw, err := hex.DecodeString(good.Data)
	require.NoError(t, err)
	spaced := append([]byte(" "), raw...)

	tests := []struct {
		name string
		env  Envelope
	}{
		{"bad hex", Envelope{Data: "zz", Proof: good.Proof}},
		{"non-canonical bytes", Envelope{Data: hex.EncodeToString(spaced), Proof: good.Proof}},
		{"missing proof", Envelope{Data: good.Data}},
		{"unknown proof", Envelope{Data: good.Data, Proof: []byte(`{"type":"magic"}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.env.Open()
			assert.Error(t, err)
		})
	}
}

func TestReadEnvelopes(t *testing.T) {
	b := testutil.NewBuilder()
	envs := []Envelope{
		seal(t, "a", b.Post("userA", "one"), testutil.Signed(), testutil.Epoch),
		seal(t, "b", b.Post("userB", "two"), testutil.Signed(), testutil.Epoch.Add(time.Second)),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteEnvelopes(&buf, envs))
	buf.WriteString("\n   \n")

	got, err := ReadEnvelopes(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, envs[0].Data, got[0].Data)
	assert.Equal(t, "b", got[1].Topic)
}

func TestReadEnvelopes_BadLine(t *testing.T) {
	_, err := ReadEnvelopes(bytes.NewBufferString("{}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestFileHistory(t *testing.T) {
	ctx := context.Background()
	b := testutil.NewBuilder()
	t0 := testutil.Epoch

	late := seal(t, "a", b.Post("userA", "late"), testutil.Signed(), t0.Add(2*time.Second))
	early := seal(t, "a", b.Post("userA", "early"), testutil.Signed(), t0)
	other := seal(t, "b", b.Post("userB", "other"), testutil.Signed(), t0.Add(time.Second))

	dir := t.TempDir()
	write := func(name string, envs ...Envelope) string {
		var buf bytes.Buffer
		require.NoError(t, WriteEnvelopes(&buf, envs))
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
		return path
	}
	h, err := LoadHistory(write("one.jsonl", late, other), write("two.jsonl", early))
	require.NoError(t, err)

	all, err := h.History(ctx, "a", time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, early.Data, all[0].Data, "ordered by timestamp")
	assert.Equal(t, late.Data, all[1].Data)

	since, err := h.History(ctx, "a", t0.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, since, 1, "since is inclusive")
	assert.Equal(t, late.Data, since[0].Data)

	assert.Len(t, h.All(), 3)

	_, err = LoadHistory(filepath.Join(dir, "missing.jsonl"))
	assert.Error(t, err)
}
