package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/zkfold/internal/canon"
	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/store"
)

// snapshot captures the scenario's trace and the resulting global post
// list with each post's counters. Messages are named by label, never by
// hash, so goldens survive changes to the hash encoding.
func snapshot(ctx context.Context, name string, result *Result, actx *AssertionContext) (canon.Object, error) {
	trace := make(canon.Array, len(result.Trace))
	for i, e := range result.Trace {
		ev := canon.Object{
			"step":    canon.Int(e.Step),
			"type":    canon.String(e.Type),
			"outcome": canon.String(e.Outcome),
		}
		if e.Label != "" {
			ev["label"] = canon.String(e.Label)
		}
		if e.Subtype != "" {
			ev["subtype"] = canon.String(e.Subtype)
		}
		trace[i] = ev
	}

	posts, err := actx.Store.Posts(ctx, 0, "")
	if err != nil {
		return nil, err
	}
	postlist := make(canon.Array, len(posts))
	meta := canon.Object{}
	for i, p := range posts {
		hash := message.MustHash(p)
		label := actx.label(hash)
		postlist[i] = canon.String(label)

		m, err := actx.Store.PostMeta(ctx, hash)
		if err != nil {
			return nil, err
		}
		meta[label] = metaObject(m)
	}

	return canon.Object{
		"scenario": canon.String(name),
		"trace":    trace,
		"postlist": postlist,
		"meta":     meta,
	}, nil
}

func metaObject(m store.PostMeta) canon.Object {
	obj := canon.Object{
		"reply":  canon.Int(m.Reply),
		"repost": canon.Int(m.Repost),
		"like":   canon.Int(m.Like),
		"block":  canon.Int(m.Block),
		"global": canon.Bool(m.Global),
	}
	if m.Moderation != nil {
		obj["moderation"] = canon.String(*m.Moderation)
	}
	if m.GroupID != "" {
		obj["groupId"] = canon.String(m.GroupID)
	}
	return obj
}

// Snapshot returns the canonical JSON snapshot of the run.
func (r *Result) Snapshot() ([]byte, error) {
	return canon.Marshal(r.snapshot)
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	data, err := result.Snapshot()
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result, nil
}
