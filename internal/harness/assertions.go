package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s\n", event.Step, event)
	}
	return buf.String()
}

// AssertionContext gives assertions access to the final state.
type AssertionContext struct {
	Ctx    context.Context
	Store  *store.Store
	Result *Result

	labels map[message.Hash]string
	msgs   map[string]message.Message
}

func (a *AssertionContext) hash(label string) message.Hash {
	return message.MustHash(a.msgs[label])
}

// label names a stored message by its scenario label, falling back to the
// hash for messages the scenario did not label.
func (a *AssertionContext) label(h message.Hash) string {
	if l, ok := a.labels[h]; ok {
		return l
	}
	return string(h)
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(a, actx); err != nil {
			if ae, ok := err.(*AssertionError); ok {
				ae.Trace = result.Trace
			}
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err))
		}
	}
	return errs
}

func evaluate(a Assertion, actx *AssertionContext) error {
	ctx := actx.Ctx
	switch a.Type {
	case AssertPostMeta:
		meta, err := actx.Store.PostMeta(ctx, actx.hash(a.Target))
		if err != nil {
			return err
		}
		return compareFields(a.Type+" "+a.Target, meta, a.Expect)

	case AssertUserMeta:
		meta, err := actx.Store.ResolvedUserMeta(ctx, a.Address)
		if err != nil {
			return err
		}
		return compareFields(a.Type+" "+a.Address, meta, a.Expect)

	case AssertPostlist:
		posts, err := actx.Store.Posts(ctx, 0, "")
		return comparePosts(a, actx, posts, err)
	case AssertUserPosts:
		posts, err := actx.Store.UserPosts(ctx, a.Address, 0, "")
		return comparePosts(a, actx, posts, err)
	case AssertGroupPosts:
		posts, err := actx.Store.GroupPosts(ctx, a.Group, 0, "")
		return comparePosts(a, actx, posts, err)
	case AssertReplies:
		posts, err := actx.Store.Replies(ctx, actx.hash(a.Target), 0, "")
		return comparePosts(a, actx, posts, err)

	case AssertExists:
		ok, err := actx.Store.HasMessage(ctx, actx.hash(a.Target))
		if err != nil {
			return err
		}
		if ok != *a.Exists {
			return &AssertionError{
				Type:     a.Type + " " + a.Target,
				Expected: fmt.Sprintf("exists=%t", *a.Exists),
				Actual:   fmt.Sprintf("exists=%t", ok),
			}
		}
		return nil

	case AssertOutcomeCount:
		if got := actx.Result.Outcomes[a.Outcome]; got != a.Count {
			return &AssertionError{
				Type:     a.Type + " " + a.Outcome,
				Expected: fmt.Sprint(a.Count),
				Actual:   fmt.Sprint(got),
			}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func comparePosts(a Assertion, actx *AssertionContext, posts []*message.Post, err error) error {
	if err != nil {
		return err
	}
	got := make([]string, len(posts))
	for i, p := range posts {
		got[i] = actx.label(message.MustHash(p))
	}
	want := a.Labels
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprint(want),
			Actual:   fmt.Sprint(got),
		}
	}
	return nil
}

// compareFields checks the expected subset of v's JSON fields. Values are
// compared by their printed form, so YAML 1 matches JSON 1.0, and null
// matches both "" and an omitted field.
func compareFields(name string, v any, expect map[string]any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var actual map[string]any
	if err := json.Unmarshal(data, &actual); err != nil {
		return err
	}

	keys := make([]string, 0, len(expect))
	for k := range expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var want, got []string
	for _, k := range keys {
		if !knownField(v, k) {
			return fmt.Errorf("%s: unknown field %q", name, k)
		}
		w, g := printed(expect[k]), printed(actual[k])
		if w != g {
			want = append(want, k+"="+w)
			got = append(got, k+"="+g)
		}
	}
	if len(want) > 0 {
		return &AssertionError{
			Type:     name,
			Expected: strings.Join(want, " "),
			Actual:   strings.Join(got, " "),
		}
	}
	return nil
}

func printed(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

var (
	postMetaFields = fieldNames(store.PostMeta{})
	userMetaFields = fieldNames(store.UserMeta{})
)

func fieldNames(v any) map[string]bool {
	data, _ := json.Marshal(v)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	out := map[string]bool{}
	for k := range m {
		out[k] = true
	}
	return out
}

func knownField(v any, k string) bool {
	switch v.(type) {
	case store.PostMeta:
		return postMetaFields[k] || k == "groupId"
	case store.UserMeta:
		return userMetaFields[k]
	}
	return false
}
