package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/zkfold/internal/engine"
	"github.com/roach88/zkfold/internal/message"
)

// Scenario is a sequence of messages folded into a fresh store, followed
// by assertions on the resulting state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario checks.
	Description string `yaml:"description"`

	// Groups maps Merkle roots to group ids for anonymous group posts.
	Groups map[string]string `yaml:"groups,omitempty"`

	// Steps are inserted in order. Each gets a createdAt one millisecond
	// after the previous one.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step inserts one message, or re-inserts an earlier one.
type Step struct {
	// Label names the message for later refs and assertions.
	Label string `yaml:"label,omitempty"`

	// Type and Subtype are the wire tags, e.g. POST / REPLY.
	Type    string `yaml:"type,omitempty"`
	Subtype string `yaml:"subtype,omitempty"`

	// Creator is empty for anonymous messages.
	Creator string            `yaml:"creator,omitempty"`
	Payload map[string]string `yaml:"payload,omitempty"`

	// Ref sets payload.reference to the message id of the labelled step.
	Ref string `yaml:"ref,omitempty"`

	// Proof is "signature" (default) or "group".
	Proof string `yaml:"proof,omitempty"`

	// Root is the Merkle root carried by a group proof.
	Root string `yaml:"root,omitempty"`

	// Repeat re-inserts the labelled message unchanged.
	Repeat string `yaml:"repeat,omitempty"`

	// Expect is the outcome the insert must have: inserted,
	// already_existed or dropped.
	Expect string `yaml:"expect,omitempty"`
}

// Assertion checks final state. Which fields apply depends on Type.
type Assertion struct {
	Type string `yaml:"type"`

	// Target labels a message (post_meta, replies, exists).
	Target string `yaml:"target,omitempty"`

	// Address selects a user (user_meta, user_posts).
	Address string `yaml:"address,omitempty"`

	// Group selects an anonymous group (group_posts).
	Group string `yaml:"group,omitempty"`

	// Expect holds the fields compared by post_meta and user_meta. Only
	// the listed fields are checked.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Labels is the expected list, newest first, for list assertions.
	Labels []string `yaml:"labels,omitempty"`

	// Exists is the expected presence for exists.
	Exists *bool `yaml:"exists,omitempty"`

	// Outcome and Count are used by outcome_count.
	Outcome string `yaml:"outcome,omitempty"`
	Count   int    `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertPostMeta     = "post_meta"
	AssertUserMeta     = "user_meta"
	AssertPostlist     = "postlist"
	AssertUserPosts    = "user_posts"
	AssertGroupPosts   = "group_posts"
	AssertReplies      = "replies"
	AssertExists       = "exists"
	AssertOutcomeCount = "outcome_count"
)

// Proof kinds.
const (
	ProofSignature = "signature"
	ProofGroup     = "group"
)

// LoadScenario reads a scenario file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	labels := map[string]bool{}
	for i, step := range s.Steps {
		if err := validateStep(i, step, labels); err != nil {
			return err
		}
		if step.Label != "" {
			if labels[step.Label] {
				return fmt.Errorf("steps[%d]: duplicate label %q", i, step.Label)
			}
			labels[step.Label] = true
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, labels); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, labels map[string]bool) error {
	if step.Repeat != "" {
		if step.Label != "" || step.Type != "" || step.Ref != "" || step.Payload != nil {
			return fmt.Errorf("steps[%d]: repeat cannot be combined with a label or message body", i)
		}
		if !labels[step.Repeat] {
			return fmt.Errorf("steps[%d]: repeat of unknown label %q", i, step.Repeat)
		}
	} else if step.Type == "" {
		return fmt.Errorf("steps[%d]: type is required", i)
	}
	if step.Ref != "" && !labels[step.Ref] {
		return fmt.Errorf("steps[%d]: ref to unknown label %q", i, step.Ref)
	}
	switch step.Proof {
	case "", ProofSignature:
	case ProofGroup:
		if step.Root == "" {
			return fmt.Errorf("steps[%d]: group proof needs a root", i)
		}
	default:
		return fmt.Errorf("steps[%d]: unknown proof %q", i, step.Proof)
	}
	if step.Expect != "" && !validOutcome(step.Expect) {
		return fmt.Errorf("steps[%d]: unknown outcome %q", i, step.Expect)
	}
	return nil
}

func validOutcome(s string) bool {
	for _, o := range []engine.Outcome{engine.Inserted, engine.AlreadyExisted, engine.Dropped} {
		if o.String() == s {
			return true
		}
	}
	return false
}

func validateAssertion(i int, a Assertion, labels map[string]bool) error {
	needTarget := func() error {
		if !labels[a.Target] {
			return fmt.Errorf("assertions[%d]: %s needs a known target, got %q", i, a.Type, a.Target)
		}
		return nil
	}

	switch a.Type {
	case AssertPostMeta:
		if err := needTarget(); err != nil {
			return err
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for post_meta", i)
		}
	case AssertUserMeta:
		if a.Address == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: address and expect are required for user_meta", i)
		}
	case AssertPostlist:
	case AssertUserPosts:
		if a.Address == "" {
			return fmt.Errorf("assertions[%d]: address is required for user_posts", i)
		}
	case AssertGroupPosts:
	case AssertReplies:
		return needTarget()
	case AssertExists:
		if a.Exists == nil {
			return fmt.Errorf("assertions[%d]: exists is required", i)
		}
		return needTarget()
	case AssertOutcomeCount:
		if !validOutcome(a.Outcome) {
			return fmt.Errorf("assertions[%d]: unknown outcome %q", i, a.Outcome)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", i)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}

	for _, l := range a.Labels {
		if !labels[l] {
			return fmt.Errorf("assertions[%d]: unknown label %q", i, l)
		}
	}
	return nil
}

// buildStep turns a non-repeat step into a message. refs resolves labels
// to earlier messages.
func buildStep(step Step, createdAt int64, refs map[string]message.Message) (message.Message, message.Proof, error) {
	payload := make(map[string]string, len(step.Payload)+1)
	for k, v := range step.Payload {
		payload[k] = v
	}
	if step.Ref != "" {
		payload["reference"] = message.ID(refs[step.Ref])
	}

	msg, err := message.FromJSON(message.JSON{
		Type:      message.Type(step.Type),
		Subtype:   step.Subtype,
		Creator:   step.Creator,
		CreatedAt: createdAt,
		Payload:   payload,
	})
	if err != nil {
		return nil, nil, err
	}

	var proof message.Proof = &message.SignatureProof{Signature: "harness"}
	if step.Proof == ProofGroup {
		proof = &message.GroupProof{
			MerkleRoot: step.Root,
			SignalHash: string(message.MustHash(msg)),
		}
	}
	return msg, proof, nil
}
