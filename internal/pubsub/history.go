package pubsub

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// ReadEnvelopes parses a JSONL stream with one envelope per line. Blank
// lines are skipped.
func ReadEnvelopes(r io.Reader) ([]Envelope, error) {
	var out []Envelope
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var env Envelope
		if err := json.Unmarshal([]byte(text), &env); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, env)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read envelopes: %w", err)
	}
	return out, nil
}

// WriteEnvelopes writes envs as JSONL.
func WriteEnvelopes(w io.Writer, envs []Envelope) error {
	enc := json.NewEncoder(w)
	for _, env := range envs {
		if err := enc.Encode(env); err != nil {
			return fmt.Errorf("write envelope: %w", err)
		}
	}
	return nil
}

// FileHistory is a HistorySource over JSONL snapshot files. Envelopes are
// indexed by their topic field and returned ordered by timestamp.
type FileHistory struct {
	byTopic map[string][]Envelope
	all     []Envelope
}

// LoadHistory reads every path into one FileHistory.
func LoadHistory(paths ...string) (*FileHistory, error) {
	h := &FileHistory{byTopic: make(map[string][]Envelope)}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		envs, err := ReadEnvelopes(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("load history %s: %w", path, err)
		}
		h.add(envs)
	}
	return h, nil
}

// NewFileHistory builds a FileHistory from envelopes already in memory.
func NewFileHistory(envs []Envelope) *FileHistory {
	h := &FileHistory{byTopic: make(map[string][]Envelope)}
	h.add(envs)
	return h
}

func (h *FileHistory) add(envs []Envelope) {
	h.all = append(h.all, envs...)
	for _, env := range envs {
		h.byTopic[env.Topic] = append(h.byTopic[env.Topic], env)
	}
	for topic := range h.byTopic {
		sortByTime(h.byTopic[topic])
	}
	sortByTime(h.all)
}

// All returns every loaded envelope ordered by timestamp.
func (h *FileHistory) All() []Envelope {
	return append([]Envelope(nil), h.all...)
}

// History implements HistorySource.
func (h *FileHistory) History(_ context.Context, topic string, since time.Time) ([]Envelope, error) {
	return filterSince(h.byTopic[topic], since), nil
}

func sortByTime(envs []Envelope) {
	sort.SliceStable(envs, func(i, j int) bool {
		return envs[i].Timestamp < envs[j].Timestamp
	})
}
