package topics_test

import (
	"testing"

	"github.com/1ureka/tunnelmesh/internal/config"
	"github.com/1ureka/tunnelmesh/internal/topics"
)

func TestGetTopics(t *testing.T) {
	if got := topics.GetStatusTopic("abc", config.RoleCaller); got != "caller/abc/status" {
		t.Errorf("GetStatusTopic = %q", got)
	}
	if got := topics.GetStatusTopic("xyz", config.RoleCallee); got != "callee/xyz/status" {
		t.Errorf("GetStatusTopic = %q", got)
	}
	if got := topics.GetSignalTopic("123", config.RoleCaller); got != "caller/123/signal" {
		t.Errorf("GetSignalTopic = %q", got)
	}
	if got := topics.GetSignalTopic("999", config.RoleCallee); got != "callee/999/signal" {
		t.Errorf("GetSignalTopic = %q", got)
	}
}

func TestSplitStatusTopic(t *testing.T) {
	cases := []struct {
		topic string
		id    string
		ok    bool
	}{
		{"caller/abc/status", "abc", true},
		{"callee/xyz/status", "xyz", true},
		{"invalid/topic", "", false},
		{"caller/abc/extra/status", "", false},
		{"caller//status", "", false},
		{"caller/abc/signal", "", false},
	}
	for _, c := range cases {
		id, ok := topics.SplitStatusTopic(c.topic)
		if ok != c.ok || id != c.id {
			t.Errorf("SplitStatusTopic(%q) = (%q, %v), want (%q, %v)", c.topic, id, ok, c.id, c.ok)
		}
	}
}

func TestSplitSignalTopic(t *testing.T) {
	cases := []struct {
		topic string
		id    string
		ok    bool
	}{
		{"caller/123/signal", "123", true},
		{"callee/999/signal", "999", true},
		{"nope/aaa", "", false},
		{"caller/123/status", "", false},
	}
	for _, c := range cases {
		id, ok := topics.SplitSignalTopic(c.topic)
		if ok != c.ok || id != c.id {
			t.Errorf("SplitSignalTopic(%q) = (%q, %v), want (%q, %v)", c.topic, id, ok, c.id, c.ok)
		}
	}
}

// TestTopicRoundTrip verifies Get*/Split* are mutual inverses for valid input.
func TestTopicRoundTrip(t *testing.T) {
	for _, role := range []config.Role{config.RoleCaller, config.RoleCallee} {
		for _, id := range []string{"abc", "peer-42", "a_b.c"} {
			status := topics.GetStatusTopic(id, role)
			gotID, ok := topics.SplitStatusTopic(status)
			if !ok || gotID != id {
				t.Errorf("status round-trip failed for (%q, %q): got (%q, %v)", id, role, gotID, ok)
			}

			signal := topics.GetSignalTopic(id, role)
			gotID, ok = topics.SplitSignalTopic(signal)
			if !ok || gotID != id {
				t.Errorf("signal round-trip failed for (%q, %q): got (%q, %v)", id, role, gotID, ok)
			}
		}
	}
}
