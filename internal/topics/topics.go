// Package topics derives and parses the broker topics used by the
// signaling plane: "<role>/<id>/status" and "<role>/<id>/signal".
package topics

import (
	"regexp"

	"github.com/1ureka/tunnelmesh/internal/config"
)

var (
	statusRe = regexp.MustCompile(`^(caller|callee)/([^/]+)/status$`)
	signalRe = regexp.MustCompile(`^(caller|callee)/([^/]+)/signal$`)
)

// GetStatusTopic returns the retained-liveness topic for id under role.
func GetStatusTopic(id string, role config.Role) string {
	return string(role) + "/" + id + "/status"
}

// GetSignalTopic returns the offer/answer/candidate topic for id under role.
func GetSignalTopic(id string, role config.Role) string {
	return string(role) + "/" + id + "/signal"
}

// SplitStatusTopic extracts the id from a status topic. It rejects any
// topic with extra or missing segments, or a role other than the two
// recognized tokens.
func SplitStatusTopic(topic string) (string, bool) {
	m := statusRe.FindStringSubmatch(topic)
	if m == nil {
		return "", false
	}
	return m[2], true
}

// SplitSignalTopic extracts the id from a signal topic, symmetric with
// SplitStatusTopic.
func SplitSignalTopic(topic string) (string, bool) {
	m := signalRe.FindStringSubmatch(topic)
	if m == nil {
		return "", false
	}
	return m[2], true
}
