package bus

import (
	"regexp"
	"strings"
	"sync"
)

// ACLRule binds one identity pattern to a subject-prefix pattern and the
// actions it grants. Adapted from the teacher's system/sandbox.PolicyRule
// (Subject/Object/Action/Effect/Priority with glob matching), collapsed
// here to the two actions the bus actually needs (publish, subscribe)
// since spec §4.A's ACL model is narrower than the teacher's general
// capability policy.
type ACLRule struct {
	Identity      string // glob, e.g. "motor.*" or "*"
	SubjectPrefix string // glob, e.g. "<ns>.cmd.execution.*"
	CanPublish    bool
	CanSubscribe  bool
}

// ACL evaluates ACLRules in priority order (most specific wins: a rule
// with a longer literal SubjectPrefix match takes precedence), defaulting
// to deny, matching the teacher's default-deny SecurityPolicy.Evaluate.
type ACL struct {
	mu    sync.RWMutex
	rules []ACLRule
}

// NewACL creates an ACL from an initial rule set.
func NewACL(rules ...ACLRule) *ACL {
	return &ACL{rules: append([]ACLRule(nil), rules...)}
}

// AddRule appends a rule at runtime (e.g. on policy hot-reload).
func (a *ACL) AddRule(rule ACLRule) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rules = append(a.rules, rule)
}

// CanPublish reports whether identity may publish on subject.
func (a *ACL) CanPublish(identity, subject string) bool {
	return a.evaluate(identity, subject, func(r ACLRule) bool { return r.CanPublish })
}

// CanSubscribe reports whether identity may subscribe on subject (or
// pattern).
func (a *ACL) CanSubscribe(identity, subject string) bool {
	return a.evaluate(identity, subject, func(r ACLRule) bool { return r.CanSubscribe })
}

func (a *ACL) evaluate(identity, subject string, grants func(ACLRule) bool) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var best *ACLRule
	for i := range a.rules {
		r := &a.rules[i]
		if !matchGlob(r.Identity, identity) || !matchPrefixGlob(r.SubjectPrefix, subject) {
			continue
		}
		if best == nil || len(r.SubjectPrefix) > len(best.SubjectPrefix) {
			best = r
		}
	}
	if best == nil {
		return false
	}
	return grants(*best)
}

// matchGlob does whole-string glob matching ("*" = any, "motor.*" etc.).
func matchGlob(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	re := "^" + regexp.QuoteMeta(pattern) + "$"
	re = strings.ReplaceAll(re, `\*`, ".*")
	matched, err := regexp.MatchString(re, value)
	if err != nil {
		return pattern == value
	}
	return matched
}

// matchPrefixGlob matches value against a subject-prefix pattern: pattern
// may itself contain "*" segments (for subscription patterns like
// "<ns>.evt.signal.*.v1"), and is otherwise treated as a literal prefix of
// value (so a publish ACL of "<ns>.cmd.execution" grants the whole
// sub-tree under it).
func matchPrefixGlob(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if strings.Contains(pattern, "*") {
		return matchGlob(pattern, value)
	}
	return strings.HasPrefix(value, pattern)
}
