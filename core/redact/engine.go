package redact

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/davidahmann/ctxpack/core/canon"
	"github.com/davidahmann/ctxpack/core/match"
	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
	schemaspec "github.com/davidahmann/ctxpack/core/schema/v1/spec"
)

// Engine interprets a normalized policy against an accepted item set. The
// engine never adds items and never alters one without a record; every
// removal or mask is explainable after the fact.
type Engine struct {
	policy   Policy
	digest   string
	patterns map[string]*regexp.Regexp
}

// Result is the outcome of one Apply pass. Privacy is the most restrictive
// of all rule outcomes; Conflicts lists required items removed by policy.
type Result struct {
	Items     []schemapacket.ContextItem
	Records   []schemapacket.RedactionRecord
	Privacy   schemapacket.PrivacyClass
	Conflicts []string
}

func NewEngine(policy Policy) (*Engine, error) {
	normalized, err := normalizePolicy(policy)
	if err != nil {
		return nil, err
	}
	digest, err := PolicyDigest(normalized)
	if err != nil {
		return nil, err
	}
	patterns := make(map[string]*regexp.Regexp, len(normalized.ForbiddenContent))
	for _, rule := range normalized.ForbiddenContent {
		compiled, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("content rule %s: %w", rule.ID, err)
		}
		patterns[rule.ID] = compiled
	}
	return &Engine{policy: normalized, digest: digest, patterns: patterns}, nil
}

func (e *Engine) PolicyDigest() string {
	return e.digest
}

// Apply runs every rule class over the items. Items are value objects:
// a mask produces a new, marked item; the original is never edited.
func (e *Engine) Apply(items []schemapacket.ContextItem, taskSpec schemaspec.TaskSpecification, now time.Time) Result {
	result := Result{
		Items:   make([]schemapacket.ContextItem, 0, len(items)),
		Records: make([]schemapacket.RedactionRecord, 0),
	}

	callsActive := taskSpec.TaskType.ImpliesExecution()
	for _, item := range items {
		if rule, blocked := e.matchPathRule(item.Path); blocked {
			result.Records = append(result.Records, record(item, rule, schemapacket.RedactionActionDrop, now))
			result.Conflicts = appendConflict(result.Conflicts, taskSpec, item, rule)
			continue
		}
		if rule, blocked := e.matchDropContentRule(item); blocked {
			result.Records = append(result.Records, record(item, rule, schemapacket.RedactionActionDrop, now))
			result.Conflicts = appendConflict(result.Conflicts, taskSpec, item, rule)
			continue
		}
		if callsActive {
			if rule, blocked := e.matchCallRule(item); blocked {
				result.Records = append(result.Records, record(item, rule, schemapacket.RedactionActionDrop, now))
				result.Conflicts = appendConflict(result.Conflicts, taskSpec, item, rule)
				continue
			}
		}

		masked, maskRules := e.applyMaskRules(item)
		for _, rule := range maskRules {
			result.Records = append(result.Records, record(item, rule, schemapacket.RedactionActionMask, now))
		}
		result.Items = append(result.Items, masked)
	}

	// Privacy is packet-scoped and monotonic: redaction can only move the
	// packet toward local_only, never the reverse.
	result.Privacy = schemapacket.PrivacyLocalOnly
	if taskSpec.AllowRemote && e.policy.AllowRemote && len(result.Records) == 0 {
		result.Privacy = schemapacket.PrivacyRemoteAllowed
	}
	return result
}

func (e *Engine) matchPathRule(path string) (string, bool) {
	for _, rule := range e.policy.ForbiddenPaths {
		if match.Path(rule.Pattern, path) {
			return rule.ID, true
		}
	}
	return "", false
}

func (e *Engine) matchDropContentRule(item schemapacket.ContextItem) (string, bool) {
	for _, rule := range e.policy.ForbiddenContent {
		if rule.Action != ActionDrop {
			continue
		}
		if e.patterns[rule.ID].MatchString(item.Content) {
			return rule.ID, true
		}
	}
	return "", false
}

func (e *Engine) matchCallRule(item schemapacket.ContextItem) (string, bool) {
	for _, rule := range e.policy.ForbiddenCalls {
		for _, call := range rule.Calls {
			if strings.Contains(item.Content, call) {
				return rule.ID, true
			}
		}
	}
	return "", false
}

func (e *Engine) applyMaskRules(item schemapacket.ContextItem) (schemapacket.ContextItem, []string) {
	matched := make([]string, 0)
	content := item.Content
	for _, rule := range e.policy.ForbiddenContent {
		if rule.Action != ActionMask {
			continue
		}
		pattern := e.patterns[rule.ID]
		if !pattern.MatchString(content) {
			continue
		}
		content = pattern.ReplaceAllString(content, "[REDACTED:"+rule.ID+"]")
		matched = append(matched, rule.ID)
	}
	if len(matched) == 0 {
		return item, nil
	}
	masked := item
	masked.Content = content
	masked.Masked = true
	masked.ContentHash = canon.ItemHash(masked.Name, masked.Path, masked.Content)
	return masked, matched
}

func record(item schemapacket.ContextItem, ruleID string, action schemapacket.RedactionAction, now time.Time) schemapacket.RedactionRecord {
	return schemapacket.RedactionRecord{
		ItemHash:   item.ContentHash,
		ItemName:   item.Name,
		ItemPath:   item.Path,
		RuleID:     ruleID,
		Action:     action,
		RecordedAt: now,
	}
}

// appendConflict notes when a removed item was structurally required by the
// task (it matched a mandatory include pattern). Privacy takes precedence
// over completeness, so the item stays removed; the conflict surfaces as a
// provenance warning.
func appendConflict(conflicts []string, taskSpec schemaspec.TaskSpecification, item schemapacket.ContextItem, ruleID string) []string {
	if len(taskSpec.Scope.Include) == 0 {
		return conflicts
	}
	if !match.Any(taskSpec.Scope.Include, item.Path) {
		return conflicts
	}
	return append(conflicts, fmt.Sprintf("required item %s removed by rule %s", item.Path, ruleID))
}
