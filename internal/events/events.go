// Package events publishes configuration change notifications so that other
// processes sharing the same backend can refresh their in-memory copies.
package events

import (
	"context"
	"strings"

	"github.com/derpz-discord/math-tavern-bot/internal/model"
)

// Event topic prefixes. The module name is appended as the last subject
// token, e.g. "cogstore.config.updated.AutoPurge".
const (
	TopicConfigUpdated = "cogstore.config.updated"
	TopicConfigDeleted = "cogstore.config.deleted"
	TopicConfigFlushed = "cogstore.config.flushed"

	// TopicAll matches every configuration event.
	TopicAll = "cogstore.config.>"
)

// ConfigChanged is the payload of updated and deleted events.
type ConfigChanged struct {
	Module string         `json:"module"`
	Tenant model.TenantID `json:"tenant"`
	// Origin is the instance id of the publishing process.
	Origin string `json:"origin"`
}

// ConfigFlushed is published after a module flushed its map on detach.
type ConfigFlushed struct {
	Module  string `json:"module"`
	Tenants int    `json:"tenants"`
	Origin  string `json:"origin"`
}

// ModuleTopic returns the subject for events about one module.
func ModuleTopic(prefix, module string) string {
	return prefix + "." + module
}

// ModuleWildcard returns a subject matching every event kind for module.
func ModuleWildcard(module string) string {
	return "cogstore.config.*." + module
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// matchTopic reports whether subject matches pattern using NATS wildcard
// rules: "*" matches one token, a trailing ">" matches one or more.
func matchTopic(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
