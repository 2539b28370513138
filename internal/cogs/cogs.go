// Package cogs holds the configuration types of the bot's built-in modules
// and the codecs that persist them.
package cogs

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/derpz-discord/math-tavern-bot/internal/configstore"
)

// Module names. They are part of the stored keys and must never change.
const (
	AutoPurgeModule   = "AutoPurge"
	PinModule         = "Pin"
	StickyRolesModule = "StickyRoles"
)

// AutoPurgeConfig maps a channel id to the age in seconds after which its
// messages are purged.
type AutoPurgeConfig struct {
	ChannelPurgeInterval map[int64]int64 `json:"channel_purge_interval"`
}

func NewAutoPurgeConfig() AutoPurgeConfig {
	return AutoPurgeConfig{ChannelPurgeInterval: make(map[int64]int64)}
}

// PinConfig lists the roles allowed to pin messages.
type PinConfig struct {
	RolesThatCanPin mapset.Set[int64] `json:"roles_that_can_pin"`
}

func NewPinConfig() PinConfig {
	return PinConfig{RolesThatCanPin: mapset.NewSet[int64]()}
}

// CanPin reports whether any of roles may pin.
func (c PinConfig) CanPin(roles ...int64) bool {
	if c.RolesThatCanPin == nil {
		return false
	}
	return c.RolesThatCanPin.ContainsAny(roles...)
}

// StickyRolesConfig toggles restoring a member's roles when they rejoin.
type StickyRolesConfig struct {
	Enabled bool `json:"enabled"`
}

func NewStickyRolesConfig() StickyRolesConfig {
	return StickyRolesConfig{Enabled: true}
}

var (
	AutoPurgeCodec   = configstore.JSONCodec[AutoPurgeConfig]{New: NewAutoPurgeConfig}
	PinCodec         = configstore.JSONCodec[PinConfig]{New: NewPinConfig}
	StickyRolesCodec = configstore.JSONCodec[StickyRolesConfig]{New: NewStickyRolesConfig}
)

// Known reports whether module is one of the built-in modules.
func Known(module string) bool {
	switch module {
	case AutoPurgeModule, PinModule, StickyRolesModule:
		return true
	}
	return false
}

// Modules returns the built-in module names.
func Modules() []string {
	return []string{AutoPurgeModule, PinModule, StickyRolesModule}
}
