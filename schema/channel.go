package schema

import "strings"

// ChannelID identifies a broadcast scope: a user id or the global scope.
type ChannelID string

// DefaultGlobalChannel is the scope admin dashboards subscribe to.
const DefaultGlobalChannel ChannelID = "global"

// NormalizeChannel trims value and falls back to global when it is blank.
func NormalizeChannel(value string, global ChannelID) ChannelID {
	if global == "" {
		global = DefaultGlobalChannel
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return global
	}
	return ChannelID(trimmed)
}
