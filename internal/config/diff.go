package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	RouterChanged    bool
	NewDefaultAgents []string

	DispatchChanged bool
	NewDispatch     DispatchConfig

	SchedulerChanged bool
	NewScheduler     SchedulerConfig
	NewMainChatID    int64

	AllowFromChanged bool
	NewAllowFrom     []int64

	LogLevelChanged bool
	NewLogLevel     string

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return d.RouterChanged ||
		d.DispatchChanged ||
		d.SchedulerChanged ||
		d.AllowFromChanged ||
		d.LogLevelChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if !slices.Equal(old.Router.DefaultAgents, new.Router.DefaultAgents) {
		d.RouterChanged = true
		d.NewDefaultAgents = new.Router.DefaultAgents
	}

	if old.Dispatch != new.Dispatch {
		d.DispatchChanged = true
		d.NewDispatch = new.Dispatch
	}

	if old.Scheduler != new.Scheduler || old.Telegram.MainChatID != new.Telegram.MainChatID {
		d.SchedulerChanged = true
		d.NewScheduler = new.Scheduler
		d.NewMainChatID = new.Telegram.MainChatID
	}

	if !slices.Equal(old.Telegram.AllowFrom, new.Telegram.AllowFrom) {
		d.AllowFromChanged = true
		d.NewAllowFrom = new.Telegram.AllowFrom
	}

	if old.Log.Level != new.Log.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Log.Level
	}

	// The agent registry is immutable for the process lifetime, so
	// per-agent overrides only apply after a restart.
	if !reflect.DeepEqual(old.Agents, new.Agents) {
		d.NonReloadable = append(d.NonReloadable, "agents")
	}
	if old.Gemini != new.Gemini {
		d.NonReloadable = append(d.NonReloadable, "gemini")
	}
	if old.Router.SmartModel != new.Router.SmartModel {
		d.NonReloadable = append(d.NonReloadable, "router.smart_model")
	}
	if old.Telegram.Token != new.Telegram.Token {
		d.NonReloadable = append(d.NonReloadable, "telegram.token")
	}
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS != new.NATS {
		d.NonReloadable = append(d.NonReloadable, "nats")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}

	return d
}
