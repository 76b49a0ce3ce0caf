package adapter

import (
	"maps"

	"github.com/loykin/browserun/internal/server"
)

// Options configures the adapter plugin. Settings holds free-form values that
// are handed to the adapter in the page.
type Options struct {
	Name     string           `mapstructure:"name"`
	Module   string           `mapstructure:"module"`
	Inject   server.Injection `mapstructure:"inject"`
	Settings map[string]any   `mapstructure:"settings"`
}

// Defaults are the built-in options per adapter name.
var Defaults = map[string]Options{
	"mocha": {
		Inject: server.Injection{Head: []server.Script{{Src: "mocha/mocha.js"}}},
	},
	"jasmine": {
		Inject: server.Injection{Head: []server.Script{{Src: "jasmine-core/lib/jasmine-core/jasmine.js"}}},
	},
}

// Merge layers user options over the defaults for the adapter. Set fields
// win, except inject lists which keep the defaults first.
func Merge(def, user Options) Options {
	out := def
	if user.Name != "" {
		out.Name = user.Name
	}
	if user.Module != "" {
		out.Module = user.Module
	}
	out.Inject = def.Inject.Merge(user.Inject)
	if len(def.Settings) > 0 || len(user.Settings) > 0 {
		out.Settings = make(map[string]any, len(def.Settings)+len(user.Settings))
		maps.Copy(out.Settings, def.Settings)
		maps.Copy(out.Settings, user.Settings)
	}
	return out
}

// payload is what the page receives: every option except the injection
// config, plus the client URL.
func (o Options) payload(clientURL string) map[string]any {
	out := make(map[string]any, len(o.Settings)+3)
	maps.Copy(out, o.Settings)
	out["name"] = o.Name
	out["module"] = o.Module
	out["client"] = clientURL
	return out
}
