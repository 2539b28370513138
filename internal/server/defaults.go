package server

import (
	"encoding/json"

	"github.com/derpz-discord/math-tavern-bot/internal/cogs"
	"github.com/derpz-discord/math-tavern-bot/internal/configstore"
)

// builtinDefaults returns the default document of the built-in modules.
// GET of a tenant without a stored document falls back to these.
var builtinDefaults = map[string]func() (json.RawMessage, error){
	cogs.AutoPurgeModule:   encodeDefault(cogs.AutoPurgeCodec),
	cogs.PinModule:         encodeDefault(cogs.PinCodec),
	cogs.StickyRolesModule: encodeDefault(cogs.StickyRolesCodec),
}

func encodeDefault[T any](c configstore.Codec[T]) func() (json.RawMessage, error) {
	return func() (json.RawMessage, error) {
		return c.Encode(c.Default())
	}
}
