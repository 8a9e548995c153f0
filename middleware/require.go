package middleware

import (
	"net/http"

	"github.com/MrEthical07/authcore"
)

// RequireSession only authenticates: any live session passes.
func RequireSession(engine *authcore.Engine, name string, opts Options) func(http.Handler) http.Handler {
	return Guard(engine, authcore.Operation{Name: name}, opts)
}

// RequireCapabilities demands an organization scope and every capability
// in caps.
func RequireCapabilities(engine *authcore.Engine, name string, opts Options, caps ...string) func(http.Handler) http.Handler {
	return Guard(engine, authcore.Operation{
		Name:          name,
		Capabilities:  caps,
		RequireTenant: true,
	}, opts)
}
