package auth

import (
	"net/http"

	"github.com/goliatone/go-router"
)

// Health answers liveness probes. It touches no storage so it stays up
// when the database is down.
func Health(ctx router.Context) error {
	ctx.SetHeader("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.SetHeader("Pragma", "no-cache")
	ctx.SetHeader("Expires", "0")

	if isHead(ctx) {
		return ctx.Status(http.StatusOK).SendString("")
	}
	return ctx.Status(http.StatusOK).SendString("OK")
}
