package auth

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracer is a no-op until a global provider is registered at startup.
var tracer trace.Tracer = otel.Tracer("github.com/passkeyme/passkeyme-server/internal/auth")
