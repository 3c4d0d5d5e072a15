package usecase

import "go.opentelemetry.io/otel"

const scopeName = "voice-agent/internal/usecase"

var tracer = otel.Tracer(scopeName)
