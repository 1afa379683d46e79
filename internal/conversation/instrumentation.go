package conversation

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/lexiqai/voice-assistant/internal/conversation"

var tracer = otel.Tracer(scopeName)
