// Package adapter contains implementations of interfaces defined in app.
// Redis, DynamoDB, SNS, SMTP and JWT adapters live here.
package adapter

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("verification/adapter")
