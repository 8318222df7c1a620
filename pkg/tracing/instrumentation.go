package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by the agent's spans
var (
	TripIDKey            = attribute.Key("trip.id")
	TripKindKey          = attribute.Key("trip.kind")
	TripStatusKey        = attribute.Key("trip.status")
	DriverIDKey          = attribute.Key("driver.id")
	DistanceKey          = attribute.Key("distance.meters")
	LocationLatitudeKey  = attribute.Key("location.latitude")
	LocationLongitudeKey = attribute.Key("location.longitude")
)

// TraceExternalAPI wraps a backend call in a client span named service.operation.
func TraceExternalAPI(ctx context.Context, tracerName, serviceName, operation string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := StartSpan(ctx, tracerName, fmt.Sprintf("%s.%s", serviceName, operation),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("external.service", serviceName),
		attribute.String("external.operation", operation),
	)
	span.SetAttributes(attrs...)

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// TripAttributes returns trip-specific span attributes
func TripAttributes(tripID, kind, status string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if tripID != "" {
		attrs = append(attrs, TripIDKey.String(tripID))
	}
	if kind != "" {
		attrs = append(attrs, TripKindKey.String(kind))
	}
	if status != "" {
		attrs = append(attrs, TripStatusKey.String(status))
	}
	return attrs
}

// LocationAttributes returns location-specific span attributes
func LocationAttributes(latitude, longitude float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		LocationLatitudeKey.Float64(latitude),
		LocationLongitudeKey.Float64(longitude),
	}
}
