package tracing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("project_id", "1"),
		attribute.String("signature_name", "Anna"),
		attribute.String("redis_password", "x"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("project_id"), attrs[0].Key)
}

func TestSafeErrorHidesMessage(t *testing.T) {
	err := SafeError(errors.New("row contains secrets"))
	assert.Equal(t, "*errors.errorString", err.Error())
	assert.Nil(t, SafeError(nil))
}

func TestClampRatio(t *testing.T) {
	assert.Equal(t, 0.1, clampRatio(0))
	assert.Equal(t, 1.0, clampRatio(4))
	assert.Equal(t, 0.5, clampRatio(0.5))
}
