package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextFieldsReachOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "mpcrawl-test"})

	ctx := l.WithContext(context.Background())
	ctx = SetTask(ctx, "task-1", "golang")
	ctx = SetComponent(ctx, "pipeline")

	With(Fields{FieldCount: 5}).Info(ctx, "page %d parsed", 2)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "page 2 parsed", line["message"])
	assert.Equal(t, "task-1", line[FieldTaskID])
	assert.Equal(t, "golang", line[FieldAccount])
	assert.Equal(t, "pipeline", line[FieldComponent])
	assert.Equal(t, "mpcrawl-test", line["service"])
	assert.EqualValues(t, 5, line[FieldCount])
	assert.Equal(t, "task-1", GetTaskID(ctx))
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, GetDefault(), FromContext(context.Background()))
	assert.Empty(t, GetRequestID(context.Background()))
}
