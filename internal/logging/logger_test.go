package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFromContext(t *testing.T) {
	l := zap.NewNop().With(zap.String("request_id", "r-1"))
	ctx := ContextWithLogger(context.Background(), l)

	assert.Same(t, l, FromContext(ctx))
	assert.Same(t, zap.L(), FromContext(context.Background()))
	assert.Equal(t, context.Background(), ContextWithLogger(context.Background(), nil))
}
