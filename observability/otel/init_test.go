package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "crowdfund", Traces: true})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,broken,=skip, x=1")
	require.Equal(t, map[string]string{"api-key": "abc", "x": "1"}, got)
	require.Empty(t, ParseHeaders(""))
}
