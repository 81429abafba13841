package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRuntimeSource(t *testing.T) {
	require.Equal(t, "worker", Runtime{Component: "worker"}.Source())
	require.Equal(t, "worker@node-1", Runtime{Component: "worker", Hostname: "node-1"}.Source())

	rt := DetectRuntime("stock-api")
	require.Equal(t, "stock-api", rt.Component)
	require.NotEmpty(t, rt.Version)
	require.Equal(t, "runtime", rt.Attr().Key)
}
