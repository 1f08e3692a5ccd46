package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseInts(t *testing.T) {
	nums, err := parseInts([]string{"3", "-5"}, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{3, -5}, nums)

	_, err = parseInts([]string{"3"}, 2)
	require.Error(t, err)

	_, err = parseInts([]string{"x"}, 1)
	require.ErrorContains(t, err, "argument 1")
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug", true)
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = newLogger("chatty", false)
	require.Error(t, err)
}

func TestCommands(t *testing.T) {
	serve := serveCmd()
	require.NotNil(t, serve.Flags().Lookup("udp"))
	require.Equal(t, ":8080", serve.Flags().Lookup("addr").DefValue)

	call := callCmd()
	require.Error(t, call.Args(call, nil))
}
