package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigValidateFailsOnMissingFile(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"config", "validate", "--config", "/nonexistent/config.json"})

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)

	err := root.Execute()
	require.Error(t, err)
}

func TestRootCommandHasExpectedSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["run"])
	require.True(t, names["config"])
	require.True(t, names["status"])
}
