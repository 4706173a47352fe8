package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderFileTree(t *testing.T) {
	out, err := RenderFileTree("/home/user/.config", []string{
		"nvim/init.lua",
		"nvim/lua/plugins.lua",
		"starship.toml",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "/home/user/.config")
	assert.Contains(t, out, "nvim")
	assert.Contains(t, out, "init.lua")
	assert.Contains(t, out, "plugins.lua")
	assert.Contains(t, out, "starship.toml")
}
