package util

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 40)
	for _, line := range strings.Split(WrapString(text), "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "short text", WrapString("  short   text "))
	assert.Empty(t, WrapString(""))
}

func TestInitConfigReadsEnvironment(t *testing.T) {
	t.Setenv("MVKV_BASE_CACHE_SIZE", "77")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Int("base-cache-size", 1, "")

	InitConfig()
	require.NoError(t, BindCommandFlags(cmd))
	assert.Equal(t, 77, viper.GetInt("base-cache-size"))
}
