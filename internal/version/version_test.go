package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestVersionStrings ensures Short, Full and UserAgent return consistent information.
func TestVersionStrings(t *testing.T) {
	t.Parallel()

	require.NotEmpty(t, Short())
	require.Contains(t, Full(), Short())
	require.True(t, strings.HasPrefix(UserAgent(), "bundle-updater/"))
	require.True(t, strings.HasSuffix(UserAgent(), Short()))
}

func TestNewCommand(t *testing.T) {
	t.Parallel()

	for args, want := range map[string]string{
		"":        Full() + "\n",
		"--short": Short() + "\n",
	} {
		var out strings.Builder

		cmd := NewCommand()
		cmd.SetOut(&out)
		cmd.SetArgs(strings.Fields(args))

		require.NoError(t, cmd.Execute(), args)
		require.Equal(t, want, out.String(), args)
	}
}
