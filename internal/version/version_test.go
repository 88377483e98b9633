package version

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// TestVersionStrings ensures Short and Full return non-empty consistent information.
func TestVersionStrings(t *testing.T) {
	t.Parallel()

	info := Get()
	require.NotEmpty(t, info.Version)
	require.NotEmpty(t, info.GoVersion)
	require.Equal(t, info.Version, Short())

	full := Full()
	require.Contains(t, full, info.Version)
	require.Contains(t, full, info.Commit)
	require.Contains(t, full, info.GoVersion)
}

// TestVersionCommand runs the cobra subcommand in both modes.
func TestVersionCommand(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		args []string
		want string
	}{
		{args: []string{"version"}, want: Full()},
		{args: []string{"version", "--short"}, want: Short()},
	} {
		root := &cobra.Command{Use: "alarm-monitor"}
		AttachCobraVersionCommand(root)

		var out bytes.Buffer

		root.SetOut(&out)
		root.SetArgs(tt.args)

		require.NoError(t, root.Execute())
		require.Equal(t, tt.want, strings.TrimSpace(out.String()))
	}
}
