package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestOutput(t *testing.T, theme string) (*Output, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	o, err := New(theme)
	require.NoError(t, err)
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return o.WithWriter(out).WithErrorWriter(errOut).WithColors(false), out, errOut
}

func TestNew(t *testing.T) {
	for name := range Themes {
		t.Run(name, func(t *testing.T) {
			o, err := New(name)
			require.NoError(t, err)
			assert.NotNil(t, o)
		})
	}

	o, err := New("neon")
	assert.ErrorContains(t, err, `unknown theme "neon"`)
	require.NotNil(t, o)
	assert.Equal(t, "✓", o.Symbol(SymbolSuccess))
}

func TestOutput_StatusMessages(t *testing.T) {
	tests := []struct {
		name    string
		theme   string
		emit    func(o *Output)
		wantErr string
		wantOut string
	}{
		{"success", "default", func(o *Output) { o.Success("done %d", 3) }, "✓ done 3\n", ""},
		{"error ascii", "ascii", func(o *Output) { o.Error("bad") }, "[err] bad\n", ""},
		{"warning minimal", "minimal", func(o *Output) { o.Warning("careful") }, "careful\n", ""},
		{"info", "ascii", func(o *Output) { o.Info("note\n") }, "[info] note\n", ""},
		{"processing", "ascii", func(o *Output) { o.Processing("working") }, "[..] working\n", ""},
		{"saved", "ascii", func(o *Output) { o.FileSaved("wrote %s", "x.html") }, "[saved] wrote x.html\n", ""},
		{"results on main writer", "ascii", func(o *Output) { o.Results("3 runs") }, "", "> 3 runs\n"},
		{"plain", "default", func(o *Output) { o.Plain("<p>x</p>\n") }, "", "<p>x</p>\n"},
		{"header", "default", func(o *Output) { o.Header("Handlers") }, "", "Handlers\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, out, errOut := createTestOutput(t, tt.theme)
			tt.emit(o)
			assert.Equal(t, tt.wantErr, errOut.String())
			assert.Equal(t, tt.wantOut, out.String())
		})
	}
}

func TestOutput_WithersDoNotMutate(t *testing.T) {
	o, _, _ := createTestOutput(t, "default")
	colored := o.WithColors(true)
	assert.False(t, o.enableColors)
	assert.True(t, colored.enableColors)

	other := &bytes.Buffer{}
	redirected := o.WithWriter(other)
	assert.Same(t, other, redirected.Writer())
	assert.NotSame(t, other, o.Writer())
}

func TestOutput_Table(t *testing.T) {
	o, out, _ := createTestOutput(t, "default")
	o.Table([]string{"ID", "Priority"}, [][]string{
		{"PluginSyntaxHandler", "90"},
		{"WikiStyleHandler", "70"},
	})

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ID                   Priority", lines[0])
	assert.Equal(t, "PluginSyntaxHandler  90", lines[1])
	assert.Equal(t, "WikiStyleHandler     70", lines[2])
}
