package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return out.String(), err
}

func TestSanitizeCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "views.yaml")
	err := os.WriteFile(path, []byte(`
views:
  A: {coordinator: A, members: [A, B, C]}
  B: {coordinator: B, members: [B]}
  C: {coordinator: A, members: [A, C]}
`), 0o600)
	require.NoError(t, err)

	out, err := runCommand(t, "sanitize", path)
	require.NoError(t, err)

	var doc struct {
		Views struct {
			Views map[string]struct {
				Members []string `json:"members"`
			} `json:"views"`
		} `json:"views"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Equal(t, []string{"A", "C"}, doc.Views.Views["A"].Members)
	require.Equal(t, []string{"B"}, doc.Views.Views["B"].Members)
	require.Equal(t, []string{"A", "C"}, doc.Views.Views["C"].Members)
}

func TestSanitizeCommandMissingFile(t *testing.T) {
	_, err := runCommand(t, "sanitize", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestRelayConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.xml")
	err := os.WriteFile(path, []byte(`<RelayConfiguration>
  <sites>
    <site name="lon" id="1">
      <bridges><bridge name="global" config="tcp.xml"/></bridges>
    </site>
    <site name="sfo" id="2"/>
  </sites>
</RelayConfiguration>`), 0o600)
	require.NoError(t, err)

	out, err := runCommand(t, "relay-config", path)
	require.NoError(t, err)
	require.Contains(t, out, "lon")
	require.Contains(t, out, "sfo")
	require.Less(t, bytes.Index([]byte(out), []byte("lon")), bytes.Index([]byte(out), []byte("sfo")))
}
