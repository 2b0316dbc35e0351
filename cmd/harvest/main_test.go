package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const itemWithPolicies = `{
  "uuid": "abc-1",
  "lastModified": "2024-03-14 10:00:00.0",
  "parentCollection": {"name": "Theses"},
  "parentCommunityList": [{"name": "Engineering"}],
  "metadata": [
    {"key": "dc.date.accessioned", "value": "2024-01-01T00:00:00Z"},
    {"key": "dc.title", "value": "On Bridges"}
  ],
  "bitstreams": [{"uuid": "b1", "policies": [{"action": "READ", "startDate": "2024-1-15"}]}]
}`

func TestTransformCommandPrintsDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "item.json")
	require.NoError(t, os.WriteFile(path, []byte(itemWithPolicies), 0o600))

	var out bytes.Buffer
	cmd := &TransformCmd{File: path}
	require.NoError(t, cmd.Run(&globals{out: &out}))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, "abc-1", doc["uuid"])
	assert.Equal(t, "READ", doc["policies.policy0.action"])
	assert.EqualValues(t, 14, doc["embargoDuration"])
	assert.Equal(t, "On Bridges", doc["dc.title.text"])
}

func TestTransformCommandRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "item.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))
	err := (&TransformCmd{File: path}).Run(&globals{out: &bytes.Buffer{}})
	require.Error(t, err)
}

func TestCLIParsesRunFlags(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("harvest"))
	require.NoError(t, err)
	_, err = parser.Parse([]string{"run", "--date", "2024-03-14", "--dry-run", "--workers", "4"})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-14", cli.Run.Date)
	assert.True(t, cli.Run.DryRun)
	assert.Equal(t, 4, cli.Run.Workers)
}
