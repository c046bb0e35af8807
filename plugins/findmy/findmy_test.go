package findmy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/clawgate/pkg/apierr"
	"github.com/openclaw/clawgate/pkg/manifest"
	"github.com/openclaw/clawgate/pkg/plugin"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func writeSnapshot(t *testing.T, dir, name string, snap map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	return writeFile(t, dir, name, raw)
}

// newFixture returns a plugin with a session file and two device snapshots.
func newFixture(t *testing.T) *Plugin {
	t.Helper()
	dir := t.TempDir()
	account := writeFile(t, dir, "findmy_account.json", []byte("{}"))
	phone := writeSnapshot(t, dir, "dad_phone.json", map[string]any{
		"latitude":            52.37,
		"longitude":           4.89,
		"horizontal_accuracy": 12.5,
		"timestamp":           "2025-06-01T10:00:00Z",
	})
	tag := writeSnapshot(t, dir, "bike_tag.json", map[string]any{
		"latitude":  52.01,
		"longitude": 4.35,
		"timestamp": "2025-06-01T09:30:00Z",
	})
	return New(Config{AccountPath: account, DeviceFiles: []string{phone, tag}})
}

func TestManifestValid(t *testing.T) {
	m := New(Config{}).Manifest()
	assert.Equal(t, "find_my", m.ID)
	require.Len(t, m.Actions, 1)
	assert.Equal(t, manifest.TierReadOnly, m.Actions[0].RiskTier)
	assert.False(t, m.Actions[0].Mutating)

	m.ApplyDefaults()
	require.NoError(t, m.Validate())
}

func TestListFriends(t *testing.T) {
	p := newFixture(t)

	res, err := p.ListResource(context.Background(), "friends", plugin.Query{Limit: 10})
	require.NoError(t, err)

	data := res.Data.(map[string]any)
	items := data["items"].([]any)
	require.Len(t, items, 2)

	first := items[0].(map[string]any)
	assert.Equal(t, "dad_phone", first["id"])
	assert.Equal(t, "dad_phone", first["label"])
	assert.Equal(t, 52.37, first["latitude"])
	assert.Equal(t, 12.5, first["accuracy"])
	assert.Equal(t, "2025-06-01T10:00:00Z", first["timestamp"])

	second := items[1].(map[string]any)
	assert.Equal(t, "bike_tag", second["id"])
	assert.Nil(t, second["accuracy"])

	require.Len(t, res.PolicyItems, 2)
	assert.Equal(t, "items[0]", res.PolicyItems[0].DataRef)
	assert.Equal(t, "dad_phone", res.PolicyItems[0].Attrs["principal"])
	assert.Equal(t, "find_my", res.PolicyItems[0].Attrs["origin"])
	assert.Equal(t, "2025-06-01T10:00:00Z", res.PolicyItems[0].Attrs["time"])
	assert.Nil(t, data["next_cursor"])
}

func TestListFriendsFilterAndPaging(t *testing.T) {
	p := newFixture(t)

	res, err := p.ListResource(context.Background(), "friends", plugin.Query{Limit: 10, Q: "BIKE"})
	require.NoError(t, err)
	items := res.Data.(map[string]any)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "bike_tag", items[0].(map[string]any)["id"])

	res, err = p.ListResource(context.Background(), "friends", plugin.Query{Limit: 1})
	require.NoError(t, err)
	data := res.Data.(map[string]any)
	assert.Len(t, data["items"], 1)
	assert.Equal(t, "1", data["next_cursor"])

	res, err = p.ListResource(context.Background(), "friends", plugin.Query{Limit: 1, Cursor: "1"})
	require.NoError(t, err)
	data = res.Data.(map[string]any)
	assert.Equal(t, "bike_tag", data["items"].([]any)[0].(map[string]any)["id"])
	assert.Nil(t, data["next_cursor"])
}

func TestGetFriend(t *testing.T) {
	p := newFixture(t)

	res, err := p.GetResource(context.Background(), "friends", "bike_tag", "", plugin.Query{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "bike_tag", res.Data.(map[string]any)["id"])
	require.Len(t, res.PolicyItems, 1)
	assert.Equal(t, "self", res.PolicyItems[0].DataRef)

	_, err = p.GetResource(context.Background(), "friends", "unknown_tag", "", plugin.Query{Limit: 10})
	require.Error(t, err)
	assert.Equal(t, "friend 'unknown_tag' not found", apierr.From(err).Message)
}

func TestMissingSessionFile(t *testing.T) {
	dir := t.TempDir()
	device := writeSnapshot(t, dir, "tag.json", map[string]any{"latitude": 1.0})
	p := New(Config{
		AccountPath: filepath.Join(dir, "missing_account.json"),
		DeviceFiles: []string{device},
	})

	_, err := p.ListResource(context.Background(), "friends", plugin.Query{Limit: 10})
	require.Error(t, err)
	apiErr := apierr.From(err)
	assert.Equal(t, "FINDMY_SESSION_MISSING", apiErr.Code)
	assert.Contains(t, apiErr.Message, "missing_account.json")
}

func TestNoDeviceFilesConfigured(t *testing.T) {
	dir := t.TempDir()
	account := writeFile(t, dir, "findmy_account.json", []byte("{}"))
	p := New(Config{AccountPath: account})

	_, err := p.ListResource(context.Background(), "friends", plugin.Query{Limit: 10})
	require.Error(t, err)
	apiErr := apierr.From(err)
	assert.Equal(t, "FINDMY_DEVICES_MISSING", apiErr.Code)
	assert.Equal(t, "no FINDMY_DEVICE_FILES configured", apiErr.Message)
}

func TestMissingDeviceFileSkipped(t *testing.T) {
	dir := t.TempDir()
	account := writeFile(t, dir, "findmy_account.json", []byte("{}"))
	present := writeSnapshot(t, dir, "present.json", map[string]any{"latitude": 1.0})
	p := New(Config{
		AccountPath: account,
		DeviceFiles: []string{filepath.Join(dir, "gone.json"), present},
	})

	res, err := p.ListResource(context.Background(), "friends", plugin.Query{Limit: 10})
	require.NoError(t, err)
	items := res.Data.(map[string]any)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "present", items[0].(map[string]any)["id"])
}

func TestBadSnapshotRejected(t *testing.T) {
	dir := t.TempDir()
	account := writeFile(t, dir, "findmy_account.json", []byte("{}"))
	bad := writeFile(t, dir, "bad.json", []byte("{not json"))
	p := New(Config{AccountPath: account, DeviceFiles: []string{bad}})

	_, err := p.ListResource(context.Background(), "friends", plugin.Query{Limit: 10})
	require.Error(t, err)
	assert.Contains(t, apierr.From(err).Message, "bad.json is not valid JSON")
}

func TestRefreshAction(t *testing.T) {
	p := newFixture(t)

	t.Run("propose previews without reading snapshots", func(t *testing.T) {
		out, err := p.RunAction(context.Background(), plugin.ActionContext{
			PluginID: "find_my",
			Phase:    plugin.PhasePropose,
			Action:   &manifest.Action{Name: "refresh"},
		}, nil)
		require.NoError(t, err)

		assert.Equal(t, "Refresh Find My locations", out.Summary)
		assert.Equal(t, map[string]any{"count": 0}, out.Result)
		assert.Equal(t, map[string]any{"count": 0}, out.ProposedEffect)
	})

	t.Run("execute reports every location", func(t *testing.T) {
		out, err := p.RunAction(context.Background(), plugin.ActionContext{
			PluginID: "find_my",
			Phase:    plugin.PhaseExecute,
			Action:   &manifest.Action{Name: "refresh"},
		}, nil)
		require.NoError(t, err)

		assert.Equal(t, "Refreshed 2 Find My locations", out.Summary)
		assert.Equal(t, 2, out.Result["count"])
		assert.Len(t, out.Result["items"], 2)
		assert.Equal(t, map[string]any{"count": 2}, out.ProposedEffect)
	})

	t.Run("unknown action", func(t *testing.T) {
		_, err := p.RunAction(context.Background(), plugin.ActionContext{
			PluginID: "find_my",
			Phase:    plugin.PhaseExecute,
			Action:   &manifest.Action{Name: "locate"},
		}, nil)
		require.Error(t, err)
		assert.Equal(t, "action 'locate' not implemented", apierr.From(err).Message)
	})
}

func TestNewFromEnv(t *testing.T) {
	dir := t.TempDir()
	account := writeFile(t, dir, "findmy_account.json", []byte("{}"))
	tag := writeSnapshot(t, dir, "tag.json", map[string]any{"latitude": 3.14})

	t.Setenv("FINDMY_ACCOUNT_JSON", account)
	t.Setenv("FINDMY_DEVICE_FILES", tag+" , ")

	p := NewFromEnv()
	res, err := p.ListResource(context.Background(), "friends", plugin.Query{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, res.Data.(map[string]any)["items"], 1)
}
