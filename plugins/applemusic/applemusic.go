// Package applemusic drives the macOS Music app through osascript. Reads
// cover playlists, playback state, listening history and library search;
// actions control playback and always preview before touching the player.
package applemusic

import (
	"context"
	"fmt"
	"strings"

	"github.com/openclaw/clawgate/pkg/apierr"
	"github.com/openclaw/clawgate/pkg/manifest"
	"github.com/openclaw/clawgate/pkg/plugin"
)

// Plugin implements plugin.Plugin over a ScriptRunner.
type Plugin struct {
	runner   ScriptRunner
	manifest *manifest.Plugin
}

var _ plugin.Plugin = (*Plugin)(nil)

// New returns the plugin. A nil runner falls back to osascript.
func New(runner ScriptRunner) *Plugin {
	if runner == nil {
		runner = OsaScriptRunner{}
	}
	return &Plugin{runner: runner, manifest: newManifest()}
}

func newManifest() *manifest.Plugin {
	views := []string{manifest.ViewHeaders, manifest.ViewBody}
	playbackEmits := []string{"origin", "resource_type"}
	return &manifest.Plugin{
		ID:          "apple_music",
		Name:        "Apple Music",
		Version:     "0.1.0",
		RuntimeMode: manifest.RuntimeInProcess,
		Resources: []manifest.Resource{
			{Name: "playlists", CapabilityID: "apple_music.playlists.read", AllowedViews: views},
			{Name: "playback", CapabilityID: "apple_music.playback.read", AllowedViews: views},
			{Name: "history", CapabilityID: "apple_music.history.read", AllowedViews: views},
			{Name: "playlist_tracks", CapabilityID: "apple_music.playlist_tracks.read", AllowedViews: views},
			{Name: "tracks", CapabilityID: "apple_music.tracks.read", AllowedViews: views},
		},
		RequiredScopes: []string{"music.playback"},
		DefaultPolicy:  map[string]any{"max_limit": 50},
		Actions: []manifest.Action{
			{
				Name:            "play",
				CapabilityID:    "apple_music.playback.play",
				ResourceType:    "playback",
				RiskTier:        manifest.TierTransactional,
				RoutePattern:    "/:play/{phase}",
				SupportsPropose: true,
				Mutating:        true,
				EmitsAttributes: playbackEmits,
			},
			{
				Name:            "pause",
				CapabilityID:    "apple_music.playback.pause",
				ResourceType:    "playback",
				RiskTier:        manifest.TierTransactional,
				RoutePattern:    "/:pause/{phase}",
				SupportsPropose: true,
				Mutating:        true,
				EmitsAttributes: playbackEmits,
			},
			{
				Name:            "next_track",
				CapabilityID:    "apple_music.playback.next_track",
				ResourceType:    "playback",
				RiskTier:        manifest.TierTransactional,
				RoutePattern:    "/:next_track/{phase}",
				SupportsPropose: true,
				Mutating:        true,
				EmitsAttributes: playbackEmits,
			},
			{
				Name:            "play_song",
				CapabilityID:    "apple_music.playback.play_song",
				ResourceType:    "track",
				RiskTier:        manifest.TierTransactional,
				RoutePattern:    "/:play_song/{phase}",
				SupportsPropose: true,
				Mutating:        true,
				EmitsAttributes: playbackEmits,
			},
			{
				Name:            "play",
				CapabilityID:    "apple_music.playlist.play",
				Resource:        "playlists",
				ResourceType:    "playlist",
				RiskTier:        manifest.TierTransactional,
				RoutePattern:    "/playlists/{resource_id}:play/{phase}",
				SupportsPropose: true,
				Mutating:        true,
				EmitsAttributes: []string{"origin", "resource_type", "container"},
			},
		},
	}
}

// Manifest implements plugin.Plugin.
func (p *Plugin) Manifest() *manifest.Plugin { return p.manifest }

// ListResource implements plugin.Plugin.
func (p *Plugin) ListResource(ctx context.Context, resource string, query plugin.Query) (*plugin.ReadResult, error) {
	switch resource {
	case "playlists":
		items, err := p.listPlaylists(ctx, query)
		if err != nil {
			return nil, err
		}
		policy := make([]plugin.PolicyItem, 0, len(items))
		for idx, item := range items {
			policy = append(policy, plugin.PolicyItem{
				DataRef: fmt.Sprintf("items[%d]", idx),
				Attrs: map[string]any{
					"resource_type": "playlist",
					"origin":        "apple_music",
					"container":     item["name"],
				},
			})
		}
		return listResult(items, policy), nil

	case "playback":
		playback, err := p.currentPlayback(ctx)
		if err != nil {
			return nil, err
		}
		return listResult([]map[string]any{playback}, []plugin.PolicyItem{{
			DataRef: "items[0]",
			Attrs:   map[string]any{"resource_type": "playback", "origin": "apple_music"},
		}}), nil

	case "history":
		items, err := p.historyTracks(ctx, query.Q)
		if err != nil {
			return nil, err
		}
		items = truncate(items, query.Limit)
		return listResult(items, trackPolicy(items, historyPlaylist)), nil

	case "playlist_tracks":
		name := strings.TrimSpace(query.Filters["playlist"])
		if name == "" {
			return nil, apierr.Validation("playlist_tracks requires playlist filter")
		}
		items, err := p.playlistTracks(ctx, name)
		if err != nil {
			return nil, err
		}
		items = truncate(filterTracks(items, query.Q), query.Limit)
		return listResult(items, trackPolicy(items, name)), nil

	case "tracks":
		q := strings.TrimSpace(query.Q)
		if q == "" {
			return nil, apierr.Validation("tracks resource requires q parameter")
		}
		items, err := p.searchLibrary(ctx, q)
		if err != nil {
			return nil, err
		}
		if artist := strings.TrimSpace(query.Filters["artist"]); artist != "" {
			filtered := make([]map[string]any, 0, len(items))
			for _, item := range items {
				if strings.EqualFold(fmt.Sprint(item["artist"]), artist) {
					filtered = append(filtered, item)
				}
			}
			items = filtered
		}
		items = truncate(items, query.Limit)
		return listResult(items, trackPolicy(items, libraryPlaylist)), nil

	default:
		return nil, apierr.NotFoundf("resource '%s' not found", resource)
	}
}

// GetResource implements plugin.Plugin.
func (p *Plugin) GetResource(ctx context.Context, resource, resourceID, view string, query plugin.Query) (*plugin.ReadResult, error) {
	switch resource {
	case "playlists":
		playlists, err := p.listPlaylists(ctx, plugin.Query{Limit: 100})
		if err != nil {
			return nil, err
		}
		for _, playlist := range playlists {
			if playlist["id"] == resourceID {
				return &plugin.ReadResult{
					Data: playlist,
					PolicyItems: []plugin.PolicyItem{{
						DataRef: "self",
						Attrs: map[string]any{
							"resource_type": "playlist",
							"origin":        "apple_music",
							"container":     playlist["name"],
						},
					}},
				}, nil
			}
		}
		return nil, apierr.NotFoundf("playlist '%s' not found", resourceID)

	case "playback":
		playback, err := p.currentPlayback(ctx)
		if err != nil {
			return nil, err
		}
		return &plugin.ReadResult{
			Data: playback,
			PolicyItems: []plugin.PolicyItem{{
				DataRef: "self",
				Attrs:   map[string]any{"resource_type": "playback", "origin": "apple_music"},
			}},
		}, nil

	case "playlist_tracks":
		items, err := p.playlistTracks(ctx, resourceID)
		if err != nil {
			return nil, err
		}
		return &plugin.ReadResult{
			Data: map[string]any{"name": resourceID, "items": anySlice(items)},
			PolicyItems: []plugin.PolicyItem{{
				DataRef: "self",
				Attrs: map[string]any{
					"resource_type": "playlist",
					"origin":        "apple_music",
					"container":     resourceID,
				},
			}},
		}, nil

	case "tracks":
		items, err := p.searchLibrary(ctx, resourceID)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if strings.EqualFold(fmt.Sprint(item["track"]), resourceID) {
				return trackResult(item), nil
			}
		}
		return nil, apierr.NotFoundf("track '%s' not found", resourceID)

	case "history":
		items, err := p.historyTracks(ctx, "")
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if strings.EqualFold(fmt.Sprint(item["track"]), resourceID) {
				return trackResult(item), nil
			}
		}
		return nil, apierr.NotFoundf("history entry '%s' not found", resourceID)

	default:
		return nil, apierr.NotFoundf("resource '%s' not found", resource)
	}
}

// RunAction implements plugin.Plugin.
func (p *Plugin) RunAction(ctx context.Context, actx plugin.ActionContext, args map[string]any) (*plugin.ActionResult, error) {
	switch {
	case actx.Action.Name == "play" && actx.Resource == "playlists":
		name, _ := args["playlist_name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			name = actx.ResourceID
		}
		if name == "" {
			return nil, apierr.Validation("playlist action requires playlist_name")
		}
		return p.runPlayback(ctx, actx.Phase,
			playPlaylistScript(name),
			fmt.Sprintf("Play playlist '%s'", name),
			map[string]any{"playlist_name": name})

	case actx.Action.Name == "play_song":
		return p.playSong(ctx, actx.Phase, args)

	case actx.Action.Name == "play":
		return p.runPlayback(ctx, actx.Phase,
			`tell application "Music" to play`,
			"Play Apple Music",
			map[string]any{"state": "playing"})

	case actx.Action.Name == "pause":
		return p.runPlayback(ctx, actx.Phase,
			`tell application "Music" to pause`,
			"Pause Apple Music",
			map[string]any{"state": "paused"})

	case actx.Action.Name == "next_track":
		return p.runPlayback(ctx, actx.Phase,
			`tell application "Music" to next track`,
			"Skip to next track",
			map[string]any{"state": "advanced"})

	default:
		return nil, apierr.NotFoundf("action '%s' not implemented", actx.Action.Name)
	}
}

// playSong resolves the song in the library during both phases, so a propose
// already reports whether the track exists.
func (p *Plugin) playSong(ctx context.Context, phase string, args map[string]any) (*plugin.ActionResult, error) {
	song, _ := args["song"].(string)
	song = strings.TrimSpace(song)
	if song == "" {
		return nil, apierr.Validation("play_song requires args.song")
	}

	matches, err := p.searchLibrary(ctx, song)
	if err != nil {
		return nil, err
	}
	if artist, _ := args["artist"].(string); strings.TrimSpace(artist) != "" {
		filtered := make([]map[string]any, 0, len(matches))
		for _, item := range matches {
			if strings.EqualFold(fmt.Sprint(item["artist"]), strings.TrimSpace(artist)) {
				filtered = append(filtered, item)
			}
		}
		matches = filtered
	}
	if len(matches) == 0 {
		return nil, apierr.NotFoundf("song '%s' not found in library", song)
	}

	chosen := matches[0]
	track := fmt.Sprint(chosen["track"])
	result := map[string]any{
		"track":  chosen["track"],
		"artist": chosen["artist"],
		"album":  chosen["album"],
	}
	if phase == plugin.PhaseExecute {
		output, err := p.runner.Run(ctx, playTrackScript(track))
		if err != nil {
			return nil, err
		}
		if output != "" {
			result["output"] = output
		}
	}
	return &plugin.ActionResult{
		Status:         plugin.StatusSuccess,
		Summary:        fmt.Sprintf("Play song '%s'", track),
		Result:         result,
		ProposedEffect: result,
		PolicyItems: []plugin.PolicyItem{{
			DataRef: "result",
			Attrs:   map[string]any{"resource_type": "track", "origin": "apple_music"},
		}},
	}, nil
}

func (p *Plugin) runPlayback(ctx context.Context, phase, script, summary string, result map[string]any) (*plugin.ActionResult, error) {
	if phase == plugin.PhaseExecute {
		output, err := p.runner.Run(ctx, script)
		if err != nil {
			return nil, err
		}
		if output != "" {
			result["output"] = output
		}
	}
	return &plugin.ActionResult{
		Status:         plugin.StatusSuccess,
		Summary:        summary,
		Result:         result,
		ProposedEffect: result,
		PolicyItems: []plugin.PolicyItem{{
			DataRef: "result",
			Attrs:   map[string]any{"resource_type": "playback", "origin": "apple_music"},
		}},
	}, nil
}

func (p *Plugin) listPlaylists(ctx context.Context, query plugin.Query) ([]map[string]any, error) {
	output, err := p.runner.Run(ctx, playlistNamesScript)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, value := range strings.Split(output, ",") {
		if name := strings.TrimSpace(value); name != "" {
			names = append(names, name)
		}
	}
	if query.Q != "" {
		needle := strings.ToLower(query.Q)
		filtered := names[:0]
		for _, name := range names {
			if strings.Contains(strings.ToLower(name), needle) {
				filtered = append(filtered, name)
			}
		}
		names = filtered
	}
	if query.Limit > 0 && len(names) > query.Limit {
		names = names[:query.Limit]
	}
	items := make([]map[string]any, 0, len(names))
	for _, name := range names {
		items = append(items, map[string]any{"id": name, "name": name})
	}
	return items, nil
}

func (p *Plugin) currentPlayback(ctx context.Context) (map[string]any, error) {
	output, err := p.runner.Run(ctx, playbackStateScript)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(output, "|")
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return map[string]any{
		"state":  parts[0],
		"track":  parts[1],
		"artist": parts[2],
	}, nil
}

// historyTracks reads the Recently Played playlist. A missing playlist means
// no history rather than an error.
func (p *Plugin) historyTracks(ctx context.Context, q string) ([]map[string]any, error) {
	output, err := p.runner.Run(ctx, tracksOfPlaylistScript(historyPlaylist))
	if err != nil {
		return nil, err
	}
	if output == playlistNotFoundSentinel {
		return nil, nil
	}
	return filterTracks(parseTrackRecords(output), q), nil
}

func (p *Plugin) playlistTracks(ctx context.Context, name string) ([]map[string]any, error) {
	output, err := p.runner.Run(ctx, tracksOfPlaylistScript(name))
	if err != nil {
		return nil, err
	}
	if output == playlistNotFoundSentinel {
		return nil, apierr.NotFoundf("playlist '%s' not found", name)
	}
	return parseTrackRecords(output), nil
}

func (p *Plugin) searchLibrary(ctx context.Context, q string) ([]map[string]any, error) {
	output, err := p.runner.Run(ctx, searchLibraryScript(q))
	if err != nil {
		return nil, err
	}
	if output == trackNotFoundSentinel {
		return nil, nil
	}
	return parseTrackRecords(output), nil
}

func filterTracks(items []map[string]any, q string) []map[string]any {
	if q == "" {
		return items
	}
	needle := strings.ToLower(q)
	filtered := make([]map[string]any, 0, len(items))
	for _, item := range items {
		haystack := strings.ToLower(fmt.Sprint(item["track"], " ", item["artist"], " ", item["album"]))
		if strings.Contains(haystack, needle) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

func truncate(items []map[string]any, limit int) []map[string]any {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func trackPolicy(items []map[string]any, container string) []plugin.PolicyItem {
	policy := make([]plugin.PolicyItem, 0, len(items))
	for idx := range items {
		policy = append(policy, plugin.PolicyItem{
			DataRef: fmt.Sprintf("items[%d]", idx),
			Attrs: map[string]any{
				"resource_type": "track",
				"origin":        "apple_music",
				"container":     container,
			},
		})
	}
	return policy
}

func listResult(items []map[string]any, policy []plugin.PolicyItem) *plugin.ReadResult {
	return &plugin.ReadResult{
		Data:        map[string]any{"items": anySlice(items), "next_cursor": nil},
		PolicyItems: policy,
	}
}

func anySlice(items []map[string]any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out
}

func trackResult(item map[string]any) *plugin.ReadResult {
	return &plugin.ReadResult{
		Data: item,
		PolicyItems: []plugin.PolicyItem{{
			DataRef: "self",
			Attrs:   map[string]any{"resource_type": "track", "origin": "apple_music"},
		}},
	}
}
