package applemusic

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"

	"github.com/openclaw/clawgate/pkg/apierr"
)

// AppleScript output conventions shared by the track listing scripts: fields
// are joined with character id 31, records with character id 30, and lookup
// misses return a sentinel instead of an osascript error.
const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"

	playlistNotFoundSentinel = "__PLAYLIST_NOT_FOUND__"
	trackNotFoundSentinel    = "__TRACK_NOT_FOUND__"

	historyPlaylist = "Recently Played"
	libraryPlaylist = "Library"
)

// ScriptRunner executes one AppleScript snippet and returns its trimmed
// stdout.
type ScriptRunner interface {
	Run(ctx context.Context, script string) (string, error)
}

// OsaScriptRunner shells out to osascript. It only works on a macOS host
// with the Music app installed.
type OsaScriptRunner struct{}

// Run implements ScriptRunner.
func (OsaScriptRunner) Run(ctx context.Context, script string) (string, error) {
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = "osascript failed"
		}
		return "", apierr.New(http.StatusInternalServerError, "OSASCRIPT_ERROR", detail)
	}
	return strings.TrimSpace(stdout.String()), nil
}

const playlistNamesScript = `tell application "Music" to get name of every playlist`

const playbackStateScript = `
tell application "Music"
	set player_state to (get player state) as text
	if player_state is "stopped" then
		return "stopped|||"
	end if
	set track_name to ""
	set artist_name to ""
	if exists current track then
		set track_name to (name of current track)
		set artist_name to (artist of current track)
	end if
	return player_state & "|" & track_name & "|" & artist_name
end tell
`

func playPlaylistScript(name string) string {
	return fmt.Sprintf(`tell application "Music" to play playlist %q`, name)
}

func playTrackScript(track string) string {
	return fmt.Sprintf(`tell application "Music" to play (first track of playlist %q whose name is %q)`, libraryPlaylist, track)
}

func tracksOfPlaylistScript(name string) string {
	return fmt.Sprintf(`
tell application "Music"
	if not (exists playlist %[1]q) then
		return "%[2]s"
	end if
	set field_sep to character id 31
	set record_sep to character id 30
	set out to ""
	repeat with item_track in tracks of playlist %[1]q
		set line_out to (name of item_track) & field_sep & (artist of item_track) & field_sep & (album of item_track)
		if out is "" then
			set out to line_out
		else
			set out to out & record_sep & line_out
		end if
	end repeat
	return out
end tell
`, name, playlistNotFoundSentinel)
}

func searchLibraryScript(q string) string {
	return fmt.Sprintf(`
tell application "Music"
	set field_sep to character id 31
	set record_sep to character id 30
	set out to ""
	repeat with item_track in tracks of playlist %[1]q
		set track_name to (name of item_track) as text
		if track_name contains %[2]q then
			set line_out to track_name & field_sep & (artist of item_track) & field_sep & (album of item_track)
			if out is "" then
				set out to line_out
			else
				set out to out & record_sep & line_out
			end if
		end if
	end repeat
	if out is "" then
		return "%[3]s"
	end if
	return out
end tell
`, libraryPlaylist, q, trackNotFoundSentinel)
}

// parseTrackRecords decodes the separator-joined output of the track listing
// scripts into {track, artist, album} items.
func parseTrackRecords(output string) []map[string]any {
	if output == "" {
		return nil
	}
	records := strings.Split(output, recordSep)
	items := make([]map[string]any, 0, len(records))
	for _, record := range records {
		if strings.TrimSpace(record) == "" {
			continue
		}
		fields := strings.Split(record, fieldSep)
		for len(fields) < 3 {
			fields = append(fields, "")
		}
		items = append(items, map[string]any{
			"track":  strings.TrimSpace(fields[0]),
			"artist": strings.TrimSpace(fields[1]),
			"album":  strings.TrimSpace(fields[2]),
		})
	}
	return items
}
