//go:build windows

package session

import (
	"os"
	"path/filepath"
	"strings"
)

// pathSupplement returns the Windows PATH entries to prepend when spawning
// the agent subprocess (§4.6).
func pathSupplement() []string {
	var entries []string
	if appData := os.Getenv("APPDATA"); appData != "" {
		entries = append(entries, filepath.Join(appData, "npm"))
	}
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		entries = append(entries, filepath.Join(localAppData, "Microsoft", "WindowsApps"))
	}
	if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
		entries = append(entries,
			filepath.Join(userProfile, ".cargo", "bin"),
			filepath.Join(userProfile, "scoop", "shims"),
		)
	}
	if programData := os.Getenv("PROGRAMDATA"); programData != "" {
		entries = append(entries, filepath.Join(programData, "chocolatey", "bin"))
	}
	return entries
}

// resolveCommand wraps the executable through `cmd /D /S /C "<quoted>"`
// when it resolves to a .cmd or .bat, per §4.6; otherwise it execs directly.
func resolveCommand(binary string, args []string) (string, []string) {
	ext := strings.ToLower(filepath.Ext(binary))
	if ext != ".cmd" && ext != ".bat" {
		return binary, args
	}

	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, quoteArg(binary))
	for _, a := range args {
		quoted = append(quoted, quoteArg(a))
	}
	line := strings.Join(quoted, " ")
	return "cmd", []string{"/D", "/S", "/C", line}
}

// quoteArg applies Windows command-line quoting: wrap in double quotes and
// escape embedded quotes, needed because /S preserves the quoting exactly
// as given rather than re-tokenizing it.
func quoteArg(a string) string {
	if a == "" {
		return `""`
	}
	if !strings.ContainsAny(a, " \t\"") {
		return a
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range a {
		if r == '"' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}
