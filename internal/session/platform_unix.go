//go:build !windows

package session

import (
	"os"
	"path/filepath"
)

// pathSupplement returns the Unix PATH entries to prepend when spawning the
// agent subprocess (§4.6).
func pathSupplement() []string {
	home, _ := os.UserHomeDir()
	entries := []string{
		"/opt/homebrew/bin",
		"/usr/local/bin",
		"/usr/bin",
		"/bin",
		"/usr/sbin",
		"/sbin",
	}
	if home != "" {
		entries = append(entries,
			filepath.Join(home, ".local", "bin"),
			filepath.Join(home, ".local", "share", "mise", "shims"),
			filepath.Join(home, ".cargo", "bin"),
			filepath.Join(home, ".bun", "bin"),
		)
		entries = append(entries, nvmNodeBinDirs(home)...)
	}
	return entries
}

// nvmNodeBinDirs globs $HOME/.nvm/versions/node/*/bin, per §4.6.
func nvmNodeBinDirs(home string) []string {
	matches, err := filepath.Glob(filepath.Join(home, ".nvm", "versions", "node", "*", "bin"))
	if err != nil {
		return nil
	}
	return matches
}

// resolveCommand returns the executable and argv to run directly: Unix has
// no .cmd/.bat wrapping concern.
func resolveCommand(binary string, args []string) (string, []string) {
	return binary, args
}
