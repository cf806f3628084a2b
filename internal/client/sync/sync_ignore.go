package sync

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"
)

const IgnoreFileName = ".davsyncignore"

// SyncIgnoreList holds gitignore style rules read from the local root.
// Ignored paths are never downloaded, recorded or deleted.
type SyncIgnoreList struct {
	baseDir string
	fs      afero.Fs
	ignore  *gitignore.GitIgnore
	rules   int
}

func NewSyncIgnoreList(afs afero.Fs, baseDir string) *SyncIgnoreList {
	return &SyncIgnoreList{
		baseDir: baseDir,
		fs:      afs,
		ignore:  gitignore.CompileIgnoreLines(),
	}
}

// Load reads the ignore file. A missing file leaves the list empty.
func (s *SyncIgnoreList) Load() error {
	path := filepath.Join(s.baseDir, IgnoreFileName)
	data, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("read ignore file %q: %w", path, err)
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	s.rules = 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			s.rules++
		}
	}

	s.ignore = gitignore.CompileIgnoreLines(lines...)
	slog.Debug("loaded ignore rules", "path", path, "rules", s.rules)
	return nil
}

// Rules returns the number of rules loaded from the ignore file.
func (s *SyncIgnoreList) Rules() int {
	return s.rules
}

// ShouldIgnore matches a relative path against the rules. The ignore file
// itself is always ignored.
func (s *SyncIgnoreList) ShouldIgnore(p SyncPath) bool {
	if p == IgnoreFileName {
		return true
	}
	return s.ignore.MatchesPath(p.String())
}
