package remote

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/dukerupert/hostvault/internal/model"
)

// FileEntry is one item of a remote directory listing.
type FileEntry struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Modified    time.Time `json:"modified"`
	IsDir       bool      `json:"is_dir"`
	Permissions string    `json:"permissions"`
}

// ListDir lists dir over SFTP, directories first, then by name ignoring case.
// An empty dir lists "/".
func (s *Session) ListDir(dir string) ([]FileEntry, error) {
	if dir == "" {
		dir = "/"
	}
	c, err := s.sftpClient()
	if err != nil {
		return nil, err
	}
	infos, err := c.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	entries := make([]FileEntry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, newFileEntry(dir, fi))
	}
	sortEntries(entries)
	return entries, nil
}

// Stat describes a single remote path.
func (s *Session) Stat(p string) (FileEntry, error) {
	c, err := s.sftpClient()
	if err != nil {
		return FileEntry{}, err
	}
	fi, err := c.Stat(p)
	if err != nil {
		return FileEntry{}, fmt.Errorf("stat %s: %w", p, err)
	}
	e := newFileEntry(path.Dir(p), fi)
	e.Path = p
	return e, nil
}

func newFileEntry(dir string, fi os.FileInfo) FileEntry {
	return FileEntry{
		Name:        fi.Name(),
		Path:        path.Join(dir, fi.Name()),
		Size:        fi.Size(),
		Modified:    fi.ModTime(),
		IsDir:       fi.IsDir(),
		Permissions: fmt.Sprintf("%03o", fi.Mode().Perm()),
	}
}

func sortEntries(entries []FileEntry) {
	slices.SortFunc(entries, func(a, b FileEntry) int {
		if a.IsDir != b.IsDir {
			if a.IsDir {
				return -1
			}
			return 1
		}
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
}

// ListDir opens a session to h, lists dir and closes the session.
func (c *Client) ListDir(ctx context.Context, h *model.Host, dir string) ([]FileEntry, error) {
	var entries []FileEntry
	err := c.WithSession(ctx, h, func(s *Session) error {
		var err error
		entries, err = s.ListDir(dir)
		return err
	})
	return entries, err
}
