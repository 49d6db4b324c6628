package snapshot

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/semindex-mcp/internal/changetree"
)

// SchemaVersion guards the snapshot envelope layout. A mismatch is treated
// as corruption: the loader forces a rebuild rather than guessing a
// migration.
const SchemaVersion = 1

const snapshotExt = ".json"

// envelope is the on-disk form of one workspace's snapshot.
type envelope struct {
	Version       int             `json:"version"`
	WorkspacePath string          `json:"workspace_path"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Tree          json.RawMessage `json:"tree"`
}

// Metadata describes a stored snapshot without decoding its tree.
type Metadata struct {
	WorkspacePath string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SizeBytes     int64
}

// Store persists change trees, one JSON file per workspace under a cache
// directory. The store is the sole writer of its files; saves are atomic
// with backup rotation, and loads degrade corruption to "no cache" rather
// than propagating decode errors.
type Store struct {
	cacheDir string
}

// DefaultCacheDir returns the per-user snapshot directory.
func DefaultCacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".semindex", "snapshots"), nil
}

// NewStore creates a Store rooted at cacheDir, creating the directory if
// needed.
func NewStore(cacheDir string) (*Store, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &Store{cacheDir: cacheDir}, nil
}

// encodeWorkspacePath maps a workspace path to a filesystem-safe, reversible
// file name.
func encodeWorkspacePath(workspacePath string) string {
	return base64.URLEncoding.EncodeToString([]byte(workspacePath))
}

// decodeWorkspacePath reverses encodeWorkspacePath.
func decodeWorkspacePath(name string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(name)
	if err != nil {
		return "", fmt.Errorf("invalid snapshot file name %q: %w", name, err)
	}
	return string(decoded), nil
}

// primaryPath returns the snapshot file path for a workspace.
func (s *Store) primaryPath(workspacePath string) string {
	return filepath.Join(s.cacheDir, encodeWorkspacePath(workspacePath)+snapshotExt)
}

// Save writes the tree for workspacePath atomically: temp write, backup
// rotation of the existing primary, rename, backup removal. On any failure
// the previous primary is restored, so the on-disk state is never left
// newer-but-broken.
func (s *Store) Save(workspacePath string, tree *changetree.ChangeTree) error {
	treeData, err := tree.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize tree: %w", err)
	}

	now := time.Now().UTC()
	createdAt := now
	if meta, err := s.GetMetadata(workspacePath); err == nil && !meta.CreatedAt.IsZero() {
		createdAt = meta.CreatedAt
	}

	data, err := json.Marshal(envelope{
		Version:       SchemaVersion,
		WorkspacePath: workspacePath,
		CreatedAt:     createdAt,
		UpdatedAt:     now,
		Tree:          treeData,
	})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	primary := s.primaryPath(workspacePath)
	tmp := primary + ".tmp"
	bak := primary + ".bak"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot temp file: %w", err)
	}

	hadPrimary := false
	if _, err := os.Stat(primary); err == nil {
		hadPrimary = true
		if err := copyFile(primary, bak); err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("failed to back up snapshot: %w", err)
		}
	}

	if err := os.Rename(tmp, primary); err != nil {
		_ = os.Remove(tmp)
		if hadPrimary {
			_ = os.Rename(bak, primary)
		}
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	_ = os.Remove(bak)
	return nil
}

// Load reads and validates the snapshot for workspacePath. An invalid
// primary falls back to the backup, which is promoted on success. If both
// are invalid they are deleted and (nil, nil) is returned: the caller must
// perform a full rebuild. Corruption never surfaces as an error.
func (s *Store) Load(workspacePath string) (*changetree.ChangeTree, error) {
	primary := s.primaryPath(workspacePath)
	bak := primary + ".bak"

	if tree, err := s.readSnapshot(primary, workspacePath); err == nil {
		_ = os.Remove(bak)
		return tree, nil
	}

	if tree, err := s.readSnapshot(bak, workspacePath); err == nil {
		// Promote the valid backup back to primary
		if err := os.Rename(bak, primary); err != nil {
			return nil, fmt.Errorf("failed to promote snapshot backup: %w", err)
		}
		return tree, nil
	}

	_ = os.Remove(primary)
	_ = os.Remove(bak)
	return nil, nil
}

// readSnapshot decodes and validates one snapshot file.
func (s *Store) readSnapshot(path, workspacePath string) (*changetree.ChangeTree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if env.Version != SchemaVersion {
		return nil, fmt.Errorf("snapshot version %d does not match %d", env.Version, SchemaVersion)
	}
	if env.WorkspacePath != workspacePath {
		return nil, fmt.Errorf("snapshot workspace %q does not match %q", env.WorkspacePath, workspacePath)
	}

	tree, err := changetree.Deserialize(env.Tree)
	if err != nil {
		return nil, err
	}
	return tree, nil
}

// Delete removes the snapshot files for a workspace. Missing files are not
// an error.
func (s *Store) Delete(workspacePath string) error {
	primary := s.primaryPath(workspacePath)
	for _, path := range []string{primary, primary + ".bak", primary + ".tmp"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove snapshot: %w", err)
		}
	}
	return nil
}

// Exists reports whether a primary snapshot file is present for the
// workspace. It does not validate the contents.
func (s *Store) Exists(workspacePath string) bool {
	_, err := os.Stat(s.primaryPath(workspacePath))
	return err == nil
}

// GetMetadata returns the stored timestamps and size for a workspace's
// snapshot.
func (s *Store) GetMetadata(workspacePath string) (*Metadata, error) {
	path := s.primaryPath(workspacePath)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	return &Metadata{
		WorkspacePath: env.WorkspacePath,
		CreatedAt:     env.CreatedAt,
		UpdatedAt:     env.UpdatedAt,
		SizeBytes:     info.Size(),
	}, nil
}

// Cleanup removes snapshots not updated within maxAge, plus any stale
// .tmp/.bak siblings. It returns the number of snapshot files removed.
func (s *Store) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(s.cacheDir, name)

		// Transient files left behind by an interrupted save
		if strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".bak") {
			if info, err := entry.Info(); err == nil && info.ModTime().Before(cutoff) {
				_ = os.Remove(path)
			}
			continue
		}
		if !strings.HasSuffix(name, snapshotExt) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		updatedAt := info.ModTime()

		var env envelope
		if data, err := os.ReadFile(path); err == nil {
			if err := json.Unmarshal(data, &env); err == nil && !env.UpdatedAt.IsZero() {
				updatedAt = env.UpdatedAt
			}
		}

		if updatedAt.Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}

	return removed, nil
}

// GetAllCachedWorkspaces returns the workspace paths that have a primary
// snapshot file, decoded from their file names.
func (s *Store) GetAllCachedWorkspaces() ([]string, error) {
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var workspaces []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		decoded, err := decodeWorkspacePath(strings.TrimSuffix(name, snapshotExt))
		if err != nil {
			continue // stray file, not ours
		}
		workspaces = append(workspaces, decoded)
	}
	return workspaces, nil
}

// copyFile copies src to dst, replacing dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
