package changetree

import (
	"encoding/json"
	"fmt"
	"strings"
)

// serializedTree is the wire form of a ChangeTree. The format version guards
// against decoding trees written by an incompatible layout.
type serializedTree struct {
	FormatVersion int       `json:"format_version"`
	Root          *TreeNode `json:"root"`
}

// FormatVersion is bumped whenever the serialized layout changes
// incompatibly. A mismatch fails deserialization; callers rebuild.
const FormatVersion = 1

// Serialize encodes the tree to JSON. The result round-trips losslessly
// through Deserialize.
func (t *ChangeTree) Serialize() ([]byte, error) {
	return json.Marshal(serializedTree{
		FormatVersion: FormatVersion,
		Root:          t.root,
	})
}

// Deserialize decodes a tree produced by Serialize. Malformed input fails
// loudly with structural validation; a partially populated tree is never
// returned.
func Deserialize(data []byte) (*ChangeTree, error) {
	var st serializedTree
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode change tree: %w", err)
	}
	if st.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("unsupported change tree format version %d (want %d)", st.FormatVersion, FormatVersion)
	}
	if st.Root == nil {
		return nil, fmt.Errorf("change tree has no root")
	}
	if st.Root.Path != "" || st.Root.Kind != KindDirectory {
		return nil, fmt.Errorf("change tree root is malformed: path %q kind %q", st.Root.Path, st.Root.Kind)
	}

	if st.Root.Children == nil {
		st.Root.Children = map[string]*TreeNode{}
	}

	tree := &ChangeTree{
		root:  st.Root,
		index: map[string]*TreeNode{},
	}
	if err := tree.validateAndIndex(st.Root, ""); err != nil {
		return nil, fmt.Errorf("change tree failed validation: %w", err)
	}
	return tree, nil
}

// validateAndIndex walks the decoded tree, checking structural invariants
// and rebuilding the path index. Directory hashes are verified against their
// children to catch tampered or truncated input.
func (t *ChangeTree) validateAndIndex(node *TreeNode, parent string) error {
	switch node.Kind {
	case KindFile:
		if len(node.Children) > 0 {
			return fmt.Errorf("file node %q has children", node.Path)
		}
		if node.Hash == "" {
			return fmt.Errorf("file node %q has no hash", node.Path)
		}
	case KindDirectory:
		// validated below
	default:
		return fmt.Errorf("node %q has invalid kind %q", node.Path, node.Kind)
	}

	if node.Path != "" {
		name := node.Name()
		if name == "" || strings.Contains(name, "/") {
			return fmt.Errorf("node path %q is malformed", node.Path)
		}
		if parentPath(node.Path) != parent {
			return fmt.Errorf("node path %q does not extend parent %q", node.Path, parent)
		}
	}

	if _, dup := t.index[node.Path]; dup {
		return fmt.Errorf("duplicate node path %q", node.Path)
	}
	t.index[node.Path] = node

	if node.IsDir() {
		for name, child := range node.Children {
			if child == nil {
				return fmt.Errorf("directory %q has nil child %q", node.Path, name)
			}
			if child.Name() != name {
				return fmt.Errorf("directory %q child keyed %q but named %q", node.Path, name, child.Name())
			}
			if err := t.validateAndIndex(child, node.Path); err != nil {
				return err
			}
		}
		if got, want := node.Hash, node.computeDirHash(); got != want {
			return fmt.Errorf("directory %q hash mismatch", node.Path)
		}
	}

	return nil
}
