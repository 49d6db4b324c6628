package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Chunk represents a bounded slice of a file's content sized to an embedding
// model's input limit.
type Chunk struct {
	// Identification
	Path        string // Workspace-relative path of the source file
	ContentHash string // Hex SHA-256 of the whole file's content

	// Content
	Content    string
	ChunkHash  string // Hex SHA-256 of this chunk's content
	TokenCount int

	// Location
	StartLine int
	EndLine   int
}

// ValidateContent checks if the chunk content is valid
func (c *Chunk) ValidateContent() error {
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}

	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}

	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}

	return nil
}

// ComputeTokenCount estimates the number of tokens in the chunk
// Uses a simple heuristic: characters / 4
func (c *Chunk) ComputeTokenCount() int {
	c.TokenCount = len(c.Content) / 4
	return c.TokenCount
}

// ComputeChunkHash computes the SHA-256 hash of the chunk content
func (c *Chunk) ComputeChunkHash() {
	sum := sha256.Sum256([]byte(c.Content))
	c.ChunkHash = hex.EncodeToString(sum[:])
}

// Validate performs comprehensive validation of the chunk
func (c *Chunk) Validate() error {
	if err := c.ValidateContent(); err != nil {
		return err
	}

	if c.Path == "" {
		return errors.New("chunk path is required")
	}

	if c.ChunkHash == "" {
		return errors.New("chunk hash must be computed")
	}

	return nil
}

// HashContent computes the hex SHA-256 digest of arbitrary content. This is
// the content identity used for caching and change detection.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
