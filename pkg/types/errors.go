package types

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Domain errors for type validation
var (
	// Retrieval result errors
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between 0 and 1")
	ErrEmptyContent          = errors.New("content cannot be empty")
)

// ErrorCode is a closed numeric taxonomy of indexing failures, grouped by
// phase. Codes are stable across releases; new codes append to their group.
type ErrorCode int

const (
	// Generic
	CodeUnknown   ErrorCode = 0
	CodeCancelled ErrorCode = 1
	CodeTimeout   ErrorCode = 2

	// Initialization
	CodeInitFailed               ErrorCode = 100
	CodeEmbeddingsProviderFailed ErrorCode = 101
	CodeParserFailed             ErrorCode = 102
	CodeVectorIndexFailed        ErrorCode = 103
	CodeCacheFailed              ErrorCode = 104

	// Filesystem
	CodeFileNotFound      ErrorCode = 200
	CodeFileReadFailed    ErrorCode = 201
	CodeFileAccessDenied  ErrorCode = 202
	CodeDirectoryNotFound ErrorCode = 203

	// Index operations
	CodeWorkspaceNotFound ErrorCode = 300
	CodeAlreadyIndexing   ErrorCode = 301
	CodeIndexNotFound     ErrorCode = 302
	CodeIndexCorrupted    ErrorCode = 303

	// Embedding
	CodeEmbeddingFailed   ErrorCode = 400
	CodeModelLoadFailed   ErrorCode = 401
	CodeModelNotSupported ErrorCode = 402

	// Retrieval
	CodeRetrieveFailed   ErrorCode = 500
	CodeQueryTooLong     ErrorCode = 501
	CodeNoIndexAvailable ErrorCode = 502

	// Worker process
	CodeWorkerNotReady ErrorCode = 600
	CodeWorkerCrashed  ErrorCode = 601
	CodeWorkerTimeout  ErrorCode = 602
	CodeDisposed       ErrorCode = 603
	CodeIndexFailed    ErrorCode = 604
)

// String returns the canonical name for the code.
func (c ErrorCode) String() string {
	switch c {
	case CodeUnknown:
		return "Unknown"
	case CodeCancelled:
		return "Cancelled"
	case CodeTimeout:
		return "Timeout"
	case CodeInitFailed:
		return "InitFailed"
	case CodeEmbeddingsProviderFailed:
		return "EmbeddingsProviderFailed"
	case CodeParserFailed:
		return "ParserFailed"
	case CodeVectorIndexFailed:
		return "VectorIndexFailed"
	case CodeCacheFailed:
		return "CacheFailed"
	case CodeFileNotFound:
		return "FileNotFound"
	case CodeFileReadFailed:
		return "FileReadFailed"
	case CodeFileAccessDenied:
		return "FileAccessDenied"
	case CodeDirectoryNotFound:
		return "DirectoryNotFound"
	case CodeWorkspaceNotFound:
		return "WorkspaceNotFound"
	case CodeAlreadyIndexing:
		return "AlreadyIndexing"
	case CodeIndexNotFound:
		return "IndexNotFound"
	case CodeIndexCorrupted:
		return "IndexCorrupted"
	case CodeEmbeddingFailed:
		return "EmbeddingFailed"
	case CodeModelLoadFailed:
		return "ModelLoadFailed"
	case CodeModelNotSupported:
		return "ModelNotSupported"
	case CodeRetrieveFailed:
		return "RetrieveFailed"
	case CodeQueryTooLong:
		return "QueryTooLong"
	case CodeNoIndexAvailable:
		return "NoIndexAvailable"
	case CodeWorkerNotReady:
		return "WorkerNotReady"
	case CodeWorkerCrashed:
		return "WorkerCrashed"
	case CodeWorkerTimeout:
		return "WorkerTimeout"
	case CodeDisposed:
		return "Disposed"
	case CodeIndexFailed:
		return "IndexFailed"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// IndexError carries a taxonomy code alongside a human-readable message and
// the underlying cause, if any.
type IndexError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *IndexError) Unwrap() error {
	return e.Cause
}

// NewIndexError creates an IndexError with the given code and message.
func NewIndexError(code ErrorCode, message string) *IndexError {
	return &IndexError{Code: code, Message: message}
}

// WrapError creates an IndexError wrapping an underlying cause.
func WrapError(code ErrorCode, message string, cause error) *IndexError {
	return &IndexError{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the taxonomy code from an arbitrary error, normalizing it
// first if necessary. A nil error maps to CodeUnknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	return Classify(err).Code
}

// Classify normalizes an arbitrary error into the taxonomy by inspecting
// well-known markers. Already-classified errors pass through unchanged.
func Classify(err error) *IndexError {
	if err == nil {
		return nil
	}

	var ie *IndexError
	if errors.As(err, &ie) {
		return ie
	}

	switch {
	case errors.Is(err, context.Canceled):
		return WrapError(CodeCancelled, "operation cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return WrapError(CodeTimeout, "operation timed out", err)
	case os.IsNotExist(err):
		return WrapError(CodeFileNotFound, "file not found", err)
	case os.IsPermission(err):
		return WrapError(CodeFileAccessDenied, "access denied", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return WrapError(CodeTimeout, "operation timed out", err)
	case strings.Contains(msg, "cancel"):
		return WrapError(CodeCancelled, "operation cancelled", err)
	}

	return WrapError(CodeUnknown, "unexpected error", err)
}

// Retryable reports whether an operation failing with the code may be safely
// retried without user action.
func Retryable(code ErrorCode) bool {
	switch code {
	case CodeTimeout, CodeFileReadFailed, CodeEmbeddingFailed:
		return true
	default:
		return false
	}
}

// Recoverable reports whether the code is a user-facing status rather than a
// crash: the caller can present it and continue.
func Recoverable(code ErrorCode) bool {
	switch code {
	case CodeAlreadyIndexing, CodeIndexNotFound, CodeNoIndexAvailable:
		return true
	default:
		return false
	}
}
