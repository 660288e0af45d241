// Package capture stores the commands and datasets received over
// associations. Backends live in subpackages: memory, fs, badger and s3.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("capture record not found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("capture store is closed")

	// ErrInvalidKey is returned for keys that do not name a record.
	ErrInvalidKey = errors.New("invalid capture key")
)

// Record is one reassembled command or dataset.
type Record struct {
	AssociationID  string    `json:"association_id"`
	Sequence       uint64    `json:"sequence"`
	ContextID      uint8     `json:"context_id"`
	AbstractSyntax string    `json:"abstract_syntax"`
	TransferSyntax string    `json:"transfer_syntax"`
	Command        bool      `json:"command"`
	ReceivedAt     time.Time `json:"received_at"`
	Size           int       `json:"size"`

	Data []byte `json:"-"`
}

// Key returns the record's storage key:
// "<association>/<sequence>-<context>.<cmd|ds>". Sequences are zero padded
// so that keys of one association sort in arrival order.
func (r *Record) Key() string {
	kind := "ds"
	if r.Command {
		kind = "cmd"
	}
	return fmt.Sprintf("%s/%010d-%03d.%s", r.AssociationID, r.Sequence, r.ContextID, kind)
}

// Prefix returns the key prefix of every record of an association.
func Prefix(associationID string) string {
	return associationID + "/"
}

// ValidateAssociationID rejects association IDs that could escape the
// association's directory or prefix.
func ValidateAssociationID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\.`) {
		return fmt.Errorf("%w: association %q", ErrInvalidKey, id)
	}
	return nil
}

// ValidateKey checks that key has the shape produced by Record.Key. Keys
// reach backends that map them to paths, so anything else is rejected.
func ValidateKey(key string) error {
	assoc, rest, ok := strings.Cut(key, "/")
	if !ok || ValidateAssociationID(assoc) != nil || strings.Contains(rest, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	seqCtx, kind, ok := strings.Cut(rest, ".")
	if !ok || (kind != "cmd" && kind != "ds") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	seq, ctx, ok := strings.Cut(seqCtx, "-")
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if _, err := strconv.ParseUint(ctx, 10, 8); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// EncodeMeta serializes everything but the payload.
func EncodeMeta(r *Record) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeMeta is the inverse of EncodeMeta.
func DecodeMeta(b []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode capture metadata: %w", err)
	}
	return &r, nil
}

// Store persists records.
//
// Implementations must be safe for concurrent use: every association
// writes from its own goroutine.
type Store interface {
	// Put stores r under r.Key(), replacing any previous record.
	Put(ctx context.Context, r *Record) error

	// Get returns the record stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Record, error)

	// List returns the keys of an association's records in arrival order.
	List(ctx context.Context, associationID string) ([]string, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, key string) error

	// HealthCheck reports whether the store can serve requests. A closed
	// store returns ErrStoreClosed.
	HealthCheck(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
