// Package dedup fingerprints uploaded files so identical content is only ingested once.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"pdf-rag/internal/models"
)

// HashLength is the length of a hex encoded SHA-256 digest.
const HashLength = sha256.Size * 2

// Fingerprint returns the lower-case hex SHA-256 of raw.
func Fingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Lookup finds previously uploaded documents.
type Lookup interface {
	FindByHash(ctx context.Context, contentHash string) (*models.UploadedDocument, error)
	FindByName(ctx context.Context, fileName string) (*models.UploadedDocument, error)
}

type Deduplicator struct {
	lookup          Lookup
	uniqueFileNames bool
}

// New returns a Deduplicator. Content hashes are always unique; file names
// are only checked when uniqueFileNames is set.
func New(lookup Lookup, uniqueFileNames bool) *Deduplicator {
	return &Deduplicator{lookup: lookup, uniqueFileNames: uniqueFileNames}
}

func (d *Deduplicator) IsDuplicate(ctx context.Context, contentHash string) (bool, error) {
	doc, err := d.lookup.FindByHash(ctx, contentHash)
	if err != nil {
		return false, err
	}
	return doc != nil, nil
}

// Check returns ErrDuplicateContent or ErrDuplicateFileName when the upload must be rejected.
func (d *Deduplicator) Check(ctx context.Context, fileName, contentHash string) error {
	existing, err := d.lookup.FindByHash(ctx, contentHash)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %q has the same content as %q", models.ErrDuplicateContent, fileName, existing.FileName)
	}

	if !d.uniqueFileNames {
		return nil
	}
	existing, err = d.lookup.FindByName(ctx, fileName)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %q", models.ErrDuplicateFileName, fileName)
	}
	return nil
}
