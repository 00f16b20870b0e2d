package store

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/davidahmann/ctxpack/core/canon"
	coreerrors "github.com/davidahmann/ctxpack/core/errors"
	"github.com/davidahmann/ctxpack/core/fsx"
)

const maxStoreLineBytes = 4 * 1024 * 1024

// FileStore appends provenance records to a JSONL file, one canonical
// record per line, under a cross-process lock.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Persist(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return coreerrors.Wrap(
			fmt.Errorf("persist provenance record: %w", err),
			coreerrors.CategoryStorePersistFailed,
			"STORE_CANCELLED",
			"the build was cancelled before the record could be written",
			false,
		)
	}
	if err := validateRecord(rec); err != nil {
		return err
	}
	line, err := canon.CanonicalJSON(rec)
	if err != nil {
		return coreerrors.Wrap(
			fmt.Errorf("encode provenance record: %w", err),
			coreerrors.CategoryStorePersistFailed,
			"STORE_ENCODE_FAILED",
			"the record could not be serialized",
			false,
		)
	}
	if err := fsx.AppendLineLocked(s.path, line, 0o600); err != nil {
		return coreerrors.Wrap(
			fmt.Errorf("append provenance record: %w", err),
			coreerrors.CategoryStorePersistFailed,
			"STORE_APPEND_FAILED",
			"check that the provenance file is writable",
			true,
		)
	}
	return nil
}

// Records reads every persisted record back, in append order.
func (s *FileStore) Records() ([]Record, error) {
	// #nosec G304 -- provenance path is explicit local configuration.
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("open provenance file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStoreLineBytes)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := canon.DecodeStrict(line, &rec); err != nil {
			return nil, fmt.Errorf("parse provenance record at line %d: %w", lineNumber, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read provenance file: %w", err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}
