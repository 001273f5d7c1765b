package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FilePersister writes capture output somewhere.
type FilePersister interface {
	Persist(ctx context.Context, path string, data io.Reader) error
}

// LocalFilePersister writes files to the local disk, replacing any file
// already at the path.
type LocalFilePersister struct{}

func (l *LocalFilePersister) Persist(ctx context.Context, path string, data io.Reader) (err error) {
	if err = ctx.Err(); err != nil {
		return err
	}

	cp := filepath.Clean(path)

	dir := filepath.Dir(cp)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %q: %w", dir, err)
	}

	f, err := os.OpenFile(cp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating file %q: %w", cp, err)
	}
	defer func() {
		// Only report the close error if nothing failed before it.
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing file %q: %w", cp, cerr)
		}
	}()

	if _, err = io.Copy(f, data); err != nil {
		return fmt.Errorf("writing file %q: %w", cp, err)
	}
	return nil
}
