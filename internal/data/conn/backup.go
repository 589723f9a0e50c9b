package conn

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"modernc.org/sqlite"

	"resgraph/internal/shared/util"
)

type backuper interface {
	NewBackup(dstURI string) (*sqlite.Backup, error)
}

// Backup copies the current committed state to dest using SQLite's online
// backup API on a reader connection. The copy is written beside dest and
// renamed into place, so dest is either untouched or complete.
func (m *Manager) Backup(ctx context.Context, dest string) error {
	if err := util.EnsureParentDir(dest); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	c, release, err := m.AcquireReader(ctx)
	if err != nil {
		return err
	}
	defer release()

	tmp := dest + ".tmp-" + uuid.NewString()
	err = c.Raw(func(driverConn any) error {
		b, ok := driverConn.(backuper)
		if !ok {
			return fmt.Errorf("driver connection %T does not support online backup", driverConn)
		}
		bck, err := b.NewBackup(tmp)
		if err != nil {
			return fmt.Errorf("start backup: %w", err)
		}
		for more := true; more; {
			if more, err = bck.Step(-1); err != nil {
				_ = bck.Finish()
				return fmt.Errorf("backup step: %w", err)
			}
		}
		if err := bck.Finish(); err != nil {
			return fmt.Errorf("finish backup: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = os.Remove(tmp)
		return WrapErr("backup", err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("move snapshot into place: %w", err)
	}
	return nil
}
