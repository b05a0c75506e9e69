package format

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Backup renames path to path+".old", or to ".old1", ".old2", ... when
// earlier backups exist. Existing backups are never overwritten.
// It returns the backup name.
func Backup(path string) (string, error) {
	base := path + ".old"
	name := base
	for n := 1; ; n++ {
		_, err := os.Lstat(name)
		if errors.Is(err, os.ErrNotExist) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("checking backup %s: %w", name, err)
		}
		name = base + strconv.Itoa(n)
	}
	if err := os.Rename(path, name); err != nil {
		return "", fmt.Errorf("backing up %s: %w", path, err)
	}
	return name, nil
}
