package nginx

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// MagentoLinker points the Magento include at the Magento 1 or 2 variant.
type MagentoLinker struct {
	Conf     string
	Conf1    string
	Conf2    string
	FlagPath string
}

// Link swaps Conf to a symlink at Conf2 when FlagPath is a regular file and at
// Conf1 otherwise. The swap goes through a temporary "<Conf>_new" link and a
// rename, so Conf is never missing.
func (m MagentoLinker) Link() (string, error) {
	for _, conf := range []string{m.Conf1, m.Conf2} {
		if _, err := os.Stat(conf); err != nil {
			return "", fmt.Errorf("magento config %s: %w", conf, err)
		}
	}

	tmp := m.Conf + "_new"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("remove stale %s: %w", tmp, err)
	}

	target := m.Conf1
	if info, err := os.Stat(m.FlagPath); err == nil && info.Mode().IsRegular() {
		target = m.Conf2
	}
	if err := os.Symlink(target, tmp); err != nil {
		return "", fmt.Errorf("link %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, m.Conf); err != nil {
		return "", fmt.Errorf("install %s: %w", m.Conf, err)
	}
	return target, nil
}
