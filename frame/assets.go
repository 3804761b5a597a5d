package frame

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// SortByIndex orders names like "<prefix>_<n>.png" by n. Names without an
// index keep their relative order after the indexed ones.
func SortByIndex(names []string, prefix string) {
	re := regexp.MustCompile("^" + regexp.QuoteMeta(prefix) + `_(\d+)\.[^.]+$`)
	index := func(name string) (int, bool) {
		m := re.FindStringSubmatch(path.Base(name))
		if m == nil {
			return 0, false
		}
		n, err := strconv.Atoi(m[1])
		return n, err == nil
	}
	sort.SliceStable(names, func(i, j int) bool {
		a, aok := index(names[i])
		b, bok := index(names[j])
		if aok && bok {
			return a < b
		}
		return aok && !bok
	})
}

// ListDir builds a sequence from the images in dir, ordered by SortByIndex,
// each shown for duration. Locators are relative to fsys.
func ListDir(fsys fs.FS, dir, prefix string, duration time.Duration) (*Sequence, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("listing frames in %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(path.Ext(e.Name()))] {
			continue
		}
		if prefix != "" && !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		names = append(names, e.Name())
	}
	SortByIndex(names, prefix)

	descs := make([]Descriptor, 0, len(names))
	for _, name := range names {
		descs = append(descs, NewDescriptor(path.Join(dir, name), duration))
	}
	return NewSequence(descs...), nil
}
