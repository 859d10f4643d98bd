package jsonfmt

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"example.com/signalgate/internal/common"
)

// FileResult is the formatting verdict for one signalset file.
type FileResult struct {
	Path      string
	Canonical bool
	Rewritten bool
	Err       error
}

// ListSignalsets returns the *.json files directly under dir, sorted.
func ListSignalsets(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// CheckTree formats every signalset under dir. With write set, non-canonical
// files are replaced atomically by their canonical form. A file that fails
// to load is reported and never rewritten.
func CheckTree(dir string, write bool) ([]FileResult, error) {
	paths, err := ListSignalsets(dir)
	if err != nil {
		return nil, err
	}
	results := make([]FileResult, 0, len(paths))
	for _, p := range paths {
		results = append(results, checkOne(p, write))
	}
	return results, nil
}

func checkOne(path string, write bool) FileResult {
	res := FileResult{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		res.Err = err
		return res
	}
	formatted, err := FormatFile(path)
	if err != nil {
		res.Err = err
		return res
	}
	res.Canonical = bytes.Equal(data, formatted)
	if res.Canonical || !write {
		return res
	}
	perm := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	wrote, err := common.WriteFileIfChanged(path, formatted, perm)
	if err != nil {
		res.Err = err
		return res
	}
	res.Rewritten = wrote
	if wrote {
		common.Logf("reformatted %s", path)
	}
	return res
}
