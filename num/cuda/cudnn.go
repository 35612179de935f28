package cuda

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// symbol which must be exported by a usable cuDNN library
const cudnnSymbol = "cudnnCreate"

// LibDirs returns the directories searched for the cuDNN shared library.
func LibDirs() []string {
	var dirs []string
	for _, dir := range strings.Split(os.Getenv("LD_LIBRARY_PATH"), ":") {
		if dir != "" {
			dirs = append(dirs, dir)
		}
	}
	if home := os.Getenv("CUDA_HOME"); home != "" {
		dirs = append(dirs, filepath.Join(home, "lib64"))
	}
	return append(dirs, "/usr/local/cuda/lib64", "/usr/lib/x86_64-linux-gnu", "/usr/lib64")
}

// FindCuDNN looks for libcudnn in the given directories, returns the path of the first match.
func FindCuDNN(dirs []string) (string, bool) {
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "libcudnn.so*"))
		if err != nil || len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		return matches[0], true
	}
	return "", false
}

// LoadCuDNN checks that the file at path is a shared object which exports the cuDNN entry points.
func LoadCuDNN(path string) error {
	f, err := elf.Open(path)
	if err != nil {
		return fmt.Errorf("cuDNN: %s", err)
	}
	defer f.Close()
	syms, err := f.DynamicSymbols()
	if err != nil {
		return fmt.Errorf("cuDNN: %s: %s", path, err)
	}
	for _, s := range syms {
		if s.Name == cudnnSymbol {
			return nil
		}
	}
	return fmt.Errorf("cuDNN: %s does not export %s", path, cudnnSymbol)
}
