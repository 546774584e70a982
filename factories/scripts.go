package factories

import (
	"fmt"
	"os"
	"sort"

	"convoscript/core"
	"convoscript/store"

	"github.com/bytedance/sonic"
)

// LoadScriptsJSON registers every script of a JSON object mapping names to
// instruction arrays. Scripts are registered in name order; the first
// failure stops loading and is returned.
func LoadScriptsJSON(st *store.Store, data []byte) ([]string, error) {
	var scripts map[string][]core.Instruction
	if err := sonic.Unmarshal(data, &scripts); err != nil {
		return nil, fmt.Errorf("scripts: %w", err)
	}
	names := make([]string, 0, len(scripts))
	for name := range scripts {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		if _, err := st.Register(name, scripts[name]); err != nil {
			return names[:i], fmt.Errorf("scripts: register %q: %w", name, err)
		}
	}
	return names, nil
}

// LoadScriptsFile reads path and registers its scripts.
func LoadScriptsFile(st *store.Store, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scripts: read %q: %w", path, err)
	}
	return LoadScriptsJSON(st, data)
}
