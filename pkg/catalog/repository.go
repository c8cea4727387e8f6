package catalog

import (
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Ext is the file extension LoadDir picks up.
const Ext = ".cat"

// Repository is an in-memory set of chips keyed by case-insensitive name.
// Later additions replace earlier ones, so user files can override the
// built-in entries.
type Repository struct {
	mu    sync.RWMutex
	chips map[string]*Chip
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{chips: make(map[string]*Chip)}
}

// Default returns a repository holding the built-in catalog.
func Default() (*Repository, error) {
	r := NewRepository()
	if err := r.LoadString("default.cat", defaultCatalog); err != nil {
		return nil, err
	}
	return r, nil
}

// Add registers c under its name.
func (r *Repository) Add(c *Chip) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chips[strings.ToLower(c.Name)] = c
}

// Lookup finds a chip by name.
func (r *Repository) Lookup(name string) (*Chip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.chips[strings.ToLower(name)]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("catalog: no chip named %q", name)
}

// Chips returns every chip, ordered by family then capacity then name.
func (r *Repository) Chips() []*Chip {
	r.mu.RLock()
	out := make([]*Chip, 0, len(r.chips))
	for _, c := range r.chips {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Family.Key != b.Family.Key {
			return a.Family.Key < b.Family.Key
		}
		if a.Settings.Size != b.Settings.Size {
			return a.Settings.Size < b.Settings.Size
		}
		return a.Name < b.Name
	})
	return out
}

// Len returns the number of chips.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chips)
}

// Load parses a catalog from rd and adds every entry. Nothing is added when
// any entry fails to resolve.
func (r *Repository) Load(name string, rd io.Reader) error {
	parser, err := NewParser()
	if err != nil {
		return err
	}
	f, err := parser.Parse(name, rd)
	if err != nil {
		return err
	}
	return r.addFile(name, f)
}

// LoadString is Load for an in-memory catalog.
func (r *Repository) LoadString(name, input string) error {
	parser, err := NewParser()
	if err != nil {
		return err
	}
	f, err := parser.ParseString(name, input)
	if err != nil {
		return err
	}
	return r.addFile(name, f)
}

func (r *Repository) addFile(name string, f *File) error {
	chips := make([]*Chip, 0, len(f.Entries))
	seen := make(map[string]bool, len(f.Entries))
	for _, e := range f.Entries {
		key := strings.ToLower(e.Name)
		if seen[key] {
			return fmt.Errorf("catalog: %s: chip %q declared twice", e.Pos, e.Name)
		}
		seen[key] = true
		c, err := Resolve(e, name)
		if err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		chips = append(chips, c)
	}
	for _, c := range chips {
		r.Add(c)
	}
	return nil
}

// LoadFiles parses the given catalog files in order.
func (r *Repository) LoadFiles(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	parser, err := NewParser()
	if err != nil {
		return err
	}
	for _, path := range paths {
		f, err := parser.ParseFile(path)
		if err != nil {
			return fmt.Errorf("catalog: failed to load %s: %w", path, err)
		}
		if err := r.addFile(path, f); err != nil {
			return err
		}
	}
	return nil
}

// LoadDir loads every catalog file under dir.
func (r *Repository) LoadDir(dir string) error {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), Ext) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("catalog: walk %s: %w", dir, err)
	}
	sort.Strings(paths)
	return r.LoadFiles(paths...)
}
