package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Save writes wf as YAML to path, creating parent directories. The file is
// replaced atomically.
func Save(wf *Workflow, path string) error {
	data, err := yaml.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encode workflow %s: %w", wf.Name, err)
	}
	tmp, err := writeTemp(path, data)
	if err != nil {
		return fmt.Errorf("write workflow %s: %w", wf.Name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write workflow %s: %w", wf.Name, err)
	}
	log.Printf("Generator: saved workflow to %s", path)
	return nil
}

// writeTemp writes data next to path and returns the temporary file.
func writeTemp(path string, data []byte) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", path, err)
	}
	return &wf, nil
}

// Store keeps workflows in a directory, one current file per name. Putting
// a workflow whose name is already stored bumps its version and keeps the
// previous file as {name}.v{N}.yaml.
type Store struct {
	Dir string
}

func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func fileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':':
			return '_'
		}
		return r
	}, name)
}

func (s *Store) path(name string) string {
	return filepath.Join(s.Dir, fileName(name)+".yaml")
}

func (s *Store) versionPath(name string, version int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s.v%d.yaml", fileName(name), version))
}

// Put stores wf under its name and returns the file written. wf.Version is
// updated in place. The new version is fully written before the previous
// one is archived, so a failed Put leaves the store unchanged.
func (s *Store) Put(wf *Workflow) (string, error) {
	if wf.Name == "" {
		return "", fmt.Errorf("workflow has no name")
	}

	prev := wf.Version
	current, err := s.Get(wf.Name)
	switch {
	case err == nil:
		wf.Version = current.Version + 1
	case errors.Is(err, ErrWorkflowNotFound):
		current = nil
		if wf.Version < 1 {
			wf.Version = 1
		}
	default:
		return "", err
	}

	path := s.path(wf.Name)
	data, err := yaml.Marshal(wf)
	if err != nil {
		wf.Version = prev
		return "", fmt.Errorf("encode workflow %s: %w", wf.Name, err)
	}
	tmp, err := writeTemp(path, data)
	if err != nil {
		wf.Version = prev
		return "", fmt.Errorf("write workflow %s: %w", wf.Name, err)
	}

	if current != nil {
		archive := s.versionPath(wf.Name, current.Version)
		if err := os.Rename(path, archive); err != nil {
			os.Remove(tmp)
			wf.Version = prev
			return "", fmt.Errorf("archive %s v%d: %w", wf.Name, current.Version, err)
		}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		if current != nil {
			_ = os.Rename(s.versionPath(wf.Name, current.Version), path)
		}
		wf.Version = prev
		return "", fmt.Errorf("write workflow %s: %w", wf.Name, err)
	}
	log.Printf("Generator: saved workflow %s v%d to %s", wf.Name, wf.Version, path)
	return path, nil
}

func (s *Store) Get(name string) (*Workflow, error) {
	return Load(s.path(name))
}

func (s *Store) GetVersion(name string, version int) (*Workflow, error) {
	wf, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	if wf.Version == version {
		return wf, nil
	}
	return Load(s.versionPath(name, version))
}

// List returns the names of the current workflows.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		base, ok := strings.CutSuffix(e.Name(), ".yaml")
		if e.IsDir() || !ok || isArchived(base) {
			continue
		}
		wf, err := Load(filepath.Join(s.Dir, e.Name()))
		if err != nil {
			log.Printf("Generator: skipping %s: %v", e.Name(), err)
			continue
		}
		names = append(names, wf.Name)
	}
	sort.Strings(names)
	return names, nil
}

func isArchived(base string) bool {
	i := strings.LastIndex(base, ".v")
	if i < 0 || i+2 == len(base) {
		return false
	}
	for _, r := range base[i+2:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
