package adapter

import (
	"fmt"
	"os"
	"path/filepath"
)

// NotFoundError reports that no adapter module matched a name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("cannot find adapter %q", e.Name) }

// Resolver turns an adapter name into the path of its bundle.
type Resolver interface {
	Resolve(name string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string) (string, error)

func (f ResolverFunc) Resolve(name string) (string, error) { return f(name) }

// LocalResolver searches directories for a bundle named after the adapter.
// For each directory it tries <name>.js, <name>/index.js and
// browserun-adapter-<name>/index.js.
type LocalResolver struct {
	Dirs []string
}

func (r LocalResolver) Resolve(name string) (string, error) {
	if name == "" {
		return "", &NotFoundError{Name: name}
	}
	for _, dir := range r.Dirs {
		for _, rel := range []string{
			name + ".js",
			filepath.Join(name, "index.js"),
			filepath.Join("browserun-adapter-"+name, "index.js"),
		} {
			p, err := filepath.Abs(filepath.Join(dir, rel))
			if err != nil {
				continue
			}
			if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
				return p, nil
			}
		}
	}
	return "", &NotFoundError{Name: name}
}

// FileResolver locates a file shipped by a package, such as the test
// framework bundle an adapter's default injections reference.
type FileResolver interface {
	ResolveFile(rel string) (string, error)
}

// ResolveFile looks for rel, a slash separated path, under each directory.
func (r LocalResolver) ResolveFile(rel string) (string, error) {
	for _, dir := range r.Dirs {
		p, err := filepath.Abs(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
	}
	return "", &NotFoundError{Name: rel}
}
