// Package workspace materializes the disposable filesystem scope each
// execution runs in.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Wangjien/snippetsHub/internal/model"
)

const (
	dirPrefix = "ws-"
	inputName = "stdin.txt"
)

// Workspace is one provisioned execution scope.
type Workspace struct {
	// Dir is the disposable directory holding the source file.
	Dir string
	// SourcePath is the snippet file inside Dir.
	SourcePath string
	// InputPath is the stdin payload file, empty when no input was given.
	InputPath string
	// WorkDir is the process working directory: Dir, or the caller override.
	WorkDir string
}

// Provisioner creates and removes workspaces under a single root directory.
type Provisioner struct {
	root   string
	logger *slog.Logger
}

// New creates a Provisioner rooted at root, creating the directory if
// needed. An empty root selects a directory under os.TempDir.
func New(root string, logger *slog.Logger) (*Provisioner, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "snippetrun")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Provisioner{root: abs, logger: logger}, nil
}

// Root returns the directory workspaces are created under.
func (p *Provisioner) Root() string {
	return p.root
}

// Provision writes code (and the stdin payload, if any) into a fresh
// directory. On failure everything it created is removed and an IOError is
// returned.
func (p *Provisioner) Provision(code string, rt model.RuntimeInfo, opts model.ExecutionOptions) (*Workspace, error) {
	workDir := ""
	if opts.WorkingDir != "" {
		info, err := os.Stat(opts.WorkingDir)
		if err != nil {
			return nil, model.NewError(model.KindIO, "provision", fmt.Errorf("working dir: %w", err))
		}
		if !info.IsDir() {
			return nil, model.NewError(model.KindIO, "provision",
				fmt.Errorf("working dir %s is not a directory", opts.WorkingDir))
		}
		workDir = opts.WorkingDir
	}

	dir := filepath.Join(p.root, dirPrefix+uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, model.NewError(model.KindIO, "provision", fmt.Errorf("create workspace: %w", err))
	}

	ws := &Workspace{
		Dir:        dir,
		SourcePath: filepath.Join(dir, rt.SourceName()),
		WorkDir:    dir,
	}
	if workDir != "" {
		ws.WorkDir = workDir
	}

	if err := p.populate(ws, code, opts.Input); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			p.logger.Warn("workspace rollback failed", "dir", dir, "error", rmErr)
		}
		return nil, model.NewError(model.KindIO, "provision", err)
	}
	return ws, nil
}

func (p *Provisioner) populate(ws *Workspace, code string, input *string) error {
	if err := os.WriteFile(ws.SourcePath, []byte(code), 0o644); err != nil {
		return fmt.Errorf("write source: %w", err)
	}
	if input == nil {
		return nil
	}
	ws.InputPath = filepath.Join(ws.Dir, inputName)
	if err := os.WriteFile(ws.InputPath, []byte(*input), 0o600); err != nil {
		return fmt.Errorf("write input: %w", err)
	}
	return nil
}

// Dispose removes the workspace directory. It is safe to call more than once
// and on a directory that is already gone.
func (p *Provisioner) Dispose(ws *Workspace) error {
	if ws == nil || ws.Dir == "" {
		return nil
	}
	if !p.owns(ws.Dir) {
		return fmt.Errorf("refusing to remove %s: outside workspace root", ws.Dir)
	}
	if err := os.RemoveAll(ws.Dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}

// Count reports how many workspace directories currently exist.
func (p *Provisioner) Count() (int, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read workspace root: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), dirPrefix) {
			n++
		}
	}
	return n, nil
}

// Prune removes workspaces left behind by a previous process. It must only
// be called before any execution starts.
func (p *Provisioner) Prune() (int, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return 0, fmt.Errorf("read workspace root: %w", err)
	}
	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(p.root, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (p *Provisioner) owns(dir string) bool {
	rel, err := filepath.Rel(p.root, dir)
	if err != nil {
		return false
	}
	return !strings.Contains(rel, string(filepath.Separator)) && strings.HasPrefix(rel, dirPrefix)
}
