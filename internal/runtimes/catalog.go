package runtimes

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/Wangjien/snippetsHub/internal/model"
)

// CompileEntry is the catalog form of model.CompileStep.
type CompileEntry struct {
	Command    string   `toml:"command" yaml:"command"`
	Args       []string `toml:"args" yaml:"args"`
	Output     string   `toml:"output" yaml:"output"`
	RunCommand string   `toml:"run_command" yaml:"run_command"`
	RunArgs    []string `toml:"run_args" yaml:"run_args"`
}

// InstallEntry is the catalog form of model.InstallStep.
type InstallEntry struct {
	Command       string   `toml:"command" yaml:"command"`
	Args          []string `toml:"args" yaml:"args"`
	VersionFormat string   `toml:"version_format" yaml:"version_format"`
}

// Entry is one row of the runtime catalog.
type Entry struct {
	Language    string        `toml:"language" yaml:"language"`
	Name        string        `toml:"name" yaml:"name"`
	Command     string        `toml:"command" yaml:"command"`
	VersionFlag string        `toml:"version_flag" yaml:"version_flag"`
	Extension   string        `toml:"extension" yaml:"extension"`
	Aliases     []string      `toml:"aliases" yaml:"aliases"`
	SourceFile  string        `toml:"source_file" yaml:"source_file"`
	RunArgs     []string      `toml:"run_args" yaml:"run_args"`
	Compile     *CompileEntry `toml:"compile" yaml:"compile"`
	Install     *InstallEntry `toml:"install" yaml:"install"`
	TimeoutMS   int64         `toml:"timeout_ms" yaml:"timeout_ms"`
	MemoryLimit string        `toml:"memory_limit" yaml:"memory_limit"`
}

// Catalog is the static table of known language runtimes.
type Catalog []Entry

// info converts the entry into a RuntimeInfo that is not yet probed.
func (e Entry) info() model.RuntimeInfo {
	ri := model.RuntimeInfo{
		Language:           e.Language,
		Name:               e.Name,
		Command:            e.Command,
		Extension:          e.Extension,
		Aliases:            e.Aliases,
		SourceFile:         e.SourceFile,
		RunArgs:            e.RunArgs,
		DefaultTimeout:     time.Duration(e.TimeoutMS) * time.Millisecond,
		DefaultMemoryLimit: e.MemoryLimit,
	}
	if e.Compile != nil {
		ri.Compile = &model.CompileStep{
			Command:    e.Compile.Command,
			Args:       e.Compile.Args,
			Output:     e.Compile.Output,
			RunCommand: e.Compile.RunCommand,
			RunArgs:    e.Compile.RunArgs,
		}
	}
	if e.Install != nil {
		ri.Install = &model.InstallStep{
			Command:       e.Install.Command,
			Args:          e.Install.Args,
			VersionFormat: e.Install.VersionFormat,
		}
	}
	return ri.Clone()
}

// names returns the lower-cased language tag followed by its aliases.
func (e Entry) names() []string {
	out := []string{strings.ToLower(e.Language)}
	for _, a := range e.Aliases {
		out = append(out, strings.ToLower(a))
	}
	return out
}

func npmInstall() *InstallEntry {
	return &InstallEntry{Command: "npm", Args: []string{"install", "{pkg}"}, VersionFormat: "{name}@{version}"}
}

// DefaultCatalog returns the built-in runtime table.
func DefaultCatalog() Catalog {
	return Catalog{
		{Language: "javascript", Name: "Node.js", Command: "node", VersionFlag: "--version", Extension: "js",
			Aliases: []string{"js", "node"}, TimeoutMS: 30000, MemoryLimit: "512m", Install: npmInstall()},
		{Language: "typescript", Name: "TypeScript", Command: "ts-node", VersionFlag: "--version", Extension: "ts",
			Aliases: []string{"ts"}, TimeoutMS: 30000, MemoryLimit: "512m", Install: npmInstall()},
		{Language: "python", Name: "Python", Command: "python3", VersionFlag: "--version", Extension: "py",
			Aliases: []string{"py", "python3"}, TimeoutMS: 30000, MemoryLimit: "512m",
			Install: &InstallEntry{Command: "pip", Args: []string{"install", "{pkg}"}, VersionFormat: "{name}=={version}"}},
		{Language: "rust", Name: "Rust", Command: "rustc", VersionFlag: "--version", Extension: "rs",
			Aliases: []string{"rs"}, TimeoutMS: 60000, MemoryLimit: "1g",
			Compile: &CompileEntry{Command: "rustc", Args: []string{"{src}", "-o", "{out}"}, Output: "main"},
			Install: &InstallEntry{Command: "cargo", Args: []string{"add", "{pkg}"}, VersionFormat: "{name}@{version}"}},
		{Language: "go", Name: "Go", Command: "go", VersionFlag: "version", Extension: "go",
			Aliases: []string{"golang"}, RunArgs: []string{"run"}, TimeoutMS: 30000, MemoryLimit: "512m",
			Install: &InstallEntry{Command: "go", Args: []string{"get", "{pkg}"}, VersionFormat: "{name}@{version}"}},
		{Language: "java", Name: "Java", Command: "java", VersionFlag: "-version", Extension: "java",
			SourceFile: "Main.java", TimeoutMS: 45000, MemoryLimit: "1g",
			Compile: &CompileEntry{Command: "javac", Args: []string{"-d", "{dir}", "{src}"},
				RunCommand: "java", RunArgs: []string{"-cp", "{dir}", "Main"}}},
		{Language: "cpp", Name: "C++", Command: "g++", VersionFlag: "--version", Extension: "cpp",
			Aliases: []string{"c++", "cxx"}, TimeoutMS: 45000, MemoryLimit: "512m",
			Compile: &CompileEntry{Command: "g++", Args: []string{"{src}", "-o", "{out}"}, Output: "main"}},
		{Language: "c", Name: "C", Command: "gcc", VersionFlag: "--version", Extension: "c",
			TimeoutMS: 45000, MemoryLimit: "512m",
			Compile: &CompileEntry{Command: "gcc", Args: []string{"{src}", "-o", "{out}"}, Output: "main"}},
		{Language: "php", Name: "PHP", Command: "php", VersionFlag: "--version", Extension: "php",
			TimeoutMS: 30000, MemoryLimit: "512m",
			Install: &InstallEntry{Command: "composer", Args: []string{"require", "{pkg}"}, VersionFormat: "{name}:{version}"}},
		{Language: "ruby", Name: "Ruby", Command: "ruby", VersionFlag: "--version", Extension: "rb",
			Aliases: []string{"rb"}, TimeoutMS: 30000, MemoryLimit: "512m",
			Install: &InstallEntry{Command: "gem", Args: []string{"install", "{pkg}"}, VersionFormat: "{name}:{version}"}},
		{Language: "swift", Name: "Swift", Command: "swift", VersionFlag: "--version", Extension: "swift",
			TimeoutMS: 45000, MemoryLimit: "1g"},
		{Language: "kotlin", Name: "Kotlin", Command: "kotlinc", VersionFlag: "-version", Extension: "kt",
			Aliases: []string{"kt"}, TimeoutMS: 45000, MemoryLimit: "1g",
			Compile: &CompileEntry{Command: "kotlinc", Args: []string{"{src}", "-include-runtime", "-d", "{out}"},
				Output: "main.jar", RunCommand: "java", RunArgs: []string{"-jar", "{out}"}}},
		{Language: "bash", Name: "Shell", Command: "bash", VersionFlag: "--version", Extension: "sh",
			Aliases: []string{"shell", "sh"}, TimeoutMS: 30000, MemoryLimit: "256m"},
		{Language: "powershell", Name: "PowerShell", Command: "pwsh", VersionFlag: "--version", Extension: "ps1",
			Aliases: []string{"pwsh", "ps1"}, TimeoutMS: 30000, MemoryLimit: "512m"},
	}
}

// Validate checks that every entry is complete and that no language tag or
// alias is claimed twice.
func (c Catalog) Validate() error {
	seen := mapset.NewThreadUnsafeSet[string]()
	var errs []error
	for i, e := range c {
		if e.Language == "" || e.Command == "" || e.Extension == "" {
			errs = append(errs, fmt.Errorf("entry %d: language, command and extension are required", i))
			continue
		}
		if e.Compile != nil && e.Compile.Command == "" {
			errs = append(errs, fmt.Errorf("entry %q: compile step has no command", e.Language))
		}
		if e.Install != nil && e.Install.Command == "" {
			errs = append(errs, fmt.Errorf("entry %q: install step has no command", e.Language))
		}
		for _, n := range e.names() {
			if !seen.Add(n) {
				errs = append(errs, fmt.Errorf("entry %q: name %q is already taken", e.Language, n))
			}
		}
	}
	return errors.Join(errs...)
}

// Merge returns c with overrides applied: entries for an existing language
// replace it in place, new languages are appended.
func (c Catalog) Merge(overrides Catalog) Catalog {
	out := make(Catalog, len(c))
	copy(out, c)

	index := make(map[string]int, len(out))
	for i, e := range out {
		index[strings.ToLower(e.Language)] = i
	}
	for _, o := range overrides {
		if i, ok := index[strings.ToLower(o.Language)]; ok {
			out[i] = o
			continue
		}
		index[strings.ToLower(o.Language)] = len(out)
		out = append(out, o)
	}
	return out
}

// LanguageForFile returns the language of the first entry whose extension
// matches path, case-insensitively.
func (c Catalog) LanguageForFile(path string) (string, bool) {
	base := filepath.Base(path)
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	if ext == "" {
		return "", false
	}
	for _, e := range c {
		if strings.EqualFold(e.Extension, ext) {
			return e.Language, true
		}
	}
	return "", false
}
