package model

import (
	"slices"
	"time"
)

// CompileStep describes how a compiled language turns its source into a
// runnable artifact. Args, RunArgs and Output may use the placeholders
// {src}, {out} and {dir}.
type CompileStep struct {
	Command    string   `json:"command"`
	Args       []string `json:"args"`
	Output     string   `json:"output"`
	RunCommand string   `json:"run_command,omitempty"`
	RunArgs    []string `json:"run_args,omitempty"`
}

// InstallStep describes how a runtime installs a third-party package into
// its package directory. Args may use {pkg}, which expands to the package
// name, or to VersionFormat with {name} and {version} substituted when a
// specific version is requested.
type InstallStep struct {
	Command       string   `json:"command"`
	Args          []string `json:"args"`
	VersionFormat string   `json:"version_format,omitempty"`
}

// RuntimeInfo identifies one executable capable of running a language.
type RuntimeInfo struct {
	Language  string `json:"language"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	Command   string `json:"command"`
	Extension string `json:"extension"`
	Available bool   `json:"available"`

	Aliases            []string      `json:"aliases,omitempty"`
	SourceFile         string        `json:"source_file,omitempty"`
	RunArgs            []string      `json:"run_args,omitempty"`
	Compile            *CompileStep  `json:"compile,omitempty"`
	Install            *InstallStep  `json:"install,omitempty"`
	DefaultTimeout     time.Duration `json:"default_timeout_ns,omitempty"`
	DefaultMemoryLimit string        `json:"default_memory_limit,omitempty"`
}

// SourceName returns the file name the snippet is written to.
func (r RuntimeInfo) SourceName() string {
	if r.SourceFile != "" {
		return r.SourceFile
	}
	return "main." + r.Extension
}

// Clone returns a deep copy so callers cannot mutate cached entries.
func (r RuntimeInfo) Clone() RuntimeInfo {
	c := r
	c.Aliases = slices.Clone(r.Aliases)
	c.RunArgs = slices.Clone(r.RunArgs)
	if r.Compile != nil {
		step := *r.Compile
		step.Args = slices.Clone(r.Compile.Args)
		step.RunArgs = slices.Clone(r.Compile.RunArgs)
		c.Compile = &step
	}
	if r.Install != nil {
		step := *r.Install
		step.Args = slices.Clone(r.Install.Args)
		c.Install = &step
	}
	return c
}
