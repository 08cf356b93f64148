// Package mcpserver exposes snippet execution as Model Context Protocol tools.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Wangjien/snippetsHub/internal/model"
	"github.com/Wangjien/snippetsHub/internal/supervisor"
)

const instructions = `snippetrun executes short code snippets with locally installed language runtimes.

Call list_runtimes first to see which languages this host can run, then
execute_snippet with a language and code. Each execution runs in a fresh
temporary directory and is killed when its timeout expires.`

// Executor runs snippets and package installs to completion.
type Executor interface {
	Execute(ctx context.Context, code, language string, opts model.ExecutionOptions) (model.ExecutionResult, error)
	Install(ctx context.Context, req model.InstallRequest) (model.InstallResult, error)
}

// Runtimes lists and re-probes the runtime catalog.
type Runtimes interface {
	List(ctx context.Context) []model.RuntimeInfo
	Available(ctx context.Context) []model.RuntimeInfo
	Refresh(ctx context.Context) []model.RuntimeInfo
}

type handler struct {
	exec     Executor
	runtimes Runtimes
	logger   *slog.Logger
}

// NewServer creates an MCP server with the snippet tools registered.
func NewServer(version string, exec Executor, rts Runtimes, logger *slog.Logger) *mcp.Server {
	h := &handler{exec: exec, runtimes: rts, logger: logger}

	s := mcp.NewServer(&mcp.Implementation{Name: "snippetrun", Version: version}, &mcp.ServerOptions{
		Instructions: instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	})

	mcp.AddTool(s, &mcp.Tool{
		Name: "execute_snippet",
		Description: `Run a code snippet and return its exit code, stdout and stderr.

The language may be a tag such as python, javascript or go, or an alias such as py or js.
Output produced before a timeout is still returned.`,
	}, h.executeHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_runtimes",
		Description: "List the language runtimes known to snippetrun, with versions and availability on this host.",
	}, h.listHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "refresh_runtimes",
		Description: "Re-probe the host for installed runtimes, e.g. after installing a new toolchain.",
	}, h.refreshHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "install_package",
		Description: `Install a third-party package with the language's package manager (npm, pip, cargo, go, composer or gem).

The install runs in snippetrun's package directory for that language.`,
	}, h.installHandler)

	return s
}

// Run serves MCP over stdin/stdout until the client disconnects or ctx ends.
func Run(ctx context.Context, s *mcp.Server) error {
	if err := s.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("serve mcp: %w", err)
	}
	return nil
}

func (h *handler) executeHandler(ctx context.Context, _ *mcp.CallToolRequest, params model.ExecuteRequest) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(params.Language) == "" {
		return errorResult("language is required")
	}
	if params.TimeoutMS < 0 {
		return errorResult("timeout_ms must not be negative")
	}

	result, err := h.exec.Execute(ctx, params.Code, params.Language, params.Options())
	switch model.KindOf(err) {
	case "":
		return textResult(formatResult(result))
	case model.KindTimedOut, model.KindCancelled:
		return errorResult(err.Error() + "\n\n" + formatResult(result))
	default:
		h.logger.Debug("mcp execution failed", "language", params.Language, "error", err)
		return errorResult(err.Error())
	}
}

func (h *handler) installHandler(ctx context.Context, _ *mcp.CallToolRequest, params model.InstallRequest) (*mcp.CallToolResult, any, error) {
	if params.TimeoutMS < 0 {
		return errorResult("timeout_ms must not be negative")
	}

	result, err := h.exec.Install(ctx, params)
	switch model.KindOf(err) {
	case "":
		text := formatInstall(result)
		if !result.Success {
			return errorResult(text)
		}
		return textResult(text)
	case model.KindTimedOut, model.KindCancelled:
		return errorResult(err.Error() + "\n\n" + formatInstall(result))
	default:
		h.logger.Debug("mcp install failed", "language", params.Language, "package", params.Package, "error", err)
		return errorResult(err.Error())
	}
}

type listParams struct {
	AvailableOnly bool `json:"available_only,omitempty" jsonschema:"only list runtimes installed on this host"`
}

func (h *handler) listHandler(ctx context.Context, _ *mcp.CallToolRequest, params listParams) (*mcp.CallToolResult, any, error) {
	if params.AvailableOnly {
		return textResult(runtimesText(h.runtimes.Available(ctx)))
	}
	return textResult(runtimesText(h.runtimes.List(ctx)))
}

type refreshParams struct{}

func (h *handler) refreshHandler(ctx context.Context, _ *mcp.CallToolRequest, _ refreshParams) (*mcp.CallToolResult, any, error) {
	return textResult(runtimesText(h.runtimes.Refresh(ctx)))
}

func formatResult(r model.ExecutionResult) string {
	var b strings.Builder
	status := "success"
	if !r.Success {
		status = "failure"
	}
	fmt.Fprintf(&b, "Exit code: %d (%s) in %dms\n", r.ExitCode, status, r.DurationMS)
	writeSection(&b, "stdout", r.Stdout)
	writeSection(&b, "stderr", r.Stderr)
	return b.String()
}

func formatInstall(r model.InstallResult) string {
	var b strings.Builder
	pkg := r.Package
	if r.Version != "" {
		pkg += " " + r.Version
	}
	status := "installed"
	if !r.Success {
		status = "failed"
	}
	fmt.Fprintf(&b, "%s for %s: %s (exit %d in %dms)\n", pkg, r.Language, status, r.ExitCode, r.DurationMS)
	writeSection(&b, "stdout", r.Stdout)
	writeSection(&b, "stderr", r.Stderr)
	return b.String()
}

func writeSection(b *strings.Builder, name, text string) {
	if text == "" {
		return
	}
	fmt.Fprintf(b, "\n--- %s ---\n%s", name, text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteString("\n")
	}
}

// runtimesText is the runtime listing followed by the host's memory limit
// capability.
func runtimesText(list []model.RuntimeInfo) string {
	text := formatRuntimes(list)
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text + memoryLimitNote(supervisor.MemoryLimitSupported)
}

func memoryLimitNote(supported bool) string {
	if supported {
		return "Memory limits: enforced (best effort)\n"
	}
	return "Memory limits: not enforced on this platform\n"
}

func formatRuntimes(list []model.RuntimeInfo) string {
	if len(list) == 0 {
		return "No runtimes found."
	}
	var b strings.Builder
	for _, rt := range list {
		mark := "unavailable"
		if rt.Available {
			mark = rt.Version
		}
		fmt.Fprintf(&b, "%s (%s): %s", rt.Language, rt.Name, mark)
		if len(rt.Aliases) > 0 {
			fmt.Fprintf(&b, " [aliases: %s]", strings.Join(rt.Aliases, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
