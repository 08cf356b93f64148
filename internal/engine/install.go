package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/semaphore"

	"github.com/Wangjien/snippetsHub/internal/model"
	"github.com/Wangjien/snippetsHub/internal/supervisor"
)

// DefaultInstallTimeout bounds a package install when the caller sets none.
const DefaultInstallTimeout = 5 * time.Minute

// DefaultPackageDir is where package installs run when no directory is
// configured.
func DefaultPackageDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "snippetrun", "packages")
	}
	return filepath.Join(os.TempDir(), "snippetrun-packages")
}

// Install runs the runtime's package manager for req inside a per-language
// directory under the package root. Installs for one language run one at a
// time and take a slot from the execution pool. A package manager that exits
// non-zero is reported through InstallResult.Success, not as an error.
func (e *Engine) Install(ctx context.Context, req model.InstallRequest) (model.InstallResult, error) {
	name := strings.TrimSpace(req.Package)
	version := strings.TrimSpace(req.Version)
	if strings.EqualFold(version, "latest") {
		version = ""
	}
	if err := validatePackage(name, version); err != nil {
		return model.InstallResult{}, model.NewError(model.KindInvalidRequest, "install", err)
	}

	rt, err := e.prepare(ctx, req.Language)
	if err != nil {
		return model.InstallResult{}, err
	}
	if rt.Install == nil {
		return model.InstallResult{}, model.NewError(model.KindInvalidRequest, "install",
			fmt.Errorf("package installation is not supported for %s", rt.Language))
	}
	if version != "" && rt.Install.VersionFormat == "" {
		return model.InstallResult{}, model.NewError(model.KindInvalidRequest, "install",
			fmt.Errorf("%s installs cannot pin a version", rt.Language))
	}

	if !e.enter() {
		return model.InstallResult{}, errShuttingDown()
	}
	defer e.live.Done()

	ictx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.baseCtx, cancel)
	defer stop()

	lock, _ := e.installLocks.LoadOrCompute(rt.Language, func() *semaphore.Weighted {
		return semaphore.NewWeighted(1)
	})
	if err := lock.Acquire(ictx, 1); err != nil {
		return model.InstallResult{}, model.NewError(model.KindCancelled, "install", err)
	}
	defer lock.Release(1)
	if err := e.slots.Acquire(ictx, 1); err != nil {
		return model.InstallResult{}, model.NewError(model.KindCancelled, "admit", err)
	}
	defer e.slots.Release(1)

	dir := filepath.Join(e.packageDir, rt.Language)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.InstallResult{}, model.NewError(model.KindIO, "install", err)
	}

	timeout := req.Timeout()
	if timeout <= 0 {
		timeout = DefaultInstallTimeout
	}
	logger := e.logger.With("language", rt.Language, "package", name, "version", version)
	logger.Info("installing package", "dir", dir)

	res, err := e.supervisor.Run(ictx, supervisor.Spec{
		Argv:    installArgv(rt.Install, name, version),
		Dir:     dir,
		Timeout: timeout,
	})
	if err != nil {
		installsTotal.WithLabelValues(rt.Language, model.StatusFailed).Inc()
		return model.InstallResult{}, err
	}

	out := assemble(res, 0)
	result := model.InstallResult{
		Language:   rt.Language,
		Package:    name,
		Version:    version,
		Success:    out.Success,
		Stdout:     out.Stdout,
		Stderr:     out.Stderr,
		ExitCode:   out.ExitCode,
		DurationMS: out.DurationMS,
		Dir:        dir,
	}
	oerr := outcomeError(res, "install "+name, timeout)
	status := statusFor(oerr)
	if oerr == nil && !result.Success {
		status = model.StatusFailed
	}
	installsTotal.WithLabelValues(rt.Language, status).Inc()
	logger.Info("package install finished", "status", status, "exit_code", result.ExitCode, "duration_ms", result.DurationMS)
	return result, oerr
}

// installArgv expands the install template. {pkg} becomes the package name,
// or the VersionFormat rendering when a version is pinned. Templates without
// {pkg} get it appended.
func installArgv(step *model.InstallStep, name, version string) []string {
	pkg := name
	if version != "" {
		pkg = strings.NewReplacer("{name}", name, "{version}", version).Replace(step.VersionFormat)
	}
	argv := []string{step.Command}
	placed := false
	for _, a := range step.Args {
		if strings.Contains(a, "{pkg}") {
			placed = true
		}
		argv = append(argv, strings.ReplaceAll(a, "{pkg}", pkg))
	}
	if !placed {
		argv = append(argv, pkg)
	}
	return argv
}

// validatePackage rejects names a package manager would read as flags or
// that carry whitespace or control characters.
func validatePackage(name, version string) error {
	if name == "" {
		return errors.New("package is required")
	}
	for _, v := range []string{name, version} {
		if strings.HasPrefix(v, "-") {
			return fmt.Errorf("%q must not start with '-'", v)
		}
		if strings.IndexFunc(v, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
			return fmt.Errorf("%q contains whitespace or control characters", v)
		}
	}
	return nil
}
