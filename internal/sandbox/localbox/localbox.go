// Package localbox implements the sandbox interface on a local workspace
// directory. Every path is confined below the root; commands run through the
// shell with the workspace as working directory.
package localbox

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/weft-dev/weft/internal/sandbox"
)

// deniedFragments blocks commands that would obviously reach outside or
// destroy the workspace. Deliberately small; the protection registry, not
// this list, is the real safety mechanism for files.
var deniedFragments = []string{
	"rm -rf /",
	"mkfs",
	"shutdown",
	"reboot",
	":(){",
}

// LocalBox executes against the local filesystem rooted at workDir.
type LocalBox struct {
	workDir string
}

// New creates a LocalBox rooted at workDir, creating the directory if needed.
func New(workDir string) (*LocalBox, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &LocalBox{workDir: abs}, nil
}

// Name returns the sandbox identifier.
func (l *LocalBox) Name() string {
	return "localbox"
}

// Root returns the absolute workspace directory.
func (l *LocalBox) Root() string {
	return l.workDir
}

// resolve confines a workspace-relative path below the root.
func (l *LocalBox) resolve(p string) (string, error) {
	clean := filepath.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	full := filepath.Join(l.workDir, clean)
	if full != l.workDir && !strings.HasPrefix(full, l.workDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %s escapes the workspace", p)
	}
	return full, nil
}

// WriteFile creates or replaces a file, creating parent directories.
func (l *LocalBox) WriteFile(ctx context.Context, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.WriteFile(full, content, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadFile returns a file's content.
func (l *LocalBox) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Exec runs a shell command to completion with a timeout. A non-zero exit is
// reported in the result, not as an error.
func (l *LocalBox) Exec(ctx context.Context, command string, timeout time.Duration) (*sandbox.ExecResult, error) {
	if err := checkDenied(command); err != nil {
		return nil, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = l.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if ctxErr := ctx.Err(); ctxErr != nil {
		// Process was killed by timeout or cancellation.
		return &sandbox.ExecResult{
			Command:  command,
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}, ctxErr
	}

	exitCode := 0
	if err != nil {
		exitError, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("exec %q: %w", command, err)
		}
		exitCode = exitError.ExitCode()
	}

	return &sandbox.ExecResult{
		Command:  command,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// process wraps a started command.
type process struct {
	cmd *exec.Cmd
}

func (p *process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) Stop() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill process: %w", err)
	}
	p.cmd.Wait()
	return nil
}

// Start launches a long-lived process and returns without waiting.
func (l *LocalBox) Start(ctx context.Context, command string) (sandbox.Process, error) {
	if err := checkDenied(command); err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = l.workDir
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", command, err)
	}
	return &process{cmd: cmd}, nil
}

// ReadDir lists regular files under dir recursively, paths relative to the
// workspace root.
func (l *LocalBox) ReadDir(ctx context.Context, dir string) ([]sandbox.FileInfo, error) {
	full, err := l.resolve(dir)
	if err != nil {
		return nil, err
	}
	var infos []sandbox.FileInfo
	walkErr := filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			// Skip dot-directories like .git wholesale.
			if p != full && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(l.workDir, p)
		if err != nil {
			return err
		}
		infos = append(infos, sandbox.FileInfo{
			Path:    filepath.ToSlash(rel),
			Size:    info.Size(),
			Mode:    info.Mode(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, walkErr)
	}
	return infos, nil
}

// Stat describes a single path.
func (l *LocalBox) Stat(ctx context.Context, path string) (*sandbox.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &sandbox.FileInfo{
		Path:    path,
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

// Descendants lists the files under folder, satisfying the registry's walker
// interface for inherited-lock materialization.
func (l *LocalBox) Descendants(folder string) ([]string, error) {
	full, err := l.resolve(folder)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(full); os.IsNotExist(statErr) {
		// Locking a folder that does not exist yet is fine; entries
		// materialize later through creation notifications.
		return nil, nil
	}
	infos, err := l.ReadDir(context.Background(), folder)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(infos))
	for _, info := range infos {
		paths = append(paths, info.Path)
	}
	return paths, nil
}

func checkDenied(command string) error {
	lower := strings.ToLower(command)
	for _, frag := range deniedFragments {
		if strings.Contains(lower, frag) {
			return fmt.Errorf("command refused: contains %q", frag)
		}
	}
	return nil
}
