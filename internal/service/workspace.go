package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/haatos/verify-ci/internal"
	"github.com/haatos/verify-ci/internal/util"
)

// Workspace is a clean working copy of one revision on the local host or
// on a remote agent.
type Workspace interface {
	Dir() string
	Exec(ctx context.Context, command string, out io.Writer) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	RestoreCache(ctx context.Context, archive []byte) error
	SnapshotCache(ctx context.Context, paths []string) ([]byte, error)
	Close() error
}

type Materializer interface {
	Materialize(ctx context.Context, repository, revision string) (Workspace, error)
}

type RevisionResolver interface {
	ResolveRevision(ctx context.Context, repository, branch string) (string, error)
}

func NewLocalMaterializer(root string) *LocalMaterializer {
	return &LocalMaterializer{root: root}
}

type LocalMaterializer struct {
	root string
}

func (lm *LocalMaterializer) Materialize(
	ctx context.Context,
	repository, revision string,
) (Workspace, error) {
	if err := os.MkdirAll(lm.root, os.ModePerm); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(lm.root, time.Now().UTC().Format(internal.RunDirLayout)+"_")
	if err != nil {
		return nil, err
	}
	for _, args := range checkoutCommands(repository, revision) {
		if _, err := runGit(ctx, dir, args...); err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
	}
	return &LocalWorkspace{dir: dir}, nil
}

// ResolveRevision returns the commit the branch currently points to.
func (lm *LocalMaterializer) ResolveRevision(
	ctx context.Context,
	repository, branch string,
) (string, error) {
	out, err := runGit(ctx, "", "ls-remote", repository, "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", fmt.Errorf("branch '%s' not found in %s", branch, repository)
	}
	return fields[0], nil
}

func checkoutCommands(repository, revision string) [][]string {
	return [][]string{
		{"init", "--quiet"},
		{"remote", "add", "origin", repository},
		{"fetch", "--quiet", "--depth", "1", "origin", revision},
		{"checkout", "--quiet", "--detach", "FETCH_HEAD"},
	}
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	out := new(bytes.Buffer)
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}

type LocalWorkspace struct {
	dir string
}

func (lw *LocalWorkspace) Dir() string {
	return lw.dir
}

func (lw *LocalWorkspace) Exec(ctx context.Context, command string, out io.Writer) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = lw.dir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = 5 * time.Second
	err := cmd.Run()
	if ctx.Err() != nil {
		return RunCancelError{Message: fmt.Sprintf("command '%s' was cancelled: %v", command, err)}
	}
	return err
}

func (lw *LocalWorkspace) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(lw.dir, filepath.Clean(name)))
}

func (lw *LocalWorkspace) RestoreCache(ctx context.Context, archive []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return util.ExtractArchive(bytes.NewReader(archive), lw.dir)
}

func (lw *LocalWorkspace) SnapshotCache(ctx context.Context, paths []string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	if err := util.ArchivePaths(buf, lw.dir, paths); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lw *LocalWorkspace) Close() error {
	return os.RemoveAll(lw.dir)
}
