package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"

	"github.com/haatos/verify-ci/internal"
	"github.com/haatos/verify-ci/internal/util"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const cacheArchiveName = ".verifyci-cache.tar.gz"

// SSHMaterializer checks revisions out on a remote agent.
type SSHMaterializer struct {
	hostname   string
	username   string
	privateKey []byte
	workspace  string
}

func NewSSHMaterializer(hostname, username string, privateKey []byte, workspace string) *SSHMaterializer {
	if !strings.Contains(hostname, ":") {
		hostname += ":22"
	}
	return &SSHMaterializer{
		hostname:   hostname,
		username:   username,
		privateKey: privateKey,
		workspace:  workspace,
	}
}

func (sm *SSHMaterializer) Materialize(
	ctx context.Context,
	repository, revision string,
) (Workspace, error) {
	client, err := sm.connectSSH()
	if err != nil {
		return nil, err
	}
	dir := path.Join(
		sm.workspace,
		time.Now().UTC().Format(internal.RunDirLayout)+"_"+shortRevision(revision),
	)
	if _, _, err := runCommand(ctx, client, checkoutScript(dir, repository, revision), 5*time.Minute); err != nil {
		client.Close()
		return nil, err
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, err
	}
	return &SSHWorkspace{dir: dir, client: client, sftp: sftpClient}, nil
}

// checkoutScript is the remote shell line that creates dir and checks
// revision out into it. Every argument is quoted.
func checkoutScript(dir, repository, revision string) string {
	cmds := []string{"mkdir -p " + util.ShellQuote(dir), "cd " + util.ShellQuote(dir)}
	for _, args := range checkoutCommands(repository, revision) {
		quoted := make([]string, 0, len(args))
		for _, a := range args {
			quoted = append(quoted, util.ShellQuote(a))
		}
		cmds = append(cmds, "git "+strings.Join(quoted, " "))
	}
	return strings.Join(cmds, " && ")
}

func (sm *SSHMaterializer) connectSSH() (*ssh.Client, error) {
	signer, err := ssh.ParsePrivateKey(sm.privateKey)
	if err != nil {
		return nil, fmt.Errorf("err parsing ssh private key: %w", err)
	}
	cc := &ssh.ClientConfig{
		User:            sm.username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	client, err := ssh.Dial("tcp", sm.hostname, cc)
	if err != nil {
		return nil, fmt.Errorf("err dialing ssh %s: %w", sm.hostname, err)
	}
	return client, nil
}

type SSHWorkspace struct {
	dir    string
	client *ssh.Client
	sftp   *sftp.Client
}

func (sw *SSHWorkspace) Dir() string {
	return sw.dir
}

func (sw *SSHWorkspace) Exec(ctx context.Context, command string, out io.Writer) error {
	sess, err := sw.client.NewSession()
	if err != nil {
		return err
	}
	defer sess.Close()
	w := &lockedWriter{w: out}
	sess.Stdout = w
	sess.Stderr = w

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- sess.Run(fmt.Sprintf("cd %s && %s", util.ShellQuote(sw.dir), command))
	}()

	select {
	case <-ctx.Done():
		if err := sess.Signal(ssh.SIGINT); err != nil {
			log.Printf("err sending SIGINT to agent: %+v\n", err)
		}
		return RunCancelError{Message: fmt.Sprintf("command '%s' was cancelled", command)}
	case err := <-doneCh:
		return err
	}
}

func (sw *SSHWorkspace) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := sw.sftp.Open(path.Join(sw.dir, path.Clean(name)))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// RestoreCache uploads the archive and unpacks it on the agent.
func (sw *SSHWorkspace) RestoreCache(ctx context.Context, archive []byte) error {
	remote := path.Join(sw.dir, cacheArchiveName)
	f, err := sw.sftp.Create(remote)
	if err != nil {
		return err
	}
	if _, err := f.Write(archive); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	cmd := fmt.Sprintf(
		"cd %s && tar -xzf %s && rm -f %s",
		util.ShellQuote(sw.dir), cacheArchiveName, cacheArchiveName,
	)
	_, _, err = runCommand(ctx, sw.client, cmd, 5*time.Minute)
	return err
}

// SnapshotCache archives the existing paths on the agent and downloads
// the result.
func (sw *SSHWorkspace) SnapshotCache(ctx context.Context, paths []string) ([]byte, error) {
	quoted := make([]string, 0, len(paths))
	for _, p := range paths {
		quoted = append(quoted, util.ShellQuote(path.Clean(p)))
	}
	cmd := fmt.Sprintf(
		"cd %s && set -- && for p in %s; do [ -e \"$p\" ] && set -- \"$@\" \"$p\"; done; tar -czf %s -T /dev/null \"$@\"",
		util.ShellQuote(sw.dir), strings.Join(quoted, " "), cacheArchiveName,
	)
	if _, _, err := runCommand(ctx, sw.client, cmd, 5*time.Minute); err != nil {
		return nil, err
	}
	f, err := sw.sftp.Open(path.Join(sw.dir, cacheArchiveName))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (sw *SSHWorkspace) Close() error {
	_, _, err := runCommand(
		context.Background(), sw.client, "rm -rf "+util.ShellQuote(sw.dir), 30*time.Second,
	)
	sw.sftp.Close()
	if closeErr := sw.client.Close(); err == nil {
		err = closeErr
	}
	return err
}

func runCommand(
	ctx context.Context,
	client *ssh.Client,
	command string,
	timeout time.Duration,
) (string, string, error) {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	sess, err := client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("err creating new session: %w", err)
	}
	defer sess.Close()
	sess.Stdout = stdout
	sess.Stderr = stderr

	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- sess.Run(command)
	}()

	select {
	case <-ctxTimeout.Done():
		if ctx.Err() != nil {
			sess.Signal(ssh.SIGINT)
			return "", "", RunCancelError{Message: fmt.Sprintf("command '%s' was cancelled", command)}
		}
		return "", "", fmt.Errorf(
			"command '%s' timeout after %d seconds",
			command,
			int(timeout.Seconds()),
		)
	case err := <-doneCh:
		if err != nil {
			return "", "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return stdout.String(), stderr.String(), nil
	}
}
