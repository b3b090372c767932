// Package remote translates filesystem and command operations into
// short-lived SSH/SFTP connections against one configured host.
//
// Every operation dials a fresh authenticated connection and closes it
// on return. There is no connection pool: one slow remote call cannot
// block others, at the cost of a handshake per call. Call volume in an
// interactive editor is low relative to handshake cost.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/cloudcode/cloudcode/internal/metrics"
)

// DefaultTreeDepth bounds recursive directory expansion.
const DefaultTreeDepth = 3

const dialTimeout = 10 * time.Second

// Config holds the remote host settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
}

// FileNode describes a file or directory on the remote host.
type FileNode struct {
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	Type       string     `json:"type"` // "file" or "directory"
	Size       int64      `json:"size"`
	ModifyTime time.Time  `json:"modifyTime"`
	Children   []FileNode `json:"children,omitempty"`
}

// ExecResult holds the outcome of a remote command.
type ExecResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Code   int    `json:"code"`
}

// Client runs filesystem and command operations on the remote host.
type Client struct {
	cfg Config
}

// NewClient creates a client for the configured host. No connection is
// made until the first operation.
func NewClient(cfg Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	return &Client{cfg: cfg}
}

func (c *Client) dial(ctx context.Context) (*ssh.Client, error) {
	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))

	sshCfg := &ssh.ClientConfig{
		User: c.cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(c.cfg.Password),
		},
		// The target host is operator-configured; pinning host keys is
		// left to the deployment.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	d := net.Dialer{Timeout: dialTimeout}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnect, addr, err)
	}

	conn, chans, reqs, err := ssh.NewClientConn(netConn, addr, sshCfg)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("%w: handshake with %s: %v", ErrConnect, addr, err)
	}

	return ssh.NewClient(conn, chans, reqs), nil
}

func (c *Client) dialSFTP(ctx context.Context) (*sftp.Client, *ssh.Client, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: open sftp subsystem: %v", ErrConnect, err)
	}
	return client, conn, nil
}

// List returns the immediate children of dir.
func (c *Client) List(ctx context.Context, dir string) ([]FileNode, error) {
	start := time.Now()
	nodes, err := c.list(ctx, dir)
	metrics.RecordRemoteOp("list", err, time.Since(start))
	return nodes, err
}

func (c *Client) list(ctx context.Context, dir string) ([]FileNode, error) {
	client, conn, err := c.dialSFTP(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	defer client.Close()

	entries, err := client.ReadDir(dir)
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("%w: readdir %s: %v", ErrRemoteIO, dir, err)
	}

	nodes := make([]FileNode, 0, len(entries))
	for _, e := range entries {
		nodes = append(nodes, FileNode{
			Name:       e.Name(),
			Path:       path.Join(dir, e.Name()),
			Type:       nodeType(e),
			Size:       e.Size(),
			ModifyTime: e.ModTime().UTC(),
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}

// Tree expands dir recursively up to maxDepth levels, skipping entries
// whose name begins with a dot. Each level dials its own connection, so
// latency grows with tree size; the depth cap bounds response size. A
// subtree that fails to list is returned empty rather than failing the
// whole tree.
func (c *Client) Tree(ctx context.Context, dir string, maxDepth int) ([]FileNode, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultTreeDepth
	}
	start := time.Now()
	nodes, err := c.tree(ctx, dir, 0, maxDepth)
	metrics.RecordRemoteOp("tree", err, time.Since(start))
	return nodes, err
}

func (c *Client) tree(ctx context.Context, dir string, depth, maxDepth int) ([]FileNode, error) {
	if depth > maxDepth {
		return []FileNode{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := c.list(ctx, dir)
	if err != nil {
		if depth == 0 {
			return nil, err
		}
		return []FileNode{}, nil
	}

	result := make([]FileNode, 0, len(entries))
	for _, node := range entries {
		if strings.HasPrefix(node.Name, ".") {
			continue
		}
		if node.Type == "directory" {
			children, err := c.tree(ctx, node.Path, depth+1, maxDepth)
			if err != nil {
				return nil, err
			}
			node.Children = children
		}
		result = append(result, node)
	}
	return result, nil
}

// Read returns the full content of the remote file as UTF-8 text. The
// content is buffered in one shot; very large files are an accepted
// limitation.
func (c *Client) Read(ctx context.Context, filePath string) (string, error) {
	start := time.Now()
	content, err := c.read(ctx, filePath)
	metrics.RecordRemoteOp("read", err, time.Since(start))
	return content, err
}

func (c *Client) read(ctx context.Context, filePath string) (string, error) {
	client, conn, err := c.dialSFTP(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	defer client.Close()

	f, err := client.Open(filePath)
	if err != nil {
		if isNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, filePath)
		}
		return "", fmt.Errorf("%w: open %s: %v", ErrRemoteIO, filePath, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrRemoteIO, filePath, err)
	}
	return string(data), nil
}

// Write replaces the remote file's content unconditionally. There is no
// revision token: two concurrent writers race and the last one wins.
func (c *Client) Write(ctx context.Context, filePath, content string) error {
	start := time.Now()
	err := c.write(ctx, filePath, content)
	metrics.RecordRemoteOp("write", err, time.Since(start))
	return err
}

func (c *Client) write(ctx context.Context, filePath, content string) error {
	client, conn, err := c.dialSFTP(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer client.Close()

	f, err := client.Create(filePath)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrRemoteIO, filePath, err)
	}
	if _, err := f.Write([]byte(content)); err != nil {
		f.Close()
		return fmt.Errorf("%w: write %s: %v", ErrRemoteIO, filePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrRemoteIO, filePath, err)
	}
	return nil
}

// Mkdir creates a directory on the remote host, including parents.
func (c *Client) Mkdir(ctx context.Context, dir string) error {
	start := time.Now()
	err := c.mkdir(ctx, dir)
	metrics.RecordRemoteOp("mkdir", err, time.Since(start))
	return err
}

func (c *Client) mkdir(ctx context.Context, dir string) error {
	client, conn, err := c.dialSFTP(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer client.Close()

	if err := client.MkdirAll(dir); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrRemoteIO, dir, err)
	}
	return nil
}

// Exec runs command in a fresh session and returns captured output and
// the exit code once the remote process finishes. A non-zero exit code
// is a result, not an error. When ctx expires the connection is torn
// down, which kills the session, and ErrTimeout is returned.
func (c *Client) Exec(ctx context.Context, command string) (ExecResult, error) {
	start := time.Now()
	res, err := c.exec(ctx, command)
	metrics.RecordRemoteOp("exec", err, time.Since(start))
	return res, err
}

func (c *Client) exec(ctx context.Context, command string) (ExecResult, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return ExecResult{}, err
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return ExecResult{}, fmt.Errorf("%w: open session: %v", ErrRemoteIO, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		// Closing the connection unblocks Run.
		conn.Close()
		<-done
		return ExecResult{}, fmt.Errorf("%w: %s", ErrTimeout, command)
	case err = <-done:
	}

	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.Code = exitErr.ExitStatus()
			return res, nil
		}
		return res, fmt.Errorf("%w: run %q: %v", ErrRemoteIO, command, err)
	}
	return res, nil
}

func nodeType(info fs.FileInfo) string {
	if info.IsDir() {
		return "directory"
	}
	return "file"
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, sftp.ErrSSHFxNoSuchFile)
}
