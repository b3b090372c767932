package remote

import "errors"

var (
	// ErrPathRejected means the requested path failed the base-directory check.
	ErrPathRejected = errors.New("path outside the allowed base directory")

	// ErrConnect means the SSH handshake or transport failed.
	ErrConnect = errors.New("remote connection failed")

	// ErrRemoteIO means the remote operation failed after a successful connection.
	ErrRemoteIO = errors.New("remote operation failed")

	// ErrNotFound means the remote path does not exist.
	ErrNotFound = errors.New("remote path not found")

	// ErrTimeout means a remote command exceeded its deadline and was cut off.
	ErrTimeout = errors.New("remote command timed out")
)
