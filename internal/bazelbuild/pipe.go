package bazelbuild

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/axl-run/axl/internal/axlerr"
)

// isPIDAlive reports whether pid names a live, non-zombie process, a Go
// port of galvanize's is_pid_alive: kill(pid, 0) distinguishes "no such
// process" from everything else, and /proc/<pid>/stat's state field catches
// zombies that still hold the PID slot but will never open new files.
func isPIDAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	if err != nil {
		return err != syscall.ESRCH
	}
	return !isPIDZombie(pid)
}

func isPIDZombie(pid int) bool {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return false
	}
	// The comm field is parenthesized and may itself contain ")"; the state
	// letter is the first field after the LAST ")".
	end := -1
	for i := len(data) - 1; i >= 0; i-- {
		if data[i] == ')' {
			end = i
			break
		}
	}
	if end < 0 || end+2 >= len(data) {
		return false
	}
	return data[end+2] == 'Z'
}

// isPathOpenForPID scans /proc/<pid>/fd, a Go port of galvanize's Linux
// is_path_open_for_pid.
func isPathOpenForPID(path string, pid int) (bool, error) {
	fdDir := filepath.Join("/proc", strconv.Itoa(pid), "fd")
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	for _, e := range entries {
		target, err := os.Readlink(filepath.Join(fdDir, e.Name()))
		if err != nil {
			continue // fd raced closed between ReadDir and Readlink
		}
		if target == path {
			return true, nil
		}
	}
	return false, nil
}

// Pipe wraps a named pipe opened for reading, retrying an EOF read as long
// as the owning PID still holds the path open, and reporting BrokenPipe
// once it doesn't — a Go port of galvanize::Pipe with
// RetryPolicy::IfOpenForPid.
type Pipe struct {
	path string
	file *os.File
	pid  int
	name string
}

// NewPipe creates a FIFO at path and opens it for reading, blocking (as
// os.OpenFile does for FIFOs) until a writer opens the other end.
func NewPipe(path string, pid int, streamName string) (*Pipe, error) {
	if err := unix.Mkfifo(path, 0o600); err != nil {
		return nil, fmt.Errorf("mkfifo %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Pipe{path: abs, file: f, pid: pid, name: streamName}, nil
}

func (p *Pipe) Read(buf []byte) (int, error) {
	for {
		n, err := p.file.Read(buf)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return n, err
		}
		// n == 0: either true EOF or a FIFO temporarily drained. Only the
		// writer's fd table tells us which.
		open, statErr := isPathOpenForPID(p.path, p.pid)
		if statErr != nil {
			return 0, statErr
		}
		if open {
			if err == io.EOF {
				continue
			}
			return 0, nil
		}
		return 0, &axlerr.BrokenPipe{Stream: p.name}
	}
}

func (p *Pipe) Close() error { return p.file.Close() }

// StreamingFile streams the contents of a regular file as pid appends to
// it, a Go port of galvanize::StreamingFile (used for Bazel's execution
// log, which the build tool writes to a plain file rather than a pipe).
type StreamingFile struct {
	path string
	file *os.File
	pid  int
	name string
}

// OpenStreamingFile busy-polls for path to exist (capped by pid staying
// alive), then opens it.
func OpenStreamingFile(path string, pid int, streamName string) (*StreamingFile, error) {
	for {
		if _, err := os.Stat(path); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return nil, err
		}
		if !isPIDAlive(pid) {
			return nil, &axlerr.BrokenPipe{Stream: streamName}
		}
		time.Sleep(10 * time.Millisecond)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &StreamingFile{path: abs, file: f, pid: pid, name: streamName}, nil
}

// Read returns (0, nil) at the current end of file while pid still holds it
// open ("no data yet"), and BrokenPipe once the writer has closed it.
func (s *StreamingFile) Read(buf []byte) (int, error) {
	n, err := s.file.Read(buf)
	if n > 0 {
		return n, nil
	}
	if err != nil && err != io.EOF {
		return n, err
	}
	open, statErr := isPathOpenForPID(s.path, s.pid)
	if statErr != nil {
		return 0, statErr
	}
	if open {
		return 0, nil
	}
	return 0, &axlerr.BrokenPipe{Stream: s.name}
}

func (s *StreamingFile) Close() error { return s.file.Close() }
