package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

var ErrKeyLocked = errors.New("api key locked by another process")

// KeyLock is held for the lifetime of a process that signs with one
// (account, api key) pair. Two holders would race each other's nonces.
type KeyLock struct {
	path string
	file *os.File
}

type LockOptions struct {
	// Takeover allows replacing a lock whose owner is gone or which is older
	// than StaleAfter.
	Takeover   bool
	StaleAfter time.Duration
	Now        func() time.Time
}

func KeyLockPath(root string, accountIndex int64, apiKeyIndex uint8) string {
	return filepath.Join(root, fmt.Sprintf(".key-%d-%d.lock", accountIndex, apiKeyIndex))
}

func AcquireKeyLock(root string, accountIndex int64, apiKeyIndex uint8, opts LockOptions) (*KeyLock, error) {
	if root == "" {
		return nil, errors.New("lock dir required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	path := KeyLockPath(root, accountIndex, apiKeyIndex)

	for attempt := 0; attempt < 3; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if err := writeOwner(f, opts.Now().UTC()); err != nil {
				_ = f.Close()
				_ = os.Remove(path)
				return nil, err
			}
			return &KeyLock{path: path, file: f}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if !opts.Takeover {
			return nil, fmt.Errorf("%w: %s", ErrKeyLocked, path)
		}
		stale, reason, err := isStale(path, opts.Now().UTC(), opts.StaleAfter)
		if err != nil {
			return nil, fmt.Errorf("%w: %s (stale check failed: %v)", ErrKeyLocked, path, err)
		}
		if !stale {
			return nil, fmt.Errorf("%w: %s (%s)", ErrKeyLocked, path, reason)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyLocked, path)
}

func (l *KeyLock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *KeyLock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	l.path = ""
	return nil
}

func writeOwner(f *os.File, now time.Time) error {
	payload := "pid=" + strconv.Itoa(os.Getpid()) + "\nstarted_at=" + now.Format(time.RFC3339) + "\n"
	if _, err := f.WriteString(payload); err != nil {
		return err
	}
	return f.Sync()
}

type lockOwner struct {
	pid       int
	startedAt time.Time
}

func isStale(path string, now time.Time, staleAfter time.Duration) (bool, string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return true, "lock_disappeared", nil
	}
	if err != nil {
		return false, "", err
	}
	owner, err := parseOwner(data)
	if err != nil {
		return false, "", err
	}

	if owner.pid > 0 {
		if processAlive(owner.pid) {
			return false, "owner_process_running", nil
		}
		return true, "owner_process_not_running", nil
	}
	switch {
	case owner.startedAt.IsZero():
		return false, "missing_lock_owner_info", nil
	case staleAfter > 0 && now.Sub(owner.startedAt) >= staleAfter:
		return true, "lock_age_exceeded", nil
	}
	return false, "lock_not_stale", nil
}

func parseOwner(data []byte) (lockOwner, error) {
	var owner lockOwner
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "pid":
			if pid, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && pid > 0 {
				owner.pid = pid
			}
		case "started_at":
			if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(value)); err == nil {
				owner.startedAt = ts.UTC()
			}
		}
	}
	return owner, scanner.Err()
}

// processAlive treats a permission error as alive: the pid exists but
// belongs to someone else.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
