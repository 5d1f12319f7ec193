// Package lockfile advertises a running `daybook serve` to other local
// processes. The file holds "port|pid|secret".
package lockfile

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/julianstephens/daybook/internal/constants"
)

var (
	userConfigDirFunc = os.UserConfigDir
	findProcessFunc   = ps.FindProcess
	getpidFunc        = os.Getpid

	// ErrNotRunning is returned when no live server owns the lockfile
	ErrNotRunning = errors.New("daybook server is not running")
	// ErrMalformed is returned for a lockfile that cannot be parsed
	ErrMalformed = errors.New("lockfile is malformed")
)

// Info describes a running server.
type Info struct {
	Port   int
	PID    int
	Secret string
}

// Addr is the loopback address the server listens on.
func (i Info) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(i.Port))
}

func (i Info) String() string {
	return fmt.Sprintf("%d|%d|%s", i.Port, i.PID, i.Secret)
}

// Dir returns the directory holding the lockfile. A "lockfile_dir" key in the
// daybook config file overrides the default.
func Dir() (string, error) {
	configDir, err := userConfigDirFunc()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}

	appDir := filepath.Join(configDir, constants.AppName)

	data, err := os.ReadFile(filepath.Join(appDir, "config.json"))
	if err == nil {
		var settings struct {
			LockfileDir string `json:"lockfile_dir"`
		}
		if err := json.Unmarshal(data, &settings); err == nil && settings.LockfileDir != "" {
			return settings.LockfileDir, nil
		}
	}

	return appDir, nil
}

// Path returns the full lockfile path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, constants.ServerLockfileName), nil
}

// NewSecret returns a random shared secret.
func NewSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Write records this process as the server on port and returns the path written.
func Write(port int, secret string) (string, error) {
	path, err := Path()
	if err != nil {
		return "", err
	}
	if err := WriteAt(path, Info{Port: port, PID: getpidFunc(), Secret: secret}); err != nil {
		return "", err
	}
	return path, nil
}

// WriteAt writes info to path, readable only by the owner.
func WriteAt(path string, info Info) error {
	if strings.TrimSpace(info.Secret) == "" {
		return errors.New("secret cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create lockfile directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(info.String()), 0600); err != nil {
		return fmt.Errorf("failed to write lockfile: %w", err)
	}
	return nil
}

// Remove deletes the lockfile at path if this process still owns it.
func Remove(path string) error {
	info, err := parse(path)
	if err != nil {
		if errors.Is(err, ErrNotRunning) {
			return nil
		}
		return os.Remove(path)
	}
	if info.PID != getpidFunc() {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lockfile: %w", err)
	}
	return nil
}

// Find locates a live server through the default lockfile.
func Find() (Info, error) {
	path, err := Path()
	if err != nil {
		return Info{}, err
	}
	return Read(path)
}

// Read parses the lockfile at path and checks that its pid is a daybook process.
func Read(path string) (Info, error) {
	info, err := parse(path)
	if err != nil {
		return Info{}, err
	}

	process, err := findProcessFunc(info.PID)
	if err != nil || process == nil {
		return Info{}, fmt.Errorf("%w: process %d not found", ErrNotRunning, info.PID)
	}
	if !strings.HasPrefix(process.Executable(), constants.ServerExecutable) {
		return Info{}, fmt.Errorf("%w: process with PID %d is not daybook (is %s)", ErrNotRunning, info.PID, process.Executable())
	}

	return info, nil
}

func parse(path string) (Info, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Info{}, ErrNotRunning
	}

	parts := strings.Split(strings.TrimSpace(string(content)), "|")
	if len(parts) != 3 {
		return Info{}, ErrMalformed
	}

	if strings.TrimSpace(parts[0]) == "" {
		return Info{}, fmt.Errorf("%w: port is empty", ErrMalformed)
	}
	port, err := strconv.Atoi(parts[0])
	if err != nil {
		return Info{}, fmt.Errorf("%w: invalid port number", ErrMalformed)
	}
	if port < 1 || port > 65535 {
		return Info{}, fmt.Errorf("%w: port number %d is outside valid range (1-65535)", ErrMalformed, port)
	}

	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return Info{}, fmt.Errorf("%w: invalid process ID", ErrMalformed)
	}

	secret := parts[2]
	if strings.TrimSpace(secret) == "" {
		return Info{}, fmt.Errorf("%w: secret is empty", ErrMalformed)
	}

	return Info{Port: port, PID: pid, Secret: secret}, nil
}
