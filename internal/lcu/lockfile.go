package lcu

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// EnvLockfile names the environment override consulted during discovery.
const EnvLockfile = "LCU_LOCKFILE"

// Lockfile holds the credentials the client publishes for its local API,
// serialized as name:pid:port:secret:protocol in a plain-text file that is
// rewritten every time the client starts.
type Lockfile struct {
	Name     string
	PID      int
	Port     int
	Secret   string
	Protocol string
}

// ParseLockfile decodes the colon-separated lockfile body. The port must be
// numeric; the pid is best effort because some client builds write junk
// there.
func ParseLockfile(data []byte) (Lockfile, error) {
	parts := strings.Split(strings.TrimSpace(string(data)), ":")
	if len(parts) < 5 {
		return Lockfile{}, fmt.Errorf("lockfile: want 5 fields, got %d", len(parts))
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return Lockfile{}, fmt.Errorf("lockfile: bad port %q: %w", parts[2], err)
	}
	pid, _ := strconv.Atoi(parts[1])
	return Lockfile{
		Name:     parts[0],
		PID:      pid,
		Port:     port,
		Secret:   parts[3],
		Protocol: parts[4],
	}, nil
}

// FindLockfile resolves the lockfile location: explicit path first, then the
// environment override, then well-known install locations, and finally a
// scan of running client processes.
func FindLockfile(explicit string) (string, bool) {
	if explicit != "" && isFile(explicit) {
		return explicit, true
	}
	if env := os.Getenv(EnvLockfile); env != "" && isFile(env) {
		return env, true
	}
	for _, p := range wellKnownPaths() {
		if isFile(p) {
			return p, true
		}
	}
	return lockfileFromProcess()
}

func wellKnownPaths() []string {
	if runtime.GOOS == "windows" {
		return []string{
			`C:\Riot Games\League of Legends\lockfile`,
			`C:\Program Files\Riot Games\League of Legends\lockfile`,
			`C:\Program Files (x86)\Riot Games\League of Legends\lockfile`,
		}
	}
	paths := []string{"/Applications/League of Legends.app/Contents/LoL/lockfile"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local", "share", "League of Legends", "lockfile"))
	}
	return paths
}

// lockfileFromProcess scans running processes for the League client and looks
// for a lockfile beside its executable or one level up. Covers installs moved
// to non-standard drives.
func lockfileFromProcess() (string, bool) {
	procs, err := process.Processes()
	if err != nil {
		return "", false
	}
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !strings.Contains(strings.ToLower(name), "leagueclient") {
			continue
		}
		exe, err := p.Exe()
		if err != nil || exe == "" {
			continue
		}
		dir := filepath.Dir(exe)
		for _, d := range []string{dir, filepath.Dir(dir)} {
			candidate := filepath.Join(d, "lockfile")
			if isFile(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
