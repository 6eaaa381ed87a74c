package agent

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// OverrideEnv names the variable that pins the opencode executable.
const OverrideEnv = "OPENCODE_BIN"

const binaryName = "opencode"

// ErrBinaryNotFound is returned when no usable opencode executable exists.
var ErrBinaryNotFound = errors.New("opencode binary not found")

// resolver finds the opencode executable. Fields are swappable for tests.
type resolver struct {
	home     string
	lookPath func(string) (string, error)
}

func newResolver() resolver {
	home, _ := os.UserHomeDir()
	return resolver{home: home, lookPath: exec.LookPath}
}

func (r resolver) knownLocations() []string {
	var paths []string
	if r.home != "" {
		paths = append(paths,
			filepath.Join(r.home, ".opencode", "bin", binaryName),
			filepath.Join(r.home, ".local", "bin", binaryName),
		)
	}
	return append(paths, "/usr/local/bin/"+binaryName, "/opt/homebrew/bin/"+binaryName)
}

// resolve returns the executable to run. A non-empty override must exist;
// otherwise the well-known install locations are tried before PATH.
func (r resolver) resolve(override string) (string, error) {
	if override != "" {
		if !strings.ContainsRune(override, filepath.Separator) {
			if path, err := r.lookPath(override); err == nil {
				return path, nil
			}
			return "", fmt.Errorf("%w: %s=%q is not on PATH", ErrBinaryNotFound, OverrideEnv, override)
		}
		if !isExecutableFile(override) {
			return "", fmt.Errorf("%w: %s points to %s, which does not exist or is not executable", ErrBinaryNotFound, OverrideEnv, override)
		}
		return override, nil
	}

	for _, path := range r.knownLocations() {
		if isExecutableFile(path) {
			return path, nil
		}
	}
	if path, err := r.lookPath(binaryName); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%w: install opencode or set %s to its path", ErrBinaryNotFound, OverrideEnv)
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

// diagnose explains why an existing binary could not be started. It returns
// an empty string when it finds nothing specific.
func diagnose(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	head := make([]byte, 256)
	n, _ := io.ReadFull(f, head)
	head = head[:n]

	if bytes.HasPrefix(head, []byte("#!")) {
		return diagnoseShebang(path, head)
	}
	if bytes.HasPrefix(head, []byte(elf.ELFMAG)) {
		return diagnoseELF(path)
	}
	return ""
}

func diagnoseShebang(path string, head []byte) string {
	line, _, _ := bytes.Cut(head[2:], []byte("\n"))
	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return fmt.Sprintf("%s has an empty #! line", path)
	}
	interp := fields[0]
	if _, err := os.Stat(interp); err != nil {
		return fmt.Sprintf("interpreter %s required by %s is missing", interp, path)
	}
	if filepath.Base(interp) == "env" && len(fields) > 1 {
		if _, err := exec.LookPath(fields[1]); err != nil {
			return fmt.Sprintf("interpreter %s required by %s is missing from PATH", fields[1], path)
		}
	}
	return ""
}

func diagnoseELF(path string) string {
	f, err := elf.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_INTERP {
			continue
		}
		raw, err := io.ReadAll(prog.Open())
		if err != nil {
			return ""
		}
		loader := strings.TrimRight(string(raw), "\x00")
		if _, err := os.Stat(loader); err == nil {
			return ""
		}
		if strings.Contains(loader, "musl") {
			return fmt.Sprintf("%s is built for musl but the loader %s is missing; install the musl runtime or use the glibc build of opencode", path, loader)
		}
		return fmt.Sprintf("%s needs the program loader %s, which is missing", path, loader)
	}
	return ""
}
