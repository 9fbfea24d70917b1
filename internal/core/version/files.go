package version

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/vabhub/convoy/internal/core/manifest"
)

// =============================================================================
// Version File Codecs
// =============================================================================

// ErrNoVersion is wrapped by codecs when the expected version declaration is
// absent from the file contents.
var ErrNoVersion = fmt.Errorf("no version declaration found")

var (
	setupPyVersion     = regexp.MustCompile(`(version\s*=\s*['"])([^'"]+)(['"])`)
	packageJSONVersion = regexp.MustCompile(`("version"\s*:\s*")([^"]*)(")`)
)

// ReadFile extracts the declared version from a repository's version file
// contents according to the repository kind.
func ReadFile(kind manifest.Kind, data []byte) (string, error) {
	switch kind {
	case manifest.KindJavascript:
		return readPackageJSON(data)
	case manifest.KindPython:
		return readSetupPy(data)
	case manifest.KindResources, manifest.KindDeploy:
		return readPlain(data)
	default:
		return "", fmt.Errorf("unknown repository kind %q", kind)
	}
}

// WriteFile returns the file contents with the version declaration replaced,
// preserving the rest of the file byte for byte where the format allows it.
func WriteFile(kind manifest.Kind, data []byte, version string) ([]byte, error) {
	if err := Validate(version); err != nil {
		return nil, err
	}
	switch kind {
	case manifest.KindJavascript:
		return writePackageJSON(data, version)
	case manifest.KindPython:
		return writeSetupPy(data, version)
	case manifest.KindResources, manifest.KindDeploy:
		return []byte(version + "\n"), nil
	default:
		return nil, fmt.Errorf("unknown repository kind %q", kind)
	}
}

func readPackageJSON(data []byte) (string, error) {
	var pkg struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return "", fmt.Errorf("parse package.json: %w", err)
	}
	if pkg.Version == "" {
		return "", fmt.Errorf("package.json: %w", ErrNoVersion)
	}
	return pkg.Version, nil
}

func writePackageJSON(data []byte, version string) ([]byte, error) {
	if _, err := readPackageJSON(data); err != nil {
		return nil, err
	}
	// Splice only the first "version" field so key order, indentation and
	// nested dependency entries stay untouched.
	loc := packageJSONVersion.FindSubmatchIndex(data)
	if loc == nil {
		return nil, fmt.Errorf("package.json: %w", ErrNoVersion)
	}
	var buf bytes.Buffer
	buf.Write(data[:loc[4]])
	buf.WriteString(version)
	buf.Write(data[loc[5]:])
	return buf.Bytes(), nil
}

func readSetupPy(data []byte) (string, error) {
	m := setupPyVersion.FindSubmatch(data)
	if m == nil {
		return "", fmt.Errorf("setup.py: %w", ErrNoVersion)
	}
	return string(m[2]), nil
}

func writeSetupPy(data []byte, version string) ([]byte, error) {
	if !setupPyVersion.Match(data) {
		return nil, fmt.Errorf("setup.py: %w", ErrNoVersion)
	}
	return setupPyVersion.ReplaceAll(data, []byte("${1}"+version+"${3}")), nil
}

func readPlain(data []byte) (string, error) {
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", fmt.Errorf("VERSION file: %w", ErrNoVersion)
	}
	// Only the first line counts; trailing notes are tolerated.
	if i := strings.IndexByte(v, '\n'); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v, nil
}
