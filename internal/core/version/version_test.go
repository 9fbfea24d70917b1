package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vabhub/convoy/internal/core/manifest"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		version string
		valid   bool
	}{
		{"1.0.0", true},
		{"0.1.0", true},
		{"2.3.4-rc.1", true},
		{"1.0.0+build.5", true},
		{"1.0", false},
		{"v1.0.0", false},
		{"latest", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := Validate(tt.version)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCompatible(t *testing.T) {
	ok, err := Compatible("2.1.0", "2.9.3")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Compatible("2.9.3", "3.0.0")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Compatible("nope", "1.0.0")
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	c, err := Compare("1.2.3", "1.2.10")
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = Compare("2.0.0", "2.0.0-rc.1")
	require.NoError(t, err)
	assert.Equal(t, 1, c)
}

func TestMajorDelta(t *testing.T) {
	d, err := MajorDelta("1.9.0", "4.0.0")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), d)

	d, err = MajorDelta("4.0.0", "1.9.0")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), d)
}

func TestSatisfiesConstraint(t *testing.T) {
	ok, err := SatisfiesConstraint("2.3.1", "^2.1.0")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = SatisfiesConstraint("3.0.0", "^2.1.0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsPrerelease(t *testing.T) {
	assert.True(t, IsPrerelease("1.0.0-beta.2"))
	assert.False(t, IsPrerelease("1.0.0"))
	assert.False(t, IsPrerelease("garbage"))
}

// =============================================================================
// Version File Codec Tests
// =============================================================================

func TestReadFilePackageJSON(t *testing.T) {
	data := []byte(`{"name": "@vabhub/frontend", "version": "2.1.4", "dependencies": {"@vabhub/core": "^2.0.0"}}`)
	v, err := ReadFile(manifest.KindJavascript, data)
	require.NoError(t, err)
	assert.Equal(t, "2.1.4", v)
}

func TestWriteFilePackageJSON(t *testing.T) {
	data := []byte(`{"name": "@vabhub/frontend", "version": "2.1.4"}`)
	out, err := WriteFile(manifest.KindJavascript, data, "2.2.0")
	require.NoError(t, err)

	v, err := ReadFile(manifest.KindJavascript, out)
	require.NoError(t, err)
	assert.Equal(t, "2.2.0", v)
	assert.Contains(t, string(out), `"name": "@vabhub/frontend"`)
}

func TestWriteFilePackageJSONPreservesLayout(t *testing.T) {
	data := []byte("{\n  \"name\": \"@vabhub/frontend\",\n  \"version\": \"2.1.4\",\n  \"scripts\": {\n    \"build\": \"vite build\"\n  },\n  \"dependencies\": {\n    \"@vabhub/core\": \"^2.0.0\"\n  }\n}\n")
	out, err := WriteFile(manifest.KindJavascript, data, "2.2.0")
	require.NoError(t, err)

	// Everything except the version string is byte-identical: key order,
	// indentation, and nested version constraints all survive.
	want := strings.Replace(string(data), `"version": "2.1.4"`, `"version": "2.2.0"`, 1)
	assert.Equal(t, want, string(out))
}

func TestWriteFilePackageJSONMalformed(t *testing.T) {
	_, err := WriteFile(manifest.KindJavascript, []byte(`{"name": "x"`), "2.2.0")
	assert.Error(t, err)

	_, err = WriteFile(manifest.KindJavascript, []byte(`{"name": "x"}`), "2.2.0")
	assert.ErrorIs(t, err, ErrNoVersion)
}

func TestReadFileSetupPy(t *testing.T) {
	data := []byte("from setuptools import setup\n\nsetup(\n    name='vabhub-core',\n    version='2.3.0',\n)\n")
	v, err := ReadFile(manifest.KindPython, data)
	require.NoError(t, err)
	assert.Equal(t, "2.3.0", v)
}

func TestWriteFileSetupPy(t *testing.T) {
	data := []byte("setup(\n    name='vabhub-core',\n    version = \"2.3.0\",\n    packages=find_packages(),\n)\n")
	out, err := WriteFile(manifest.KindPython, data, "2.4.0")
	require.NoError(t, err)
	assert.Contains(t, string(out), `version = "2.4.0"`)
	assert.Contains(t, string(out), "packages=find_packages()")
}

func TestReadFilePlain(t *testing.T) {
	v, err := ReadFile(manifest.KindResources, []byte("1.1.0\n"))
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", v)

	// First line wins when the file carries trailing notes.
	v, err = ReadFile(manifest.KindDeploy, []byte("1.1.0\nreleased 2026-08-01\n"))
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", v)
}

func TestReadFileMissingVersion(t *testing.T) {
	_, err := ReadFile(manifest.KindPython, []byte("setup(name='x')"))
	require.ErrorIs(t, err, ErrNoVersion)

	_, err = ReadFile(manifest.KindResources, []byte("   \n"))
	require.ErrorIs(t, err, ErrNoVersion)
}

func TestWriteFileRejectsBadVersion(t *testing.T) {
	_, err := WriteFile(manifest.KindResources, nil, "not-a-version")
	assert.Error(t, err)
}

// =============================================================================
// Report Tests
// =============================================================================

func TestBuildReport(t *testing.T) {
	versions := map[string]RepoVersion{
		"vabhub-core":     {Repository: "vabhub-core", Version: "2.3.0", Versioned: true},
		"vabhub-frontend": {Repository: "vabhub-frontend", Version: "1.9.0", Versioned: true},
		"vabhub-plugins":  {Repository: "vabhub-plugins", Version: "2.0.0-rc.1", Versioned: true},
		"vabhub-deploy":   {Repository: "vabhub-deploy", Versioned: false, Error: "no version declaration found"},
	}

	report := BuildReport(versions, "2.4.0")
	require.Len(t, report.Repos, 4)
	assert.Equal(t, "vabhub-core", report.Repos[0].Repository)
	assert.False(t, report.Healthy())
	require.Len(t, report.Issues, 1)
	assert.Contains(t, report.Issues[0], "vabhub-frontend")
	assert.Equal(t, []string{"vabhub-plugins"}, report.Prereleases)
}

func TestBuildReportNoTarget(t *testing.T) {
	report := BuildReport(map[string]RepoVersion{
		"a": {Repository: "a", Version: "1.0.0", Versioned: true},
	}, "")
	assert.True(t, report.Healthy())
	assert.Empty(t, report.Issues)
}
