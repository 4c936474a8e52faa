package versions

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionInfo(t *testing.T) {
	t.Parallel()

	vcs := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.time", Value: "2025-03-01T10:20:30Z"},
	}

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
		settings  []debug.BuildSetting
		expected  VersionInfo
	}{
		{
			name:      "release build keeps ldflags",
			version:   "v1.0.0",
			commit:    "abc",
			buildDate: "2025-01-02T03:04:05Z",
			settings:  vcs,
			expected:  VersionInfo{Version: "v1.0.0", Commit: "abc", BuildDate: "2025-01-02 03:04:05 UTC"},
		},
		{
			name:      "dev build reads vcs settings",
			version:   "dev",
			commit:    unknownStr,
			buildDate: unknownStr,
			settings:  vcs,
			expected:  VersionInfo{Version: "build-01234567", Commit: "0123456789abcdef", BuildDate: "2025-03-01 10:20:30 UTC"},
		},
		{
			name:      "dev build without vcs",
			version:   "dev",
			commit:    unknownStr,
			buildDate: unknownStr,
			expected:  VersionInfo{Version: "build-unknown", Commit: unknownStr, BuildDate: unknownStr},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := versionInfo(tt.version, tt.commit, tt.buildDate, tt.settings)
			assert.Equal(t, tt.expected.Version, got.Version)
			assert.Equal(t, tt.expected.Commit, got.Commit)
			assert.Equal(t, tt.expected.BuildDate, got.BuildDate)
			assert.Equal(t, runtime.Version(), got.GoVersion)
			assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, got.Platform)
		})
	}
}
