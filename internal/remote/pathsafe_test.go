package remote

import "testing"

func TestIsPathSafe(t *testing.T) {
	base := "/data/workspace"

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"base itself", "/data/workspace", true},
		{"direct child", "/data/workspace/main.c", true},
		{"nested child", "/data/workspace/a/b/c.go", true},
		{"trailing slash", "/data/workspace/", true},
		{"sibling prefix", "/data/workspacebar", false},
		{"sibling prefix deep", "/data/workspacebar/x", false},
		{"parent", "/data", false},
		{"root", "/", false},
		{"dotdot escape", "/data/workspace/../secrets", false},
		{"dotdot stays inside", "/data/workspace/a/../b", true},
		{"dot segments", "/data/workspace/./x", true},
		{"relative", "workspace/x", false},
		{"empty", "", false},
		{"unrelated", "/etc/passwd", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPathSafe(base, tt.path); got != tt.want {
				t.Errorf("IsPathSafe(%q, %q) = %v, want %v", base, tt.path, got, tt.want)
			}
		})
	}
}

func TestIsPathSafeRootBase(t *testing.T) {
	if !IsPathSafe("/", "/anything/goes") {
		t.Error("base / should admit any absolute path")
	}
}
