package gitprovider

import (
	"testing"

	"github.com/devinsight/devinsight/internal/model"
)

func TestParseGitURL(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantHost string
		wantPath string
		wantErr  bool
	}{
		{"https", "https://github.com/octo/app.git", "github.com", "octo/app", false},
		{"https without suffix", "https://codeup.aliyun.com/org/team/api", "codeup.aliyun.com", "org/team/api", false},
		{"scp style", "git@gitlab.com:grp/sub/svc.git", "gitlab.com", "grp/sub/svc", false},
		{"ssh scheme", "ssh://git@github.com/octo/app.git", "github.com", "octo/app", false},
		{"uppercase host", "https://GitHub.com/octo/app", "github.com", "octo/app", false},
		{"empty", "   ", "", "", true},
		{"local path", "/srv/repos/app.git", "", "", true},
		{"file scheme", "file:///srv/app.git", "", "", true},
		{"no path", "https://github.com/", "", "", true},
		{"traversal", "https://github.com/octo/../app", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := ParseGitURL(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseGitURL(%q) expected error, got %+v", tt.raw, u)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGitURL(%q) failed: %v", tt.raw, err)
			}
			if u.Host != tt.wantHost || u.Path != tt.wantPath {
				t.Errorf("ParseGitURL(%q) = %s %s, want %s %s", tt.raw, u.Host, u.Path, tt.wantHost, tt.wantPath)
			}
		})
	}
}

func TestGitURL_Name(t *testing.T) {
	u, err := ParseGitURL("https://gitlab.com/grp/sub/svc.git")
	if err != nil {
		t.Fatal(err)
	}
	if u.Name() != "svc" {
		t.Errorf("Name() = %q, want svc", u.Name())
	}
}

func TestProjectIDFromURL(t *testing.T) {
	tests := []struct {
		platform model.Platform
		raw      string
		want     string
	}{
		{model.PlatformGitHub, "https://github.com/octo/app.git", "octo/app"},
		{model.PlatformGitHub, "https://github.com/a/b/c", ""},
		{model.PlatformGitLab, "git@gitlab.com:grp/sub/svc.git", "grp/sub/svc"},
		{model.PlatformYunxiao, "https://codeup.aliyun.com/org/api.git", ""},
		{model.PlatformGitLab, "not a url", ""},
	}

	for _, tt := range tests {
		if got := ProjectIDFromURL(tt.platform, tt.raw); got != tt.want {
			t.Errorf("ProjectIDFromURL(%s, %q) = %q, want %q", tt.platform, tt.raw, got, tt.want)
		}
	}
}
