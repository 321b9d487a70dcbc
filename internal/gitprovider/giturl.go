package gitprovider

import (
	"errors"
	"path"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/devinsight/devinsight/internal/model"
)

// ErrInvalidGitURL is returned for URLs that are not remote Git endpoints.
var ErrInvalidGitURL = errors.New("invalid git repository URL")

// GitURL is a parsed remote repository URL.
type GitURL struct {
	Protocol string
	Host     string
	// Path is the repository path without leading slash or ".git" suffix,
	// e.g. "group/subgroup/repo".
	Path string
}

// Name returns the last path segment.
func (u *GitURL) Name() string {
	return path.Base(u.Path)
}

// ParseGitURL accepts https, http, ssh and scp-like ("git@host:owner/repo.git")
// URLs with a host and at least one path segment.
func ParseGitURL(raw string) (*GitURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidGitURL
	}

	ep, err := transport.NewEndpoint(raw)
	if err != nil {
		return nil, ErrInvalidGitURL
	}

	switch ep.Protocol {
	case "https", "http", "ssh", "git":
	default:
		return nil, ErrInvalidGitURL
	}
	if ep.Host == "" {
		return nil, ErrInvalidGitURL
	}

	p := strings.Trim(ep.Path, "/")
	p = strings.TrimSuffix(p, ".git")
	if p == "" || strings.Contains(p, "..") {
		return nil, ErrInvalidGitURL
	}

	return &GitURL{Protocol: ep.Protocol, Host: strings.ToLower(ep.Host), Path: p}, nil
}

// ProjectIDFromURL derives the provider project identifier from a clone URL
// when the user did not supply one: "owner/repo" for GitHub and the full
// namespace path for GitLab. Yunxiao needs the numeric repository id, so it
// returns "".
func ProjectIDFromURL(platform model.Platform, raw string) string {
	u, err := ParseGitURL(raw)
	if err != nil {
		return ""
	}
	switch platform {
	case model.PlatformGitHub:
		parts := strings.Split(u.Path, "/")
		if len(parts) != 2 {
			return ""
		}
		return u.Path
	case model.PlatformGitLab:
		return u.Path
	default:
		return ""
	}
}
