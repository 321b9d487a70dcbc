package gitprovider

import (
	"net"
	"testing"
)

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		name         string
		url          string
		allowPrivate bool
		wantErr      error
	}{
		{"public https", "https://93.184.216.34/api", false, nil},
		{"http rejected", "http://93.184.216.34", false, ErrInvalidScheme},
		{"localhost blocked", "https://localhost", false, ErrLocalhostBlocked},
		{"loopback blocked", "https://127.0.0.1", false, ErrLocalhostBlocked},
		{"mdns blocked", "https://gitlab.local", false, ErrLocalhostBlocked},
		{"private ip blocked", "https://10.1.2.3", false, ErrPrivateIP},
		{"link local blocked", "https://169.254.169.254", false, ErrPrivateIP},
		{"empty host", "https:///api", false, ErrEmptyHost},
		{"unparseable", "https://[::1", false, ErrInvalidURL},
		{"private allowed when enabled", "http://10.1.2.3:8080", true, nil},
		{"scheme still checked when private allowed", "ftp://10.1.2.3", true, ErrInvalidScheme},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBaseURL(tt.url, tt.allowPrivate)
			if err != tt.wantErr {
				t.Errorf("ValidateBaseURL(%q) error = %v, want %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestIsBlockedIP(t *testing.T) {
	tests := []struct {
		ip      string
		blocked bool
	}{
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"fe80::1", true},
		{"8.8.8.8", false},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		if got := isBlockedIP(net.ParseIP(tt.ip)); got != tt.blocked {
			t.Errorf("isBlockedIP(%s) = %v, want %v", tt.ip, got, tt.blocked)
		}
	}
}

func TestExtractHost(t *testing.T) {
	if got := ExtractHost("https://gitlab.example.com:8443/api/v4"); got != "gitlab.example.com:8443" {
		t.Errorf("ExtractHost() = %q", got)
	}
}
