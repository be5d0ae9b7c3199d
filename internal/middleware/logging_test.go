package middleware

import "testing"

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/api/v1/content/abc-123/votes", "/api/v1/content/:contentId/votes"},
		{"/api/v1/content/abc-123/votes/me", "/api/v1/content/:contentId/votes/me"},
		{"/api/v1/users/me/votes", "/api/v1/users/me/votes"},
		{"/api/v1/users/u-42/votes", "/api/v1/users/:userId/votes"},
		{"/health/ready", "/health/ready"},
	}
	for _, tt := range tests {
		if got := sanitizePath(tt.in); got != tt.want {
			t.Errorf("sanitizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
