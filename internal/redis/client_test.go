package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantAddr string
		wantDB   int
		wantPass string
		wantErr  bool
	}{
		{"full url", "redis://:secret@cache:6380/2", "cache:6380", 2, "secret", false},
		{"default port", "redis://cache", "cache:6379", 0, "", false},
		{"bare host port", "localhost:6379", "localhost:6379", 0, "", false},
		{"bare host", "localhost", "localhost:6379", 0, "", false},
		{"empty", "", "", 0, "", true},
		{"bad scheme", "http://cache:6379", "", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := ParseRedisURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q", tt.url)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if opts.Addr != tt.wantAddr {
				t.Errorf("Expected addr %s, got %s", tt.wantAddr, opts.Addr)
			}
			if opts.DB != tt.wantDB {
				t.Errorf("Expected db %d, got %d", tt.wantDB, opts.DB)
			}
			if opts.Password != tt.wantPass {
				t.Errorf("Expected password %q, got %q", tt.wantPass, opts.Password)
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	client, err := NewClient(context.Background(), "redis://"+addr)
	if err != nil {
		t.Fatalf("Expected connection, got %v", err)
	}
	defer client.Close()

	mr.Close()
	if _, err := NewClient(context.Background(), "redis://"+addr); err == nil {
		t.Error("Expected error when redis is down")
	}
}
