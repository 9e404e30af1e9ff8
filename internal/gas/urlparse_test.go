package gas

import (
	"testing"
)

const urlScriptID = "AKfycbwXyZ0123456789_abcdefGHIJKLMN"

func TestParseScriptURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantID   string
		wantMode string
		wantDom  string
		wantErr  bool
	}{
		{
			name:     "standard exec",
			url:      "https://script.google.com/macros/s/" + urlScriptID + "/exec",
			wantID:   urlScriptID,
			wantMode: "exec",
		},
		{
			name:     "standard dev trailing slash",
			url:      "https://script.google.com/macros/s/" + urlScriptID + "/dev/",
			wantID:   urlScriptID,
			wantMode: "dev",
		},
		{
			name:     "domain scoped",
			url:      "https://script.google.com/a/macros/example.com/s/" + urlScriptID + "/exec",
			wantID:   urlScriptID,
			wantMode: "exec",
			wantDom:  "example.com",
		},
		{
			name:    "query string rejected",
			url:     "https://script.google.com/macros/s/" + urlScriptID + "/exec?user=1",
			wantErr: true,
		},
		{
			name:    "wrong case rejected",
			url:     "https://script.google.com/MACROS/s/" + urlScriptID + "/exec",
			wantErr: true,
		},
		{
			name:    "short id rejected",
			url:     "https://script.google.com/macros/s/tooshort/exec",
			wantErr: true,
		},
		{
			name:    "unknown mode rejected",
			url:     "https://script.google.com/macros/s/" + urlScriptID + "/run",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScriptURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tt.url)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseScriptURL(%s): %v", tt.url, err)
			}
			if got.ScriptID != tt.wantID {
				t.Errorf("ScriptID = %s, want %s", got.ScriptID, tt.wantID)
			}
			if got.Mode != tt.wantMode {
				t.Errorf("Mode = %s, want %s", got.Mode, tt.wantMode)
			}
			if got.Domain != tt.wantDom {
				t.Errorf("Domain = %s, want %s", got.Domain, tt.wantDom)
			}
		})
	}
}
