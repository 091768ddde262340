package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateArgument(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantErr bool
	}{
		{"plain", "compile.js", false},
		{"relative path", "./scripts/compile.mjs", false},
		{"flag", "--format=esm", false},
		{"semicolon", "x; rm -rf /", true},
		{"pipe", "x | cat", true},
		{"subshell", "$(whoami)", true},
		{"traversal", "../../etc/passwd", true},
		{"absolute", "/home/user/x.js", true},
		{"system binary", "/usr/bin/node", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgument(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	allowed := map[string]bool{"node": true, "bad;cmd": true}

	assert.NoError(t, ValidateCommand("node", allowed))
	assert.Error(t, ValidateCommand("", allowed))
	assert.Error(t, ValidateCommand("sh", allowed))
	assert.Error(t, ValidateCommand("bad;cmd", allowed))
}

func TestValidateHost(t *testing.T) {
	assert.NoError(t, ValidateHost("0.0.0.0"))
	assert.NoError(t, ValidateHost("localhost"))
	assert.Error(t, ValidateHost("localhost;reboot"))
	assert.Error(t, ValidateHost("$(id)"))
}

func TestValidateOrigin(t *testing.T) {
	allowed := []string{"localhost:3000", "http://127.0.0.1:3000"}

	assert.NoError(t, ValidateOrigin("http://localhost:3000", allowed))
	assert.NoError(t, ValidateOrigin("http://127.0.0.1:3000", allowed))
	assert.Error(t, ValidateOrigin("", allowed))
	assert.Error(t, ValidateOrigin("file://localhost:3000", allowed))
	assert.Error(t, ValidateOrigin("http://evil.example", allowed))
}

func TestValidateExtension(t *testing.T) {
	for _, ext := range []string{".jsx", ".tsx", ".svelte"} {
		assert.NoError(t, ValidateExtension(ext), ext)
	}
	for _, ext := range []string{"", ".", "jsx", ".a.b", "./x", ". x"} {
		assert.Error(t, ValidateExtension(ext), ext)
	}
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("http://localhost:3000"))
	assert.NoError(t, ValidateURL("https://example.com/path"))
	assert.Error(t, ValidateURL("javascript:alert(1)"))
	assert.Error(t, ValidateURL("http://localhost:3000/;rm"))
	assert.Error(t, ValidateURL("http://local host"))
	assert.Error(t, ValidateURL("http://"))
}
