package security

import (
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		errMsg string
	}{
		{name: "ledger directory", path: "data/ledger"},
		{name: "absolute token database", path: "/var/lib/socialhub/tokens.db"},
		{name: "dots inside a file name", path: "data/tokens..json"},
		{name: "empty", path: "", errMsg: "cannot be empty"},
		{name: "leading traversal", path: "../tokens.json", errMsg: "directory traversal"},
		{name: "traversal in the middle", path: "data/../../etc/passwd", errMsg: "directory traversal"},
		{name: "NUL byte", path: "data/ledger\x00.json", errMsg: "NUL byte"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}
}

func TestValidateFilePathWithBase(t *testing.T) {
	ledgerDir := filepath.Join(t.TempDir(), "ledger")

	tests := []struct {
		name   string
		path   string
		errMsg string
	}{
		{name: "escaped contact snapshot", path: filepath.Join(ledgerDir, url.PathEscape("../+15550100")+".json")},
		{name: "credential partition", path: filepath.Join(ledgerDir, "linkedin.json")},
		{name: "relative to base", path: "facebook.json"},
		{name: "base itself", path: ledgerDir},
		{name: "sibling directory", path: filepath.Join(filepath.Dir(ledgerDir), "tokens", "linkedin.json"), errMsg: "escapes base directory"},
		{name: "prefix sibling", path: ledgerDir + "-old/a.json", errMsg: "escapes base directory"},
		{name: "unrelated absolute", path: "/etc/passwd", errMsg: "escapes base directory"},
		{name: "raw traversal", path: filepath.Join(ledgerDir, "..", "tokens.db"), errMsg: "escapes base directory"},
		{name: "unescaped traversal segment", path: ledgerDir + "/../tokens.db", errMsg: "directory traversal"},
		{name: "empty", path: "", errMsg: "cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePathWithBase(tt.path, ledgerDir)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}
}
