//go:build unix

package link

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/term"
)

func TestSerialCloseReportsRestoreFailure(t *testing.T) {
	// a regular file is no tty, so restoring its mode fails
	f := must(os.Create(filepath.Join(t.TempDir(), "ttyFAKE")))
	s := &Serial{File: f, restore: &term.State{}}
	err := s.Close()
	if err == nil || !strings.Contains(err.Error(), "restoring") {
		t.Errorf("** got %v, wanted a restore error", err)
	}
	if s.restore != nil {
		t.Errorf("** restore state kept after Close")
	}
}
