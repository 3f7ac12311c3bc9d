package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAttachAuditFileSink(t *testing.T) {
	dir := t.TempDir()
	if err := AttachAuditFileSink(dir); err != nil {
		t.Fatalf("attach: %v", err)
	}
	t.Cleanup(func() { Audit = nil })

	AuditEvent("test_event", "k", "v")

	b, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(b), "audit_sink_attached") {
		t.Fatalf("missing attach marker in %q", b)
	}
	if !strings.Contains(string(b), "test_event") {
		t.Fatalf("missing audit event in %q", b)
	}
}

func TestAttachAuditFileSinkRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	if err := os.MkdirAll(real, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := AttachAuditFileSink(link); err == nil {
		Audit = nil
		t.Fatal("symlinked audit dir accepted")
	}
}

func TestAttachAuditFileSinkRotatesLargeFile(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "audit.log")
	if err := os.WriteFile(fname, bytes.Repeat([]byte("x"), 10*1024*1024+1), 0o600); err != nil {
		t.Fatalf("seed oversized log: %v", err)
	}

	if err := AttachAuditFileSink(dir); err != nil {
		t.Fatalf("attach: %v", err)
	}
	t.Cleanup(func() { Audit = nil })

	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(ents) < 2 {
		t.Fatalf("expected a rotated backup alongside audit.log; got %d entries", len(ents))
	}
	fi, err := os.Stat(fname)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Size() > 1024 {
		t.Fatalf("audit.log not fresh after rotation: %d bytes", fi.Size())
	}
}
