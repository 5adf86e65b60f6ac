//go:build linux

package ptyio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEndpoint_LinkAsAndClose(t *testing.T) {
	dir := t.TempDir()
	master, err := os.CreateTemp(dir, "master")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	ep := &Endpoint{Channel: 2, Master: master, SlaveName: filepath.Join(dir, "pts-fake")}

	linkPrefix := filepath.Join(dir, "ttyGSM")
	if err := ep.LinkAs(linkPrefix, 2); err != nil {
		t.Fatalf("LinkAs: %v", err)
	}
	target, err := os.Readlink(linkPrefix + "2")
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != ep.SlaveName {
		t.Fatalf("symlink target = %q, want %q", target, ep.SlaveName)
	}

	if err := ep.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Lstat(linkPrefix + "2"); !os.IsNotExist(err) {
		t.Fatalf("expected symlink removed on Close, Lstat err=%v", err)
	}
}

func TestEndpoint_LinkAsReplacesStaleSymlink(t *testing.T) {
	dir := t.TempDir()
	master, err := os.CreateTemp(dir, "master")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer master.Close()

	stalePath := filepath.Join(dir, "ttyGSM0")
	if err := os.Symlink("/dev/null", stalePath); err != nil {
		t.Fatalf("seed stale symlink: %v", err)
	}

	ep := &Endpoint{Channel: 0, Master: master, SlaveName: filepath.Join(dir, "pts-real")}
	if err := ep.LinkAs(filepath.Join(dir, "ttyGSM"), 0); err != nil {
		t.Fatalf("LinkAs: %v", err)
	}
	target, err := os.Readlink(stalePath)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != ep.SlaveName {
		t.Fatalf("expected stale symlink replaced, got target %q", target)
	}
}
