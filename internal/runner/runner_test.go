package runner

import (
	"io"
	"os"
	"os/user"
	"strconv"
	"testing"
)

func currentIDs(t *testing.T) (uint32, uint32) {
	t.Helper()
	u, err := user.Current()
	if err != nil {
		t.Skip("no current user available in this environment")
	}
	uid, _ := strconv.ParseUint(u.Uid, 10, 32)
	gid, _ := strconv.ParseUint(u.Gid, 10, 32)
	return uint32(uid), uint32(gid)
}

func TestRunnerStartWaitCapturesOutput(t *testing.T) {
	uid, gid := currentIDs(t)
	rc := &RunCmd{
		Command: "/bin/echo",
		Args:    []string{"hello"},
		User:    uid,
		Group:   gid,
	}
	r := New(rc, true, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r.Stdout)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	r.Wait()
	if err := r.Err(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if string(out) != "hello\n" {
		t.Fatalf("got %q, want %q", out, "hello\n")
	}
}

func TestRunnerWaitIsIdempotent(t *testing.T) {
	uid, gid := currentIDs(t)
	rc := &RunCmd{Command: "/bin/true", User: uid, Group: gid}
	r := New(rc, true, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	io.Copy(io.Discard, r.Stdout)
	r.Wait()
	r.Wait() // must not block or panic the second time
	if err := r.Err(); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestRunnerRunsCleanAfterMainExits(t *testing.T) {
	uid, gid := currentIDs(t)
	tmp, err := os.CreateTemp(t.TempDir(), "clean-marker")
	if err != nil {
		t.Fatalf("tempfile: %v", err)
	}
	markerPath := tmp.Name()
	tmp.Close()
	os.Remove(markerPath)

	rc := &RunCmd{
		Command: "/bin/true",
		User:    uid,
		Group:   gid,
		Clean: []*RunCmd{
			{Command: "/usr/bin/touch", Args: []string{markerPath}, User: uid, Group: gid},
		},
	}
	r := New(rc, true, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	io.Copy(io.Discard, r.Stdout)
	r.Wait()

	if _, err := os.Stat(markerPath); err != nil {
		t.Fatalf("expected clean hook to create %s: %v", markerPath, err)
	}
}

func TestRunnerRunsPrepBeforeMain(t *testing.T) {
	uid, gid := currentIDs(t)
	tmp, err := os.CreateTemp(t.TempDir(), "prep-marker")
	if err != nil {
		t.Fatalf("tempfile: %v", err)
	}
	markerPath := tmp.Name()
	tmp.Close()
	os.Remove(markerPath)

	rc := &RunCmd{
		Command: "/bin/cat",
		Args:    []string{markerPath},
		User:    uid,
		Group:   gid,
		Prep: []*RunCmd{
			{Command: "/usr/bin/touch", Args: []string{markerPath}, User: uid, Group: gid},
		},
	}
	r := New(rc, true, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("start failed, prep did not create %s in time: %v", markerPath, err)
	}
	io.Copy(io.Discard, r.Stdout)
	r.Wait()
	if err := r.Err(); err != nil {
		t.Fatalf("main command failed, prep marker missing: %v", err)
	}
}

func TestRunnerEnvInheritWithDefault(t *testing.T) {
	uid, gid := currentIDs(t)
	os.Setenv("D26RUN_TEST_INHERIT", "fromenv")
	defer os.Unsetenv("D26RUN_TEST_INHERIT")

	rc := &RunCmd{
		Command: "/usr/bin/env",
		User:    uid,
		Group:   gid,
		Env: []EnvEntry{
			{Name: "D26RUN_TEST_INHERIT", Kind: EnvInheritWithDefault},
			{Name: "D26RUN_TEST_DEFAULTED", Kind: EnvInheritWithDefault, Default: "fromdefault", HasDefault: true},
			{Name: "D26RUN_TEST_DROPPED", Kind: EnvInheritWithDefault},
		},
	}
	r := New(rc, true, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := io.ReadAll(r.Stdout)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	r.Wait()
	s := string(out)
	if !contains(s, "D26RUN_TEST_INHERIT=fromenv") {
		t.Fatalf("expected inherited value in env, got %q", s)
	}
	if !contains(s, "D26RUN_TEST_DEFAULTED=fromdefault") {
		t.Fatalf("expected default value in env, got %q", s)
	}
	if contains(s, "D26RUN_TEST_DROPPED") {
		t.Fatalf("expected D26RUN_TEST_DROPPED to be dropped, got %q", s)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
