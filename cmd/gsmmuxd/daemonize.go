package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
)

// envChildMarker and envNotifyPID carry the re-exec handshake across
// daemonize's self-exec: a multi-threaded Go process can't safely fork()
// without immediately exec'ing, so backgrounding is done by re-executing
// the binary detached (new session, stdio on /dev/null) rather than a raw
// fork(). The startup-success signal itself is still SIGHUP (§6), sent by
// the child to the pid it was launched with.
const (
	envChildMarker = "GSMMUXD_CHILD"
	envNotifyPID   = "GSMMUXD_NOTIFY_PID"
)

// isReexecChild reports whether this process is the detached child of a
// prior daemonize call.
func isReexecChild() bool {
	return os.Getenv(envChildMarker) == "1"
}

// notifyParent signals the waiting -w parent, if any, that startup
// succeeded. It is a no-op when not running as a re-exec'd child (debug
// mode, or launched without backgrounding).
func notifyParent(ok bool) {
	if !ok {
		return
	}
	pid, err := strconv.Atoi(os.Getenv(envNotifyPID))
	if err != nil || pid <= 0 {
		return
	}
	_ = syscall.Kill(pid, syscall.SIGHUP)
}

// ignoreHangup makes SIGHUP a no-op in the running daemon (§6: "SIGHUP (in
// child) -> no-op"), since the default disposition would otherwise
// terminate the process — notifyParent's own signal would kill the thing
// it's trying to announce.
func ignoreHangup() {
	signal.Ignore(syscall.SIGHUP)
}

// daemonize backgrounds the process unless cfg.debug requests the
// foreground. When this call is already the re-exec'd child
// (GSMMUXD_CHILD=1) it returns immediately and the caller proceeds with
// normal startup. Otherwise it re-executes the binary detached from the
// controlling terminal and, if cfg.waitForChild, blocks until the child
// signals success (SIGHUP) or exits, then reports accordingly and exits —
// this call never returns in that branch.
func daemonize(cfg *appConfig) {
	if cfg.debug || isReexecChild() {
		return
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gsmmuxd: daemonize: %v\n", err)
		os.Exit(1)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=1", envChildMarker),
		fmt.Sprintf("%s=%d", envNotifyPID, os.Getpid()),
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0); err == nil {
		cmd.Stdin = devnull
		cmd.Stdout = devnull
		cmd.Stderr = devnull
	}

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "gsmmuxd: daemonize: start child: %v\n", err)
		os.Exit(1)
	}

	if !cfg.waitForChild {
		os.Exit(0)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	select {
	case <-sigCh:
		os.Exit(0)
	case err := <-exitCh:
		fmt.Fprintf(os.Stderr, "gsmmuxd: child exited before reporting startup success: %v\n", err)
		os.Exit(1)
	}
}
