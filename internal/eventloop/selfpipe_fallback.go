//go:build !linux

package eventloop

import (
	"os"
	"os/signal"
	"syscall"
)

// selfPipe on non-Linux platforms skips the real pipe (Pipe2 is a Linux
// syscall) and relays directly through signal.Notify's own channel; the
// externally visible behavior (Signals channel fires once per SIGUSR1 or
// SIGTERM) is identical.
type selfPipe struct {
	sigCh   chan os.Signal
	Signals chan os.Signal
}

func newSelfPipe() (*selfPipe, error) {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGTERM)
	return &selfPipe{sigCh: sigCh, Signals: sigCh}, nil
}

func (sp *selfPipe) Close() error {
	signal.Stop(sp.sigCh)
	return nil
}
