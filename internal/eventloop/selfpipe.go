//go:build linux

package eventloop

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joomcode/errorx"
	"golang.org/x/sys/unix"
)

// selfPipe bridges os/signal delivery into the event loop's single
// readiness wait using the classic self-pipe shape: one byte is written
// per signal, and the loop observes signals only between datagrams. Go's
// signal.Notify already delivers onto a channel, so the pipe itself isn't
// load-bearing for correctness here; it keeps the two-stage shape (handler
// writes a byte, main loop reads it) visible in the plumbing.
type selfPipe struct {
	readFD, writeFD int
	sigCh           chan os.Signal
	Signals         chan os.Signal
}

func newSelfPipe() (*selfPipe, error) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, errorx.Decorate(err, "eventloop: creating self-pipe")
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGTERM)

	sp := &selfPipe{readFD: fds[0], writeFD: fds[1], sigCh: sigCh, Signals: make(chan os.Signal, 4)}
	go sp.forward()
	return sp, nil
}

// forward writes one byte per received signal into the pipe and relays the
// signal itself onto Signals for the main loop to act on.
func (sp *selfPipe) forward() {
	for sig := range sp.sigCh {
		_, _ = unix.Write(sp.writeFD, []byte{0})
		sp.Signals <- sig
	}
}

func (sp *selfPipe) Close() error {
	signal.Stop(sp.sigCh)
	_ = unix.Close(sp.writeFD)
	return unix.Close(sp.readFD)
}
