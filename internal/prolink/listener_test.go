package prolink

import (
	"errors"
	"net"
	"testing"
)

func TestRecvFatal(t *testing.T) {
	closed := &net.OpError{Op: "read", Net: "udp", Err: net.ErrClosed}
	if !recvFatal(closed) {
		t.Error("closed socket must stop the reader")
	}

	// Transient kernel errors keep the reader alive; a deaf announce
	// port would eventually time every device out of the registry.
	transient := &net.OpError{Op: "read", Net: "udp", Err: errors.New("no buffer space available")}
	if recvFatal(transient) {
		t.Error("transient receive error must not stop the reader")
	}
}
