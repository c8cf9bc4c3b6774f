package prolink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mrv96/onair-link/internal/logger"
)

// keepAliveInterval matches the cadence real devices announce at.
const keepAliveInterval = 1500 * time.Millisecond

// RawPacket is one received datagram with its receive context.
type RawPacket struct {
	Data []byte
	Src  *net.UDPAddr
	Port int
	When time.Time
}

// Iface describes the network interface the bridge operates on.
type Iface struct {
	Name      string
	IP        net.IP
	MAC       net.HardwareAddr
	Broadcast net.IP
	LinkLocal bool
}

// FindIface resolves the interface to bridge on. An empty name picks
// the first interface that is up, non-loopback and has an IPv4 address.
func FindIface(name string) (Iface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return Iface{}, fmt.Errorf("error getting interfaces: %w", err)
	}

	for _, ifi := range ifaces {
		if name != "" && ifi.Name != name {
			continue
		}
		if name == "" && (ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0) {
			continue
		}
		if len(ifi.HardwareAddr) == 0 {
			// Keep-alives carry a MAC; a tunnel interface cannot
			// present as a link device.
			if name != "" {
				return Iface{}, fmt.Errorf("interface %q has no hardware address", name)
			}
			continue
		}

		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			return Iface{
				Name:      ifi.Name,
				IP:        ipnet.IP.To4(),
				MAC:       ifi.HardwareAddr,
				Broadcast: broadcastAddr(ipnet),
				LinkLocal: ipnet.IP.IsLinkLocalUnicast(),
			}, nil
		}
	}

	if name != "" {
		return Iface{}, fmt.Errorf("interface %q has no usable IPv4 address", name)
	}
	return Iface{}, errors.New("no usable network interface found")
}

func broadcastAddr(ipnet *net.IPNet) net.IP {
	ip := ipnet.IP.To4()
	mask := ipnet.Mask
	if len(mask) == 16 {
		mask = mask[12:]
	}
	bcast := make(net.IP, 4)
	for i := range bcast {
		bcast[i] = ip[i] | ^mask[i]
	}
	return bcast
}

// Listener owns the Pro DJ Link sockets. It feeds received datagrams to
// a channel and keeps this bridge visible on the link by broadcasting
// keep-alives, since command acceptance on real players is gated on the
// sender being a known live device.
type Listener struct {
	log   logger.Logger
	iface Iface

	deviceName   string
	deviceNumber int

	// Destination for broadcast sends. 255.255.255.255 unless the
	// config or a link-local interface address says otherwise.
	bcast net.IP

	announce *net.UDPConn
	beat     *net.UDPConn
	status   *net.UDPConn
}

// NewListener binds the three well-known ports. Bind failure is fatal
// for the caller: the bridge cannot work without its sockets.
func NewListener(log logger.Logger, iface Iface, deviceName string, deviceNumber int, localBroadcast bool) (*Listener, error) {
	l := &Listener{
		log:          log,
		iface:        iface,
		deviceName:   deviceName,
		deviceNumber: deviceNumber,
		bcast:        net.IPv4bcast,
	}
	if localBroadcast || iface.LinkLocal {
		l.bcast = iface.Broadcast
	}

	var err error
	for _, s := range []struct {
		conn **net.UDPConn
		port int
	}{
		{&l.announce, PortAnnounce},
		{&l.beat, PortBeat},
		{&l.status, PortStatus},
	} {
		*s.conn, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: s.port})
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to bind UDP port %d: %w", s.port, err)
		}
	}

	log.With(logger.Fields{"module": "link"}).Infof(
		"listening on %s (%s), broadcast %s", iface.Name, iface.IP, l.bcast)
	return l, nil
}

// Start launches the reader goroutines and the keep-alive announcer.
// Received datagrams are delivered to out; the bridge loop is the only
// consumer.
func (l *Listener) Start(ctx context.Context, out chan<- RawPacket) {
	go l.readLoop(ctx, l.announce, PortAnnounce, out)
	go l.readLoop(ctx, l.beat, PortBeat, out)
	go l.readLoop(ctx, l.status, PortStatus, out)
	go l.announceLoop(ctx)
}

// Close releases the sockets, unblocking the reader goroutines.
func (l *Listener) Close() {
	for _, conn := range []*net.UDPConn{l.announce, l.beat, l.status} {
		if conn != nil {
			conn.Close()
		}
	}
}

func (l *Listener) readLoop(ctx context.Context, conn *net.UDPConn, port int, out chan<- RawPacket) {
	buf := make([]byte, 1500)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || recvFatal(err) {
				return
			}
			// Transient receive errors must not take the port down for
			// the rest of the run.
			l.log.With(logger.Fields{"module": "link"}).Errorf("read on port %d: %v", port, err)
			continue
		}
		if src.IP.Equal(l.iface.IP) {
			// Our own broadcast echoed back.
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case out <- RawPacket{Data: data, Src: src, Port: port, When: time.Now()}:
		case <-ctx.Done():
			return
		}
	}
}

// recvFatal reports whether a receive error means the socket is gone
// for good, i.e. the reader should stop.
func recvFatal(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func (l *Listener) announceLoop(ctx context.Context) {
	pkt := EncodeKeepAlive(l.deviceName, l.deviceNumber, DeviceMixer, l.iface.MAC, l.iface.IP)
	t := time.NewTicker(keepAliveInterval)
	defer t.Stop()
	for {
		if err := l.Broadcast(pkt, PortAnnounce); err != nil {
			l.log.With(logger.Fields{"module": "link"}).Errorf("keep-alive send: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Broadcast sends one packet to the broadcast address on the given
// port. Failures are the caller's to log; the send is never retried.
func (l *Listener) Broadcast(b []byte, port int) error {
	conn := l.beat
	if port == PortAnnounce {
		conn = l.announce
	}
	_, err := conn.WriteToUDP(b, &net.UDPAddr{IP: l.bcast, Port: port})
	return err
}

// Send delivers one packet to a specific device, for the commands that
// are accepted unicast.
func (l *Listener) Send(b []byte, ip net.IP, port int) error {
	conn := l.beat
	if port == PortAnnounce {
		conn = l.announce
	}
	_, err := conn.WriteToUDP(b, &net.UDPAddr{IP: ip, Port: port})
	return err
}
