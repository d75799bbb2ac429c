package transport

import (
	"fmt"
	"net"

	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/wire"
)

// UDPSender writes packets to a single remote receiver. It is safe for use
// from one goroutine at a time.
type UDPSender struct {
	conn net.Conn
}

// NewUDPSender connects the sender to the remote address.
func NewUDPSender(remoteAddr string) (*UDPSender, error) {
	conn, err := net.Dial("udp", remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", remoteAddr, err)
	}
	return &UDPSender{conn: conn}, nil
}

// Send encodes and transmits one packet.
func (s *UDPSender) Send(pkt wire.Packet) error {
	data, err := wire.Encode(pkt)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(data)
	return err
}

// RemoteAddr returns the address packets are sent to.
func (s *UDPSender) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close releases the socket.
func (s *UDPSender) Close() error {
	return s.conn.Close()
}
