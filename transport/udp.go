package transport

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	iface "FaceMocap/interface"
)

// UDPSink sends one datagram per frame. Sending never waits on the receiver.
type UDPSink struct {
	mu   sync.Mutex
	conn *net.UDPConn
}

func NewUDPSink(host string, port int) (*UDPSink, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%d: %w", host, port, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &UDPSink{conn: conn}, nil
}

func (s *UDPSink) Send(features iface.FeatureSet) error {
	data, err := Encode(features)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return net.ErrClosed
	}
	_, err = s.conn.Write(data)
	return err
}

func (s *UDPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
