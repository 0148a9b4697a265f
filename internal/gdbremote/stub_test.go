package gdbremote

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/tinyrange/kdbg/internal/hv/hvtest"
)

// fakeStub answers the subset of the protocol QEMU's gdbstub serves to
// kdbg, backed by an hvtest.Memory.
type fakeStub struct {
	mem        *hvtest.Memory
	registers  string
	version    string
	packetSize int
	offerNoAck bool
	physical   bool

	mu       sync.Mutex
	requests []string
	noAck    bool
}

func (s *fakeStub) log(req string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
}

func (s *fakeStub) count(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func (s *fakeStub) handle(req string) []string {
	switch {
	case strings.HasPrefix(req, "qSupported"):
		features := fmt.Sprintf("PacketSize=%x", s.packetSize)
		if s.offerNoAck {
			features += ";QStartNoAckMode+"
		}
		return []string{features}
	case req == "QStartNoAckMode":
		return []string{"OK"}
	case strings.HasPrefix(req, "Qqemu.PhyMemMode:"):
		if !s.physical {
			return []string{""}
		}
		return []string{"OK"}
	case strings.HasPrefix(req, "m"):
		var addr, n uint64
		if _, err := fmt.Sscanf(req, "m%x,%x", &addr, &n); err != nil {
			return []string{"E01"}
		}
		buf := make([]byte, n)
		if _, err := s.mem.ReadAt(buf, int64(addr)); err != nil {
			return []string{"E14"}
		}
		return []string{hex.EncodeToString(buf)}
	case strings.HasPrefix(req, "qRcmd,"):
		cmd, _ := hex.DecodeString(strings.TrimPrefix(req, "qRcmd,"))
		var text string
		switch string(cmd) {
		case "info registers":
			text = s.registers
		case "info version":
			text = s.version + "\r\n"
		default:
			return []string{"E01"}
		}
		// Split long output across console packets as QEMU does.
		var replies []string
		for len(text) > 0 {
			n := min(len(text), 200)
			replies = append(replies, "O"+hex.EncodeToString([]byte(text[:n])))
			text = text[n:]
		}
		return append(replies, "OK")
	case req == "D":
		return []string{"OK"}
	}
	return []string{""}
}

func (s *fakeStub) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		pkt, err := readPacket(r)
		if err != nil {
			return
		}
		req := string(pkt)
		s.log(req)
		if !s.noAck {
			if _, err := conn.Write([]byte{'+'}); err != nil {
				return
			}
		}
		for _, reply := range s.handle(req) {
			if _, err := conn.Write(encodePacket([]byte(reply))); err != nil {
				return
			}
			if !s.noAck {
				if ack, err := r.ReadByte(); err != nil || ack != '+' {
					return
				}
			}
		}
		if req == "QStartNoAckMode" {
			s.noAck = true
		}
	}
}

func startStub(t *testing.T, s *fakeStub) *Client {
	t.Helper()
	if s.mem == nil {
		s.mem = hvtest.NewMemory()
	}
	if s.packetSize == 0 {
		s.packetSize = 0x1000
	}
	client, server := net.Pipe()
	go s.serve(server)
	t.Cleanup(func() { client.Close() })
	return NewClient(client, nil)
}
