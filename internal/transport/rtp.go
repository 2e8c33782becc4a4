package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/n0remac/video-compositor/internal/errs"
	"github.com/n0remac/video-compositor/internal/logging"
)

// inputRendezvousOffset and outputRendezvousOffset separate the public,
// registered port (what a caller names in register_input/register_output
// and what the allocator reserves) from the loopback port the local gst
// subprocess actually binds. Go owns the public socket so every packet
// crosses pion/rtp before it ever reaches gst, mirroring the teacher's
// webrtc/sfu.go shape where the Go process is always the network peer
// and the codec is downstream of it.
const (
	inputRendezvousOffset  = 10000
	outputRendezvousOffset = 20000
)

// InputInternalPort maps a registered input's public port to the
// loopback port its decoder's gst udpsrc binds.
func InputInternalPort(publicPort int) int { return publicPort + inputRendezvousOffset }

// OutputInternalPort maps a registered output's public destination port
// to the loopback port its encoder's gst udpsink targets.
func OutputInternalPort(destPort int) int { return destPort + outputRendezvousOffset }

// InputSocket is the public-facing UDP socket an input is registered
// on. It receives RTP from the network, unmarshals it with pion/rtp,
// and forwards it to the decoder subprocess's internal udpsrc port --
// the Go-owned half of the teacher's cvpipe.Pipeline.InRTPConn bridge.
type InputSocket struct {
	PublicPort   int
	InternalPort int

	pc   net.PacketConn
	conn net.Conn
	log  *logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewInputSocket binds publicPort for inbound network RTP and dials
// internalPort, the local port the decoder's gst subprocess listens on.
func NewInputSocket(ctx context.Context, publicPort, internalPort int, log *logging.Logger) (*InputSocket, error) {
	pc, err := net.ListenPacket("udp", netAddr(publicPort))
	if err != nil {
		return nil, errs.Transport("listen input udp socket", err)
	}
	conn, err := net.Dial("udp", netAddr(internalPort))
	if err != nil {
		pc.Close()
		return nil, errs.Transport("dial decoder udp socket", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &InputSocket{
		PublicPort:   publicPort,
		InternalPort: internalPort,
		pc:           pc,
		conn:         conn,
		log:          log,
		cancel:       cancel,
	}
	s.wg.Add(1)
	go s.readLoop(ctx)
	return s, nil
}

func (s *InputSocket) readLoop(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, _, err := s.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Errorf("input socket %d: read error: %v", s.PublicPort, err)
			continue
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.log.Warnf("input socket %d: malformed rtp packet: %v", s.PublicPort, err)
			continue
		}
		if err := s.Forward(pkt); err != nil {
			s.log.Errorf("input socket %d: forward to decoder: %v", s.PublicPort, err)
		}
	}
}

// Forward re-marshals pkt and writes it to the decoder subprocess.
func (s *InputSocket) Forward(pkt *rtp.Packet) error {
	raw, err := pkt.Marshal()
	if err != nil {
		return errs.Transport("marshal rtp packet", err)
	}
	_, err = s.conn.Write(raw)
	return err
}

func (s *InputSocket) Close() error {
	s.cancel()
	// Closing the socket unblocks readLoop's ReadFrom so Wait can return.
	err2 := s.pc.Close()
	s.wg.Wait()
	err1 := s.conn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// OutputSocket listens on the loopback port an encoder subprocess sends
// its RTP/RTCP to, fans each RTP packet out to subscribers, and always
// drives one subscriber -- the real network sender to the registered
// destination -- so registering an output actually puts frames on the
// wire, mirroring cvpipe.Pipeline.RTPListen + Subscribe/broadcast.
type OutputSocket struct {
	InternalPort int
	DestHost     string
	DestPort     int

	pc     net.PacketConn
	rtcpPC net.PacketConn
	log    *logging.Logger

	mu   sync.RWMutex
	subs map[chan *rtp.Packet]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOutputSocket listens on internalPort for the encoder subprocess's
// RTP output (and internalPort+1 for its RTCP companion), then starts
// the read loops and the real network sender targeting destHost:destPort.
func NewOutputSocket(ctx context.Context, internalPort int, destHost string, destPort int, log *logging.Logger) (*OutputSocket, error) {
	pc, err := net.ListenPacket("udp", netAddr(internalPort))
	if err != nil {
		return nil, errs.Transport("listen output udp socket", err)
	}
	rtcpPC, err := net.ListenPacket("udp", netAddr(internalPort+1))
	if err != nil {
		pc.Close()
		return nil, errs.Transport("listen output rtcp socket", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &OutputSocket{
		InternalPort: internalPort,
		DestHost:     destHost,
		DestPort:     destPort,
		pc:           pc,
		rtcpPC:       rtcpPC,
		log:          log,
		subs:         make(map[chan *rtp.Packet]struct{}),
		cancel:       cancel,
	}

	s.wg.Add(2)
	go s.readLoop(ctx)
	go s.readRTCPLoop(ctx)

	sender, err := newSender(destHost, destPort)
	if err != nil {
		s.Close()
		return nil, errs.Transport("dial output destination", err)
	}
	ch := s.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runSender(ctx, sender, ch, log)
	}()

	return s, nil
}

func (s *OutputSocket) readLoop(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, _, err := s.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Errorf("output socket %d: read error: %v", s.InternalPort, err)
			continue
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.log.Warnf("output socket %d: malformed rtp packet: %v", s.InternalPort, err)
			continue
		}
		s.broadcast(pkt)
	}
}

func (s *OutputSocket) readRTCPLoop(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, _, err := s.rtcpPC.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Errorf("output socket %d: rtcp read error: %v", s.InternalPort, err)
			continue
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			s.log.Warnf("output socket %d: malformed rtcp packet: %v", s.InternalPort, err)
			continue
		}
		HandleRTCP(pkts, s.log)
	}
}

func (s *OutputSocket) broadcast(pkt *rtp.Packet) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- pkt:
		default:
			s.log.Warnf("output socket %d: subscriber channel full, dropping packet", s.InternalPort)
		}
	}
}

// Subscribe registers a channel to receive every packet read from the
// socket from now on.
func (s *OutputSocket) Subscribe() chan *rtp.Packet {
	ch := make(chan *rtp.Packet, 128)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *OutputSocket) Unsubscribe(ch chan *rtp.Packet) {
	s.mu.Lock()
	if _, ok := s.subs[ch]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, ch)
	s.mu.Unlock()
	close(ch)
}

// HandleRTCP logs PLI/FIR feedback arriving on the output's RTCP
// companion port, mirroring the teacher's handleProcessedRTCP.
func HandleRTCP(pkts []rtcp.Packet, log *logging.Logger) {
	for _, p := range pkts {
		switch v := p.(type) {
		case *rtcp.PictureLossIndication:
			log.Debugf("received PLI for ssrc %d", v.MediaSSRC)
		case *rtcp.FullIntraRequest:
			log.Debugf("received FIR")
		}
	}
}

func (s *OutputSocket) Close() error {
	s.cancel()
	// Closing the sockets unblocks both read loops' ReadFrom so Wait can
	// return.
	err1 := s.pc.Close()
	err2 := s.rtcpPC.Close()
	s.wg.Wait()
	if err1 != nil {
		return err1
	}
	return err2
}

// newSender dials the registered destination the real network send
// writes to.
func newSender(host string, port int) (net.Conn, error) {
	return net.Dial("udp", fmt.Sprintf("%s:%d", host, port))
}

// runSender drains ch, re-marshaling and writing each packet to the
// dialed destination, until ctx is cancelled. This is the always-on
// subscriber that makes a registered output's Subscribe/broadcast
// mechanism observable outside the process: every other subscriber is
// optional instrumentation, this one is the network send.
func runSender(ctx context.Context, conn net.Conn, ch chan *rtp.Packet, log *logging.Logger) {
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-ch:
			if !ok {
				return
			}
			raw, err := pkt.Marshal()
			if err != nil {
				log.Errorf("output sender: marshal rtp packet: %v", err)
				continue
			}
			if _, err := conn.Write(raw); err != nil {
				log.Errorf("output sender: write: %v", err)
			}
		}
	}
}

func netAddr(port int) string {
	return (&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}).String()
}
