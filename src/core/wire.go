package core

import (
	"crypto/rand"
	"encoding/binary"
	"net/netip"

	"github.com/Arceliar/phony"
	"github.com/mdlayher/ethernet"

	"github.com/zerotier/node-core/src/buffer"
	"github.com/zerotier/node-core/src/identity"
	"github.com/zerotier/node-core/src/peer"
	"github.com/zerotier/node-core/src/rule"
	"github.com/zerotier/node-core/src/vl1"
	"github.com/zerotier/node-core/src/vl2"
)

// ProcessWirePacket ingests one physical datagram received on a UDP
// socket (spec.md §4.1 "processWirePacket"). It never invokes the
// virtual-frame callback for a packet that fails MAC/decryption (spec.md
// §8), and it silently drops unrecognized verbs and replayed packet IDs
// rather than returning an error for them, matching spec.md's "malformed
// or unauthenticated input never surfaces as an error to the host".
func (n *Node) ProcessWirePacket(now int64, localSocket int64, remote netip.AddrPort, data []byte, isEngineBuffer *buffer.Buf) ResultCode {
	if !n.enterDispatch() {
		return ResultBadParameter
	}
	defer n.exitDispatch()

	var code ResultCode
	phony.Block(n, func() {
		code = n.processWirePacketLocked(now, localSocket, remote, data)
	})
	if isEngineBuffer != nil && isEngineBuffer.IsOwned() {
		n.bufs.Put(isEngineBuffer)
	}
	return code
}

// datagramKind is a one-byte prefix this engine adds ahead of every
// physical datagram so a receiver can tell a whole sealed VL1 packet from
// a fragment chunk without re-parsing the VL1 header, whose own flags
// byte is reserved for future protocol use (spec.md §6).
const (
	datagramWhole    byte = 0x00
	datagramFragment byte = 0x01
)

func (n *Node) processWirePacketLocked(now int64, localSocket int64, remote netip.AddrPort, data []byte) ResultCode {
	if len(data) < 1 {
		return ResultOK
	}
	var whole []byte
	switch data[0] {
	case datagramWhole:
		whole = data[1:]
	case datagramFragment:
		reassembled, complete := n.frag.Reassemble(data[1:], msToTime(now))
		if !complete {
			return ResultOK
		}
		whole = reassembled
	default:
		return ResultOK
	}
	if len(whole) < 18 {
		return ResultOK
	}
	srcAddr := getAddressAt(whole, 13)

	p, ok := n.peers.Get(srcAddr)
	if !ok {
		return ResultOK
	}
	sess, err := n.sessionFor(p)
	if err != nil {
		return ResultOK
	}
	pkt, err := sess.Open(whole)
	if err != nil {
		return ResultOK
	}
	if n.dedup.Seen(pkt.ID) {
		return ResultOK
	}
	p.OnReceive(remote, now, 0)

	switch pkt.Verb {
	case vl1.VerbFrame:
		n.onWireFrame(p, pkt)
	case vl1.VerbNetworkConfigRequest:
		n.onWireConfigRequest(p, pkt, remote)
	case vl1.VerbNetworkConfig:
		n.onWireConfig(p, pkt)
	case vl1.VerbUserMessage:
		n.onWireUserMessage(p, pkt)
	default:
		// NOP/HELLO/OK/ERROR/WHOIS/RENDEZVOUS/MULTICAST_FRAME handshake and
		// discovery verbs are out of scope for this engine build (spec.md
		// §1 Out of scope: "full peer discovery/relay protocol").
	}
	return ResultOK
}

// onWireFrame decodes an inbound VL2 Ethernet frame, applies the target
// network's ingress rule set, and delivers accepted frames via the host
// callback (spec.md §4.7).
func (n *Node) onWireFrame(p *peer.Peer, pkt *vl1.Packet) {
	if len(pkt.Payload) < 8 {
		return
	}
	nwid := binary.BigEndian.Uint64(pkt.Payload[0:8])
	net, ok := n.networks.Get(nwid)
	if !ok || net.Status != vl2.StatusOK {
		return
	}
	eth := new(ethernet.Frame)
	if err := eth.UnmarshalBinary(pkt.Payload[8:]); err != nil {
		return
	}
	f := &rule.Frame{Eth: eth}
	decision := vl2.Ingress(net, f, nil)
	if !decision.Accept {
		return
	}
	var srcMAC, dstMAC [6]byte
	copy(srcMAC[:], eth.Source)
	copy(dstMAC[:], eth.Destination)
	n.cb.VirtualNetworkFrame(nwid, srcMAC, dstMAC, uint16(eth.EtherType), 0, eth.Payload)
}

func (n *Node) onWireConfigRequest(p *peer.Peer, pkt *vl1.Packet, remote netip.AddrPort) {
	if len(pkt.Payload) < 8 {
		return
	}
	if n.cb.HTTPRequest == nil {
		return
	}
	// This engine build does not itself act as a network controller
	// (spec.md §1 Out of scope: "network controller implementation"): an
	// inbound config request is dropped here, neither answered nor passed
	// to the host; the HTTPRequest hook is not invoked.
}

func (n *Node) onWireConfig(p *peer.Peer, pkt *vl1.Packet) {
	if len(pkt.Payload) < 8 {
		return
	}
	nwid := binary.BigEndian.Uint64(pkt.Payload[0:8])
	var update vl2.Network
	if err := decodeNetworkConfig(pkt.Payload[8:], &update); err != nil {
		return
	}
	_ = n.networks.ApplyConfig(nwid, p.Fingerprint(), &update)
}

func (n *Node) onWireUserMessage(p *peer.Peer, pkt *vl1.Packet) {
	msg, err := vl1.DecodeUserMessage(pkt.Payload)
	if err != nil {
		return
	}
	n.cb.Event(Event{
		Type: EventUserMessage,
		UserMessage: &UserMessageEvent{
			Origin:  pkt.Source,
			TypeID:  msg.TypeID,
			Payload: msg.Payload,
		},
	})
}

// ProcessVirtualNetworkFrame ingests an Ethernet frame the host wants
// sent into a virtual network (spec.md §4.1 "processVirtualNetworkFrame").
// It applies the network's egress rule set and, on ACCEPT, encrypts and
// sends a VERB_FRAME packet toward the destination's best known path.
func (n *Node) ProcessVirtualNetworkFrame(now int64, nwid uint64, sourceMAC, destMAC [6]byte, etherType uint16, vlanID uint16, frameData []byte) ResultCode {
	if !n.enterDispatch() {
		return ResultBadParameter
	}
	defer n.exitDispatch()

	var code ResultCode
	phony.Block(n, func() {
		code = n.processVirtualNetworkFrameLocked(now, nwid, sourceMAC, destMAC, etherType, frameData)
	})
	return code
}

func (n *Node) processVirtualNetworkFrameLocked(now int64, nwid uint64, sourceMAC, destMAC [6]byte, etherType uint16, frameData []byte) ResultCode {
	net, ok := n.networks.Get(nwid)
	if !ok {
		return ResultNetworkNotFound
	}
	eth := &ethernet.Frame{
		Source:      sourceMAC[:],
		Destination: destMAC[:],
		EtherType:   ethernet.EtherType(etherType),
		Payload:     frameData,
	}
	f := &rule.Frame{Eth: eth}
	decision := vl2.Egress(net, f, nil)
	if !decision.Accept {
		return ResultOK
	}

	destAddr := identity.Address(macToUint64(destMAC) & 0xffffffffff)
	p, ok := n.peers.Get(destAddr)
	if !ok {
		return ResultOK
	}
	best := p.BestPath(now)
	if best == nil {
		return ResultOK
	}
	sess, err := n.sessionFor(p)
	if err != nil {
		return ResultNonFatalInternal
	}
	ethBytes, err := eth.MarshalBinary()
	if err != nil {
		return ResultNonFatalInternal
	}
	payload := make([]byte, 8+len(ethBytes))
	binary.BigEndian.PutUint64(payload[0:8], nwid)
	copy(payload[8:], ethBytes)
	pktID := newPacketID()
	sealed, err := sess.Seal(&vl1.Packet{
		ID:          pktID,
		Destination: destAddr,
		Source:      n.self.Address(),
		Verb:        vl1.VerbFrame,
		Payload:     payload,
	})
	if err != nil {
		return ResultNonFatalInternal
	}
	if err := n.sendSealed(best.Endpoint, pktID, sealed); err != nil {
		return ResultOK
	}
	return ResultOK
}

// ProcessHTTPResponse delivers the result of an earlier HTTPRequest
// callback invocation back into the dispatcher (spec.md §6). This engine
// build never issues HTTP requests, so no request is ever pending: the
// response is discarded and ResultOK is returned.
func (n *Node) ProcessHTTPResponse(now int64, requestID int64, responseCode int, data []byte) ResultCode {
	phony.Block(n, func() {
		delete(n.pendingHTTP, requestID)
	})
	return ResultOK
}

// SendUserMessage transmits an application-defined VERB_USER_MESSAGE to
// dest (spec.md §4.9, §8 scenario 6). Delivery is best-effort; there is no
// acknowledgement.
func (n *Node) SendUserMessage(now int64, dest identity.Address, typeID uint64, payload []byte) ResultCode {
	var code ResultCode
	phony.Block(n, func() {
		code = n.sendUserMessageLocked(now, dest, typeID, payload)
	})
	return code
}

func (n *Node) sendUserMessageLocked(now int64, dest identity.Address, typeID uint64, payload []byte) ResultCode {
	p, ok := n.peers.Get(dest)
	if !ok {
		return ResultNetworkNotFound
	}
	best := p.BestPath(now)
	if best == nil {
		return ResultOK
	}
	sess, err := n.sessionFor(p)
	if err != nil {
		return ResultNonFatalInternal
	}
	msg := &vl1.UserMessage{TypeID: typeID, Payload: payload}
	body, err := msg.Encode()
	if err != nil {
		return ResultBadParameter
	}
	pktID := newPacketID()
	sealed, err := sess.Seal(&vl1.Packet{
		ID:          pktID,
		Destination: dest,
		Source:      n.self.Address(),
		Verb:        vl1.VerbUserMessage,
		Payload:     body,
	})
	if err != nil {
		return ResultNonFatalInternal
	}
	if err := n.sendSealed(best.Endpoint, pktID, sealed); err != nil {
		return ResultOK
	}
	return ResultOK
}

// AddPeer registers a known remote identity without authorizing it on any
// network (spec.md §4.6).
func (n *Node) AddPeer(id *identity.Identity) {
	phony.Block(n, func() { n.peers.AddPeer(id) })
}

// TryPeer registers endpoint as a candidate path for a peer, adding the
// peer from knownIdentity if it is not yet known (spec.md §4.6). No packet
// is sent, since no payload is handed to the peer table. now is the host's
// clock (spec.md §5).
func (n *Node) TryPeer(now int64, fp identity.Fingerprint, knownIdentity *identity.Identity, endpoint netip.AddrPort) bool {
	var ok bool
	phony.Block(n, func() { ok = n.peers.TryPeer(now, fp, knownIdentity, endpoint, nil) })
	return ok
}

// sessionFor derives (and caches) the VL1 session key for communicating
// with p, requiring this node to hold private key material (spec.md
// §4.9).
func (n *Node) sessionFor(p *peer.Peer) (*vl1.Session, error) {
	if sess, ok := n.sessions[p.Address]; ok {
		return sess, nil
	}
	myPriv, ok := n.self.AgreementPrivateKey()
	if !ok {
		return nil, &Error{Code: ResultNonFatalInternal}
	}
	theirPub := p.Identity.AgreementPublicKey()
	sess, err := vl1.NewSession(&myPriv, &theirPub)
	if err != nil {
		return nil, err
	}
	n.sessions[p.Address] = sess
	return sess, nil
}

// sendSealed transmits an already-sealed VL1 packet toward endpoint,
// splitting it into fragment chunks first if it exceeds the physical MTU
// (spec.md §4.9).
func (n *Node) sendSealed(endpoint netip.AddrPort, packetID uint64, sealed []byte) error {
	if len(sealed)+1 <= vl1.DefaultPhysicalMTU {
		out := make([]byte, 1+len(sealed))
		out[0] = datagramWhole
		copy(out[1:], sealed)
		return n.cb.WirePacketSend(0, endpoint, out)
	}
	chunks, err := n.frag.Split(packetID, sealed)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		out := make([]byte, 1+len(chunk))
		out[0] = datagramFragment
		copy(out[1:], chunk)
		if err := n.cb.WirePacketSend(0, endpoint, out); err != nil {
			return err
		}
	}
	return nil
}

func newPacketID() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

func getAddressAt(b []byte, off int) identity.Address {
	var v uint64
	for i := 0; i < 5; i++ {
		v = (v << 8) | uint64(b[off+i])
	}
	return identity.Address(v)
}
