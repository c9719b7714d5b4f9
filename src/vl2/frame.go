package vl2

import (
	"github.com/mdlayher/ethernet"

	"github.com/zerotier/node-core/src/rule"
)

// FrameTraceFunc reports a VL2 filter drop when tracing is enabled
// (spec.md §4.7: "if tracing enabled, emits a VL2 frame-drop trace").
type FrameTraceFunc func(nwid uint64, eth *ethernet.Frame, reason string)

// EgressDecision is the outcome of running the outbound rule set against
// a frame the local node wants to send into a network.
type EgressDecision struct {
	Accept   bool
	Redirect bool
	NewDest  uint64
}

// Egress evaluates n's rule table (and any matched capability's attached
// rule set) against an outbound frame (spec.md §4.7): on ACCEPT the
// caller should encrypt and enqueue a VL1 FRAME packet; on DROP/BREAK
// without an accept, the frame is discarded and, if trace is non-nil, a
// drop trace is emitted.
func Egress(n *Network, f *rule.Frame, trace FrameTraceFunc) EgressDecision {
	f.Direction = rule.DirectionOutbound
	return evaluateWithCapabilities(n, f, trace)
}

// Ingress evaluates n's rule table against an inbound frame already
// decrypted and credential-checked by VL1 (spec.md §4.7): on ACCEPT the
// caller should deliver the frame upward via the host's
// VirtualNetworkFrame callback.
func Ingress(n *Network, f *rule.Frame, trace FrameTraceFunc) EgressDecision {
	f.Direction = rule.DirectionInbound
	return evaluateWithCapabilities(n, f, trace)
}

func evaluateWithCapabilities(n *Network, f *rule.Frame, trace FrameTraceFunc) EgressDecision {
	res := rule.Evaluate(n.Rules, f)
	if res.Action == rule.ActionResultBreak {
		// BREAK exits the outer rule set but still lets a matched
		// capability's attached rule set run (spec.md §4.8).
		if cap, ok := n.Capabilities[f.MatchedCapabilityID]; ok && cap.Timestamp == f.MatchedCapabilityTimestamp {
			res = rule.Evaluate(cap.Rules, f)
		}
	}
	switch res.Action {
	case rule.ActionResultAccept:
		return EgressDecision{Accept: true}
	case rule.ActionResultRedirect:
		return EgressDecision{Accept: true, Redirect: true, NewDest: res.Target}
	default:
		if trace != nil {
			trace(n.NWID, f.Eth, "no matching accept rule")
		}
		return EgressDecision{Accept: false}
	}
}
