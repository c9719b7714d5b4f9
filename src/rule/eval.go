package rule

import "bytes"

// Action is the terminal decision produced by evaluating a Table against
// a Frame (spec.md §4.8).
type Action int

const (
	ActionResultDrop Action = iota
	ActionResultAccept
	ActionResultBreak
	ActionResultRedirect
)

// Result carries the terminal action plus any side-data an action
// produces (a priority bucket, a TEE/WATCH/REDIRECT target).
type Result struct {
	Action    Action
	Target    uint64 // REDIRECT new destination
	Priority  uint8
	TeeTo     uint64
	WatchTo   uint64
	HasTee    bool
	HasWatch  bool
}

// Table is an ordered rule list evaluated as one flat sequence (spec.md
// §4.8): "walk the rule table once; maintain a boolean accumulator per
// clause starting true."
type Table []Rule

// Evaluate walks t against f exactly once, per spec.md §4.8:
//   - For a MATCH, compute the raw match, apply the NOT bit, then combine
//     with the clause accumulator via AND (default) or OR (the rule's OR
//     bit).
//   - On an ACTION, if the accumulator is true, execute the action and
//     reset the accumulator; otherwise reset the accumulator and
//     continue.
//   - An ACTION with no preceding MATCH is always taken (the accumulator
//     starts true).
//   - The default action at end-of-table with no ACCEPT is DROP.
func Evaluate(t Table, f *Frame) Result {
	acc := true
	res := Result{Action: ActionResultDrop}
	for i := range t {
		r := &t[i]
		if !r.IsAction() {
			m := matchOne(r, f)
			if r.Not {
				m = !m
			}
			if r.Or {
				acc = acc || m
			} else {
				acc = acc && m
			}
			continue
		}
		if acc {
			switch r.Type {
			case ActionDrop:
				res.Action = ActionResultDrop
				return res
			case ActionAccept:
				res.Action = ActionResultAccept
				return res
			case ActionBreak:
				res.Action = ActionResultBreak
				return res
			case ActionRedirect:
				res.Action = ActionResultRedirect
				res.Target = r.RedirectAddress
				return res
			case ActionTee:
				res.HasTee = true
				res.TeeTo = r.RedirectAddress
			case ActionWatch:
				res.HasWatch = true
				res.WatchTo = r.RedirectAddress
			case ActionPriority:
				res.Priority = r.Priority
			}
		}
		acc = true
	}
	return res
}

func matchOne(r *Rule, f *Frame) bool {
	switch r.Type {
	case MatchSourceMAC:
		return f.Eth != nil && bytes.Equal(f.Eth.Source, r.MAC[:])
	case MatchDestMAC:
		return f.Eth != nil && bytes.Equal(f.Eth.Destination, r.MAC[:])
	case MatchVLANID:
		return f.VLANID == r.VLANID
	case MatchVLANPCP:
		return f.VLANPCP == r.VLANPCP
	case MatchVLANDEI:
		return f.VLANDEI == r.VLANDEI
	case MatchEtherType:
		return f.Eth != nil && uint16(f.Eth.EtherType) == r.EtherType
	case MatchIntegerRange:
		return matchIntegerRange(&r.IntRange, f)
	case MatchCharacteristics:
		return f.Characteristics()&r.Chars == r.Chars
	case MatchTagDifference, MatchTagAnd, MatchTagOr, MatchTagXor, MatchTagEqual:
		return matchTagCombine(r, f)
	case MatchCapability:
		return f.MatchedCapabilityID == r.CapabilityID
	default:
		return false
	}
}

func matchTagCombine(r *Rule, f *Frame) bool {
	sv, sok := f.SenderTags[r.TagCombine.TagID]
	rv, rok := f.ReceiverTags[r.TagCombine.TagID]
	if !sok || !rok {
		return false
	}
	switch r.Type {
	case MatchTagDifference:
		d := sv - rv
		if rv > sv {
			d = rv - sv
		}
		return d == r.TagCombine.Value
	case MatchTagAnd:
		return sv&rv == r.TagCombine.Value
	case MatchTagOr:
		return sv|rv == r.TagCombine.Value
	case MatchTagXor:
		return sv^rv == r.TagCombine.Value
	case MatchTagEqual:
		return sv == rv
	default:
		return false
	}
}

// matchIntegerRange decodes (start, end-offset, index, format) and
// extracts a big/little-endian integer of the described width from the
// Ethernet payload at Index, matching if value is within
// [start, start+endOffset] (spec.md §4.8).
func matchIntegerRange(v *IntegerRangeValue, f *Frame) bool {
	if f.Eth == nil {
		return false
	}
	payload := f.Eth.Payload
	bits := v.Format.bits()
	nBytes := (bits + 7) / 8
	idx := int(v.Index)
	if idx < 0 || idx+nBytes > len(payload) {
		return false
	}
	raw := payload[idx : idx+nBytes]
	var value uint64
	if v.Format.littleEndian() {
		for i := nBytes - 1; i >= 0; i-- {
			value = (value << 8) | uint64(raw[i])
		}
	} else {
		for i := 0; i < nBytes; i++ {
			value = (value << 8) | uint64(raw[i])
		}
	}
	if bits < 64 {
		value &= (uint64(1) << bits) - 1
	}
	end := v.Start + v.EndOffset
	return value >= v.Start && value <= end
}
