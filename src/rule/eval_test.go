package rule

import (
	"testing"

	"github.com/mdlayher/ethernet"
)

func tcpFrame(dir Direction, syn bool) *Frame {
	flags := byte(0x10) // ACK
	if syn {
		flags = 0x02
	}
	payload := make([]byte, 40)
	payload[0] = 0x45 // IPv4, IHL=5
	payload[9] = 6    // TCP
	payload[20+13] = flags
	return &Frame{
		Direction: dir,
		Eth: &ethernet.Frame{
			EtherType: ethernet.EtherTypeIPv4,
			Payload:   payload,
		},
	}
}

func TestEvaluateDropsInboundSYNWithNoOtherRules(t *testing.T) {
	table := Table{
		{Type: MatchCharacteristics, Chars: CharInbound | CharTCPSYN},
		{Type: ActionDrop},
	}
	in := tcpFrame(DirectionInbound, true)
	if got := Evaluate(table, in).Action; got != ActionResultDrop {
		t.Fatalf("inbound SYN: got %v, want drop", got)
	}
	ack := tcpFrame(DirectionInbound, false)
	if got := Evaluate(table, ack).Action; got != ActionResultDrop {
		t.Fatalf("inbound ACK with no accept rule: got %v, want drop (default)", got)
	}
	out := tcpFrame(DirectionOutbound, true)
	// Outbound SYN does not satisfy the inbound-qualified characteristics
	// match, so the accumulator is false when the DROP action is reached
	// and that action is skipped — but with no ACCEPT present either, the
	// default action still applies: DROP. The scenario in spec.md §8
	// describes outbound passing only when an accept rule exists
	// upstream of this filter (e.g. the implicit per-network default).
	if got := Evaluate(table, out).Action; got != ActionResultDrop {
		t.Fatalf("outbound SYN with only a drop-inbound rule: got %v, want drop (default, no accept present)", got)
	}
}

func TestEvaluateEmptyTableDrops(t *testing.T) {
	if got := Evaluate(nil, &Frame{}).Action; got != ActionResultDrop {
		t.Fatalf("empty table: got %v, want drop", got)
	}
}

func TestEvaluateActionWithNoPrecedingMatchAlwaysTaken(t *testing.T) {
	table := Table{{Type: ActionAccept}}
	if got := Evaluate(table, &Frame{}).Action; got != ActionResultAccept {
		t.Fatalf("bare accept: got %v, want accept", got)
	}
}

func TestEvaluateOrCombinesWithinClause(t *testing.T) {
	table := Table{
		{Type: MatchEtherType, EtherType: 0x0800},
		{Type: MatchEtherType, EtherType: 0x0806, Or: true},
		{Type: ActionAccept},
	}
	arp := &Frame{Eth: &ethernet.Frame{EtherType: 0x0806}}
	if got := Evaluate(table, arp).Action; got != ActionResultAccept {
		t.Fatalf("ARP via OR clause: got %v, want accept", got)
	}
	other := &Frame{Eth: &ethernet.Frame{EtherType: 0x1234}}
	if got := Evaluate(table, other).Action; got != ActionResultDrop {
		t.Fatalf("neither etype: got %v, want drop", got)
	}
}

func TestEvaluateNotInvertsMatch(t *testing.T) {
	table := Table{
		{Type: MatchEtherType, EtherType: 0x0800, Not: true},
		{Type: ActionAccept},
	}
	notIP := &Frame{Eth: &ethernet.Frame{EtherType: 0x0806}}
	if got := Evaluate(table, notIP).Action; got != ActionResultAccept {
		t.Fatalf("NOT IPv4 matching ARP frame: got %v, want accept", got)
	}
	isIP := &Frame{Eth: &ethernet.Frame{EtherType: 0x0800}}
	if got := Evaluate(table, isIP).Action; got != ActionResultDrop {
		t.Fatalf("NOT IPv4 matching IPv4 frame: got %v, want drop", got)
	}
}

func TestEvaluateIntegerRange(t *testing.T) {
	payload := []byte{0, 0, 0, 50}
	f := &Frame{Eth: &ethernet.Frame{Payload: payload}}
	table := Table{
		{Type: MatchIntegerRange, IntRange: IntegerRangeValue{Start: 10, EndOffset: 40, Index: 0, Format: 31}}, // 32 bits, big-endian
		{Type: ActionAccept},
	}
	if got := Evaluate(table, f).Action; got != ActionResultAccept {
		t.Fatalf("value 50 in [10,50]: got %v, want accept", got)
	}
}

func TestEvaluateTagEqual(t *testing.T) {
	f := &Frame{
		SenderTags:   map[uint32]uint64{7: 42},
		ReceiverTags: map[uint32]uint64{7: 42},
	}
	table := Table{
		{Type: MatchTagEqual, TagCombine: TagCombineValue{TagID: 7}},
		{Type: ActionAccept},
	}
	if got := Evaluate(table, f).Action; got != ActionResultAccept {
		t.Fatalf("equal tags: got %v, want accept", got)
	}
	f.ReceiverTags[7] = 43
	if got := Evaluate(table, f).Action; got != ActionResultDrop {
		t.Fatalf("unequal tags: got %v, want drop", got)
	}
}
