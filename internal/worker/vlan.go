package worker

// etherTypeVLAN is 802.1Q, the only tag this daemon knows how to strip.
const etherTypeVLAN = 0x8100

// vlanTagLen is the size in bytes of an 802.1Q tag (2-byte TPID plus
// 2-byte TCI) spliced in after the two MAC addresses.
const vlanTagLen = 4

// stripVLANTag removes a single 802.1Q tag from an Ethernet frame, if
// present, returning payload unchanged otherwise. This is the optional
// transform from spec.md §4.1; it is deliberately a raw byte splice
// rather than a full decode, since the whole point of making it
// flag-gated is that even this is non-trivial cost per packet on the
// hot path.
func stripVLANTag(payload []byte) []byte {
	const ethHeaderLen = 14
	if len(payload) < ethHeaderLen {
		return payload
	}
	etherType := uint16(payload[12])<<8 | uint16(payload[13])
	if etherType != etherTypeVLAN {
		return payload
	}
	if len(payload) < ethHeaderLen+vlanTagLen {
		return payload
	}

	out := make([]byte, 0, len(payload)-vlanTagLen)
	out = append(out, payload[:12]...)
	out = append(out, payload[12+vlanTagLen:]...)
	return out
}
