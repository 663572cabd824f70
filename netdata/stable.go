package netdata

// stableCopy builds the stable view of the given Network Data:
// unstable top-level TLVs are removed, unstable sub-TLVs are stripped
// out of Prefix and Service TLVs, and containers left without
// sub-TLVs are removed entirely.
func stableCopy(bytes []byte) []byte {
	out := make([]byte, 0, len(bytes))

	for off := 0; ; {
		t, next, ok := readTlv(bytes, off)
		if !ok {
			break
		}
		raw := bytes[off:next]

		if !t.stable {
			off = next
			continue
		}

		switch t.typ {
		case typePrefix:
			if p, pok := parsePrefixTlv(t); pok {
				out = appendStableContainer(out, raw, 2+p.subOffset)
			} else {
				out = append(out, raw...)
			}
		case typeService:
			if s, sok := parseServiceTlv(t); sok {
				out = appendStableContainer(out, raw, 2+s.subOffset)
			} else {
				out = append(out, raw...)
			}
		default:
			out = append(out, raw...)
		}

		off = next
	}

	return out
}

// appendStableContainer appends a container TLV keeping only its
// stable sub-TLVs. raw is the full TLV including the 2-byte header;
// subStart is the offset of the sub-TLV region within raw. Containers
// with no stable sub-TLVs are dropped.
func appendStableContainer(out, raw []byte, subStart int) []byte {
	kept := make([]byte, 0, len(raw)-subStart)

	value := raw[2:]
	for so := subStart - 2; ; {
		st, snext, ok := readTlv(value, so)
		if !ok {
			break
		}
		if st.stable {
			kept = append(kept, value[so:snext]...)
		}
		so = snext
	}

	if len(kept) == 0 {
		return out
	}

	out = append(out, raw[0], byte(subStart-2+len(kept)))
	out = append(out, raw[2:subStart]...)
	out = append(out, kept...)
	return out
}
