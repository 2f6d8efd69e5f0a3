// Package kernelset constructs and exchanges the binary netlink/nftables
// messages needed to add a single timed element to a kernel-resident
// nftables set ("ban IP A in set S with timeout T") over the netfilter
// netlink bus.
//
// There is no maintained Go library that exposes per-element timeouts on
// nftables sets (the ecosystem's nftables bindings model the
// ruleset-as-a-whole, not single-element TLVs with a timeout field), so
// this package hand-marshals the wire format directly instead of going
// through a higher-level abstraction that can't express the field it
// needs.
package kernelset

import (
	"encoding/binary"
)

// Netlink header constants (linux/netlink.h).
const (
	nlmsgAlignTo = 4

	nlmFRequest = 0x01
	nlmFAck     = 0x04
	nlmFCreate  = 0x400

	nlmsgErrorType = 0x2 // NLMSG_ERROR
	nlmsgDoneType  = 0x3 // NLMSG_DONE
)

// Netfilter netlink subsystem constants (linux/netfilter/nfnetlink.h).
const (
	nfnlSubsysNFTables = 10

	nfnlMsgBatchBegin = 0x10 // NLMSG_MIN_TYPE
	nfnlMsgBatchEnd   = 0x11
)

// nftables message types (linux/netfilter/nf_tables.h, enum
// nf_tables_msg_types). Only the set-element operations floodwatch needs
// are named here.
const (
	nftMsgNewSetElem = 12
	nftMsgDelSetElem = 14
)

// nfgenmsg.family values (linux/netfilter.h).
const (
	nfprotoUnspec = 0
	nfprotoInet   = 1
)

// nftables set-element attribute types (nf_tables.h).
const (
	nftaSetElemListTable    = 1
	nftaSetElemListSet      = 2
	nftaSetElemListElements = 3

	nftaListElem = 1

	nftaSetElemKey     = 1
	nftaSetElemTimeout = 4

	nftaDataValue = 1
)

const nlaFNested = 0x8000

// nfnlMsgType builds the nlmsg_type the kernel actually dispatches on for
// a netfilter-netlink subsystem message: the subsystem id in the high
// byte, the subsystem-local message type in the low byte
// (NFNL_SUBSYS_ID(x) = (x & 0xff00) >> 8). Batch framing messages
// (NFNL_MSG_BATCH_BEGIN/END) are not subsystem messages and are sent
// unshifted instead.
func nfnlMsgType(subsys, msgType uint8) uint16 {
	return uint16(subsys)<<8 | uint16(msgType)
}

// align4 rounds n up to the next multiple of 4, per NLA_ALIGNTO.
func align4(n int) int {
	return (n + nlmsgAlignTo - 1) &^ (nlmsgAlignTo - 1)
}

// putNlmsghdr appends a 16-byte netlink message header. The length field
// is a placeholder (patched by patchNlmsgLen once the payload is known).
func putNlmsghdr(buf []byte, msgType uint16, flags uint16, seq, portID uint32) []byte {
	var hdr [16]byte
	binary.LittleEndian.PutUint32(hdr[0:4], 0) // length, patched later
	binary.LittleEndian.PutUint16(hdr[4:6], msgType)
	binary.LittleEndian.PutUint16(hdr[6:8], flags)
	binary.LittleEndian.PutUint32(hdr[8:12], seq)
	binary.LittleEndian.PutUint32(hdr[12:16], portID)
	return append(buf, hdr[:]...)
}

// patchNlmsgLen writes the total message length (from start to the
// current end of buf) into the length field of the header at start.
func patchNlmsgLen(buf []byte, start int) {
	binary.LittleEndian.PutUint32(buf[start:start+4], uint32(len(buf)-start))
}

// putNfgenmsg appends the 4-byte nfgenmsg that follows every netfilter
// netlink header: family, version, and a big-endian "res_id" that for
// nftables batch framing carries the target subsystem.
func putNfgenmsg(buf []byte, family uint8, resID uint16) []byte {
	var g [4]byte
	g[0] = family
	g[1] = 0 // NFNETLINK_V0
	binary.BigEndian.PutUint16(g[2:4], resID)
	return append(buf, g[:]...)
}

// putAttr appends a single TLV attribute: 2-byte length, 2-byte type,
// payload, padded to a 4-byte boundary.
func putAttr(buf []byte, attrType uint16, data []byte) []byte {
	totalLen := 4 + len(data)
	var hdr [4]byte
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(totalLen))
	binary.LittleEndian.PutUint16(hdr[2:4], attrType)
	buf = append(buf, hdr[:]...)
	buf = append(buf, data...)
	if pad := align4(totalLen) - totalLen; pad > 0 {
		buf = append(buf, make([]byte, pad)...)
	}
	return buf
}

// putNestedAttrStart appends a placeholder nested-attribute header and
// returns its offset for patchNestedAttrLen.
func putNestedAttrStart(buf []byte, attrType uint16) (out []byte, start int) {
	start = len(buf)
	var hdr [4]byte
	binary.LittleEndian.PutUint16(hdr[2:4], attrType|nlaFNested)
	return append(buf, hdr[:]...), start
}

func patchNestedAttrLen(buf []byte, start int) {
	binary.LittleEndian.PutUint16(buf[start:start+2], uint16(len(buf)-start))
}

// putStringAttr appends a null-terminated NLA_STRING attribute, as used
// for nftables table/set names.
func putStringAttr(buf []byte, attrType uint16, s string) []byte {
	data := make([]byte, len(s)+1)
	copy(data, s)
	return putAttr(buf, attrType, data)
}

func putU64Attr(buf []byte, attrType uint16, v uint64) []byte {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], v)
	return putAttr(buf, attrType, data[:])
}
