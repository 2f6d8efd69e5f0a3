package kernelset

// Batch frames a sequence of netlink messages between a BATCH_BEGIN and
// BATCH_END pair, sharing one wrapping sequence counter. It owns its
// backing buffer and is reset (not reallocated) between bans.
type Batch struct {
	buf    []byte
	seq    uint32
	portID uint32
}

// NewBatch allocates a batch with capacity for a single ban's worth of
// messages. portID is the socket's bound port id, echoed back by the
// kernel in every response so it can be matched to this client.
func NewBatch(portID uint32) *Batch {
	return &Batch{
		buf:    make([]byte, 0, 1024),
		portID: portID,
	}
}

// Reset clears the buffer (retaining its capacity) without touching the
// sequence counter, which keeps incrementing across bans — only
// per-batch framing resets.
func (b *Batch) Reset() {
	b.buf = b.buf[:0]
}

// Seq reports the sequence number of the most recently appended message.
func (b *Batch) Seq() uint32 {
	return b.seq
}

// Bytes returns the framed batch ready to send.
func (b *Batch) Bytes() []byte {
	return b.buf
}

func (b *Batch) nextSeq() uint32 {
	b.seq++
	return b.seq
}

// Begin appends a BATCH_BEGIN message opening a transactional batch for
// the nftables subsystem.
func (b *Batch) Begin() {
	start := len(b.buf)
	b.buf = putNlmsghdr(b.buf, nfnlMsgBatchBegin, nlmFRequest, b.nextSeq(), b.portID)
	b.buf = putNfgenmsg(b.buf, nfprotoUnspec, nfnlSubsysNFTables)
	patchNlmsgLen(b.buf, start)
}

// End appends the matching BATCH_END message.
func (b *Batch) End() {
	start := len(b.buf)
	b.buf = putNlmsghdr(b.buf, nfnlMsgBatchEnd, nlmFRequest, b.nextSeq(), b.portID)
	b.buf = putNfgenmsg(b.buf, nfprotoUnspec, nfnlSubsysNFTables)
	patchNlmsgLen(b.buf, start)
}

// setElem appends a single NEW_SET_ELEM or DEL_SET_ELEM message carrying
// elem, with the given extra flags on top of the always-present
// CREATE|REQUEST pair, returning the sequence number assigned to it.
func (b *Batch) setElem(msgType uint8, flags uint16, elem Element) uint32 {
	start := len(b.buf)
	seq := b.nextSeq()
	b.buf = putNlmsghdr(b.buf, nfnlMsgType(nfnlSubsysNFTables, msgType), nlmFRequest|nlmFCreate|flags, seq, b.portID)
	b.buf = putNfgenmsg(b.buf, nfprotoInet, 0)

	b.buf = putStringAttr(b.buf, nftaSetElemListTable, elem.Table)
	b.buf = putStringAttr(b.buf, nftaSetElemListSet, elem.Set)

	var elementsStart, listElemStart, keyStart int
	b.buf, elementsStart = putNestedAttrStart(b.buf, nftaSetElemListElements)
	b.buf, listElemStart = putNestedAttrStart(b.buf, nftaListElem)
	b.buf, keyStart = putNestedAttrStart(b.buf, nftaSetElemKey)
	b.buf = putAttr(b.buf, nftaDataValue, elem.Key)
	patchNestedAttrLen(b.buf, keyStart)
	b.buf = putU64Attr(b.buf, nftaSetElemTimeout, elem.TimeoutMillis)
	patchNestedAttrLen(b.buf, listElemStart)
	patchNestedAttrLen(b.buf, elementsStart)

	patchNlmsgLen(b.buf, start)
	return seq
}

// NewSetElem appends a NEW_SET_ELEM message with CREATE|REQUEST plus any
// additional flags (e.g. ack on the final message of a ban).
func (b *Batch) NewSetElem(flags uint16, elem Element) uint32 {
	return b.setElem(nftMsgNewSetElem, flags, elem)
}

// DelSetElem appends a DEL_SET_ELEM message with CREATE|REQUEST plus any
// additional flags.
func (b *Batch) DelSetElem(flags uint16, elem Element) uint32 {
	return b.setElem(nftMsgDelSetElem, flags, elem)
}
