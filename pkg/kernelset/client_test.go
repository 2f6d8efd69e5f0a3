package kernelset

import (
	"encoding/binary"
	"net/netip"
	"testing"
	"time"
)

// fakeTransport records what was sent and replies with a canned ACK (or
// error) for the final message's sequence number.
type fakeTransport struct {
	portID   uint32
	sent     []byte
	errno    int32 // 0 = success ack
	replied  bool
	ackSeq   uint32
}

func (f *fakeTransport) PortID() uint32 { return f.portID }

func (f *fakeTransport) Send(b []byte) (int, error) {
	f.sent = append([]byte(nil), b...)
	// The final message before BATCH_END is the one carrying NLM_F_ACK;
	// its sequence number is always one less than BATCH_END's, which is
	// itself the last message's seq (batch layout: begin, new, del,
	// new+ack, end).
	f.ackSeq = readSeq(b, 4) // 4th message (index 3, 0-based) = new+ack
	return len(b), nil
}

func (f *fakeTransport) Recv(buf []byte) (int, error) {
	if f.replied {
		return 0, nil
	}
	f.replied = true

	var msg [20]byte
	binary.LittleEndian.PutUint32(msg[0:4], 20)
	binary.LittleEndian.PutUint16(msg[4:6], nlmsgErrorType)
	binary.LittleEndian.PutUint32(msg[8:12], f.ackSeq)
	binary.LittleEndian.PutUint32(msg[12:16], f.portID)
	binary.LittleEndian.PutUint32(msg[16:20], uint32(int32(f.errno)))

	n := copy(buf, msg[:])
	return n, nil
}

func (f *fakeTransport) Close() error { return nil }

// readSeq returns the sequence number of the nth (1-indexed) netlink
// message in buf.
func readSeq(buf []byte, n int) uint32 {
	for i := 1; len(buf) >= 16; i++ {
		msgLen := binary.LittleEndian.Uint32(buf[0:4])
		seq := binary.LittleEndian.Uint32(buf[8:12])
		if i == n {
			return seq
		}
		buf = buf[align4(int(msgLen)):]
	}
	return 0
}

func newTestClient(t *testing.T, ft *fakeTransport) *Client {
	t.Helper()
	c := &Client{
		table:   "floodwatch",
		ipv4Set: "banned4",
		ipv6Set: "banned6",
		tr:      ft,
		batch:   NewBatch(ft.portID),
		recvBuf: make([]byte, 4096),
	}
	return c
}

func TestSubmitBatchFraming(t *testing.T) {
	ft := &fakeTransport{portID: 7}
	c := newTestClient(t, ft)

	ip := netip.MustParseAddr("1.2.3.4")
	if err := c.Submit(ip, 30*time.Second); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	buf := ft.sent
	count := 0
	var firstType, lastType uint16
	var seqs []uint32
	for len(buf) >= 16 {
		msgLen := binary.LittleEndian.Uint32(buf[0:4])
		msgType := binary.LittleEndian.Uint16(buf[4:6])
		seq := binary.LittleEndian.Uint32(buf[8:12])
		if count == 0 {
			firstType = msgType
		}
		lastType = msgType
		seqs = append(seqs, seq)
		count++
		buf = buf[align4(int(msgLen)):]
	}

	if count != 5 {
		t.Fatalf("expected 5 framed messages, got %d", count)
	}
	if firstType != nfnlMsgBatchBegin {
		t.Fatalf("first message type = %d, want BATCH_BEGIN", firstType)
	}
	if lastType != nfnlMsgBatchEnd {
		t.Fatalf("last message type = %d, want BATCH_END", lastType)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			t.Fatalf("sequence numbers not strictly monotonic: %v", seqs)
		}
	}
}

func TestSubmitTimeoutMilliseconds(t *testing.T) {
	ft := &fakeTransport{portID: 1}
	c := newTestClient(t, ft)

	if err := c.Submit(netip.MustParseAddr("10.0.0.1"), 2*time.Second); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Find the NEW_SET_ELEM message carrying NLM_F_ACK and check its
	// embedded timeout attribute is 2000 (milliseconds), not 2 (seconds).
	buf := ft.sent
	foundTimeout := false
	for len(buf) >= 16 {
		msgLen := binary.LittleEndian.Uint32(buf[0:4])
		msgType := binary.LittleEndian.Uint16(buf[4:6])
		flags := binary.LittleEndian.Uint16(buf[6:8])
		if msgType == nfnlMsgType(nfnlSubsysNFTables, nftMsgNewSetElem) && flags&nlmFAck != 0 {
			if !containsU64BE(buf[16:msgLen], 2000) {
				t.Fatalf("expected a 2000ms timeout attribute in the ACKed NEW_SET_ELEM message")
			}
			foundTimeout = true
		}
		buf = buf[align4(int(msgLen)):]
	}
	if !foundTimeout {
		t.Fatal("never found the ACKed NEW_SET_ELEM message")
	}
}

func containsU64BE(payload []byte, want uint64) bool {
	for i := 0; i+8 <= len(payload); i++ {
		if binary.BigEndian.Uint64(payload[i:i+8]) == want {
			return true
		}
	}
	return false
}

func TestSubmitFatalOnKernelError(t *testing.T) {
	ft := &fakeTransport{portID: 3, errno: -13} // EACCES
	c := newTestClient(t, ft)

	err := c.Submit(netip.MustParseAddr("10.0.0.2"), time.Second)
	if err == nil {
		t.Fatal("expected an error from a non-zero kernel ACK")
	}
}

func TestSubmitIPv6KeyLength(t *testing.T) {
	ft := &fakeTransport{portID: 9}
	c := newTestClient(t, ft)

	ip := netip.MustParseAddr("2001:db8::1")
	if err := c.Submit(ip, time.Second); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if !contains16ByteKey(ft.sent, ip.AsSlice()) {
		t.Fatal("expected the batch to carry a 16-byte IPv6 key")
	}
}

func contains16ByteKey(buf []byte, key []byte) bool {
	for i := 0; i+len(key) <= len(buf); i++ {
		match := true
		for j := range key {
			if buf[i+j] != key[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestDryRunBuildsWithoutTransmitting(t *testing.T) {
	c, err := Open("floodwatch", "banned4", "banned6", true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := c.Submit(netip.MustParseAddr("192.0.2.1"), time.Minute); err != nil {
		t.Fatalf("Submit in dry-run: %v", err)
	}

	if len(c.LastBatch()) == 0 {
		t.Fatal("expected dry-run to still build a batch")
	}
}
