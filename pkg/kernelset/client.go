package kernelset

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"
)

// transport is the minimal socket surface Client needs; satisfied by
// *unixSocket on Linux and swappable with a fake for tests.
type transport interface {
	PortID() uint32
	Send([]byte) (int, error)
	Recv([]byte) (int, error)
	Close() error
}

// Client installs timed bans into a pair of nftables sets (one per IP
// family) within a single table, over the netfilter netlink bus. It
// owns a single socket, a reusable batch buffer and a reusable receive
// buffer — all allocated once, at Open, and reused by every Submit.
type Client struct {
	table   string
	ipv4Set string
	ipv6Set string

	dryRun bool
	tr     transport

	batch   *Batch
	recvBuf []byte
}

// Open binds a netfilter netlink socket and prepares a Client. When
// dryRun is set, no socket is opened at all — Submit still builds the
// batch (so its shape can be inspected/benchmarked) but never writes it.
func Open(table, ipv4Set, ipv6Set string, dryRun bool) (*Client, error) {
	c := &Client{table: table, ipv4Set: ipv4Set, ipv6Set: ipv6Set, dryRun: dryRun}

	if dryRun {
		c.batch = NewBatch(0)
		return c, nil
	}

	tr, err := openSocket()
	if err != nil {
		return nil, err
	}
	c.tr = tr
	c.batch = NewBatch(tr.PortID())
	c.recvBuf = make([]byte, recvBufferSize())
	return c, nil
}

// Close releases the underlying socket, if any.
func (c *Client) Close() error {
	if c.tr == nil {
		return nil
	}
	return c.tr.Close()
}

// LastBatch returns the bytes of the most recently built batch, for
// tests and dry-run inspection.
func (c *Client) LastBatch() []byte {
	return c.batch.Bytes()
}

// Submit adds ip to the appropriate (v4/v6) timed set with the given
// timeout, as a 5-message batch: BATCH_BEGIN, NEW (create-if-absent),
// DEL (clear any stale timeout), NEW+ACK (install with the fresh
// timeout), BATCH_END.
func (c *Client) Submit(ip netip.Addr, timeout time.Duration) error {
	ip = ip.Unmap()

	set := c.ipv4Set
	if ip.Is6() {
		set = c.ipv6Set
	}
	elem := NewElement(c.table, set, ip, timeout)

	c.batch.Reset()
	c.batch.Begin()
	c.batch.NewSetElem(0, elem)
	c.batch.DelSetElem(0, elem)
	ackSeq := c.batch.NewSetElem(nlmFAck, elem)
	c.batch.End()

	if c.dryRun {
		return nil
	}

	frame := c.batch.Bytes()
	n, err := c.tr.Send(frame)
	if err != nil {
		return fmt.Errorf("kernelset: send batch: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("kernelset: short write: sent %d of %d bytes", n, len(frame))
	}

	return c.awaitAck(ackSeq)
}

// awaitAck reads netlink datagrams until it sees the ACK (or error) for
// seq, or a read fails. There is no internal timeout here by design:
// kernel I/O is unbounded, so a stalled kernel stalls the whole pipeline
// rather than being silently abandoned.
func (c *Client) awaitAck(seq uint32) error {
	portID := c.tr.PortID()

	for {
		n, err := c.tr.Recv(c.recvBuf)
		if err != nil {
			return fmt.Errorf("kernelset: recv: %w", err)
		}

		done, err := processDatagram(c.recvBuf[:n], seq, portID)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// processDatagram walks the (possibly multiple) netlink messages in buf,
// looking for an ACK/error/done message addressed to seq. Messages for a
// different port id are ignored rather than rejected, since a netlink
// socket can observe multicast traffic not meant for this client.
func processDatagram(buf []byte, expectedSeq, portID uint32) (done bool, err error) {
	for len(buf) >= 16 {
		msgLen := binary.LittleEndian.Uint32(buf[0:4])
		msgType := binary.LittleEndian.Uint16(buf[4:6])
		msgSeq := binary.LittleEndian.Uint32(buf[8:12])
		msgPortID := binary.LittleEndian.Uint32(buf[12:16])

		if msgLen < 16 || int(msgLen) > len(buf) {
			return false, fmt.Errorf("kernelset: malformed netlink message (len=%d, remaining=%d)", msgLen, len(buf))
		}

		if msgPortID == portID {
			payload := buf[16:msgLen]

			switch msgType {
			case nlmsgErrorType:
				if len(payload) < 4 {
					return false, fmt.Errorf("kernelset: truncated NLMSG_ERROR payload")
				}
				errno := int32(binary.LittleEndian.Uint32(payload[0:4]))
				if errno != 0 {
					return false, fmt.Errorf("kernelset: kernel rejected ban (seq %d): errno %d", msgSeq, -errno)
				}
				if msgSeq == expectedSeq {
					return true, nil
				}
			case nlmsgDoneType:
				if msgSeq == expectedSeq {
					return true, nil
				}
			}
		}

		buf = buf[align4(int(msgLen)):]
	}
	return false, nil
}
