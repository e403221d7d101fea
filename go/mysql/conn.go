/*
Copyright 2024 The TiDB-Connector Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mysql

import (
	"bufio"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Icemap/tidb-connector-j/go/bucketpool"
	"github.com/Icemap/tidb-connector-j/go/log"
)

const (
	// connBufferSize is how much we buffer for reading and writing. It is
	// also how much we allocate for ephemeral buffers.
	connBufferSize = 16 * 1024

	// packetHeaderSize is the 3-byte length plus 1-byte sequence prefix of
	// every packet.
	packetHeaderSize = 4
)

// Constants for how ephemeral buffers were used for reading / writing.
const (
	// ephemeralUnused means the ephemeral buffer is not in use at this
	// moment.
	ephemeralUnused = iota

	// ephemeralWrite means we currently in process of writing from  currentEphemeralBuffer
	ephemeralWrite

	// ephemeralRead means we currently in process of reading into currentEphemeralBuffer
	ephemeralRead
)

// bufPool is used to allocate and free buffers in an efficient way.
var bufPool = bucketpool.New(connBufferSize, MaxPacketSize)

// writersPool is used for pooling bufio.Writer objects.
var writersPool = sync.Pool{New: func() any { return bufio.NewWriterSize(nil, connBufferSize) }}

// Conn is a connection between a client and a server, speaking the MySQL
// wire protocol. It also carries the whole per-session context: negotiated
// capabilities, status flags, server version, current schema and the packet
// sequence counter. The session context is replaced wholesale when the
// connection is re-established.
//
// A single mutex serializes every request/response exchange on the socket;
// the protocol is half-duplex with no multiplexing id, so exactly one
// logical command sequence may be in flight at a time.
type Conn struct {
	// conn is the underlying network connection.
	// Calling Close or Cancel on it from another goroutine is the only
	// supported way to interrupt a blocked exchange.
	conn net.Conn

	// stream is what the packet layer reads from and writes to. It is the
	// raw conn, or a compressed wrapper when compression was negotiated.
	stream io.ReadWriter

	// ConnectionID is the id assigned by the server in the initial
	// handshake. It is the target of KILL statements.
	ConnectionID uint32

	// ServerVersion is the raw version string sent by the server.
	ServerVersion string

	// serverVersion is the parsed form, including vendor detection.
	serverVersion ServerVersion

	// Capabilities is the intersection of what the server advertised and
	// what this client asked for.
	Capabilities uint32

	// serverCapabilities is the raw set the server advertised in its
	// greeting, before negotiation.
	serverCapabilities uint32

	// ExtendedCapabilities carries the MariaDB-lineage extension bits
	// (bulk execute, metadata caching) advertised by TiDB.
	ExtendedCapabilities uint32

	// CharacterSet is the negotiated connection collation id.
	CharacterSet uint8

	// StatusFlags is the state of the session as reported by the last OK or
	// EOF packet: autocommit, in-transaction, more-results.
	StatusFlags uint16

	// warnings is the warning count accumulated from the last exchange.
	warnings uint16

	// schemaName is the current default database.
	schemaName string

	// stateFlags marks which session properties were mutated since connect,
	// so ResetSession knows what to restore.
	stateFlags uint8

	// networkTimeout, when set by SetNetworkTimeout, overrides the
	// configured socket timeout until the next reset.
	networkTimeout    time.Duration
	networkTimeoutSet bool

	// params the connection was established with. Used for reset defaults
	// and reconnection.
	params *ConnParams

	// sequence is the packet sequence counter. It is reset at the start of
	// every logical exchange and checked/incremented on every packet.
	sequence uint8

	bufferedReader *bufio.Reader
	bufferedWriter *bufio.Writer

	// fields related to ephemeral packet reads/writes
	currentEphemeralPolicy int
	currentEphemeralBuffer *[]byte

	// exchange serializes request/response exchanges on the socket.
	// It is not reentrant: reset-inside-execute paths must not re-acquire.
	exchange sync.Mutex

	closed atomic.Bool

	// stmtCache is the per-connection prepared statement cache.
	stmtCache *stmtCache

	// scratch header buffer for packet reads and writes.
	header [packetHeaderSize]byte
}

// newConn creates a new Conn on top of an established network connection.
// The session context is filled in by the handshake.
func newConn(conn net.Conn) *Conn {
	c := &Conn{
		conn:   conn,
		stream: conn,
	}
	c.bufferedReader = bufio.NewReaderSize(c.stream, connBufferSize)
	return c
}

//
// Packet reading methods.
//

// readHeaderFrom reads the 4-byte packet header and checks the sequence.
func (c *Conn) readHeaderFrom(r io.Reader) (int, error) {
	if _, err := io.ReadFull(r, c.header[:]); err != nil {
		return 0, newConnError(err, "read packet header")
	}
	sequence := c.header[3]
	if sequence != c.sequence {
		return 0, newProtocolError("invalid sequence, expected %v got %v", c.sequence, sequence)
	}
	c.sequence++

	length, _, _ := readUint24(c.header[:], 0)
	return int(length), nil
}

// readEphemeralPacket attempts to read a packet into a pooled buffer. The
// packet is only valid until the next read or recycleReadPacket call.
// Continuation packets (payload of exactly MaxPacketSize) are transparently
// reassembled into one logical packet.
func (c *Conn) readEphemeralPacket() ([]byte, error) {
	if c.currentEphemeralPolicy != ephemeralUnused {
		panic(newProtocolError("readEphemeralPacket: unexpected currentEphemeralPolicy: %v", c.currentEphemeralPolicy))
	}
	c.currentEphemeralPolicy = ephemeralRead

	r := c.bufferedReader
	length, err := c.readHeaderFrom(r)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		// This can be caused by the packet terminating a payload which was
		// an exact multiple of MaxPacketSize.
		return nil, nil
	}

	c.currentEphemeralBuffer = bufPool.Get(length)
	if _, err := io.ReadFull(r, *c.currentEphemeralBuffer); err != nil {
		return nil, newConnError(err, "read packet body")
	}
	if length < MaxPacketSize {
		return *c.currentEphemeralBuffer, nil
	}

	// The packet is split. Read all the parts and absorb them into one
	// contiguous buffer.
	for {
		next, err := c.readHeaderFrom(r)
		if err != nil {
			return nil, err
		}
		if next == 0 {
			// The payload was an exact multiple of MaxPacketSize.
			break
		}

		more := make([]byte, next)
		if _, err := io.ReadFull(r, more); err != nil {
			return nil, newConnError(err, "read packet continuation body")
		}

		data := make([]byte, len(*c.currentEphemeralBuffer)+next)
		copy(data, *c.currentEphemeralBuffer)
		copy(data[len(*c.currentEphemeralBuffer):], more)
		bufPool.Put(c.currentEphemeralBuffer)
		c.currentEphemeralBuffer = &data

		if next < MaxPacketSize {
			break
		}
	}
	return *c.currentEphemeralBuffer, nil
}

// recycleReadPacket returns the memory acquired by readEphemeralPacket to
// the pool.
func (c *Conn) recycleReadPacket() {
	if c.currentEphemeralPolicy != ephemeralRead {
		panic(newProtocolError("recycleReadPacket: unexpected currentEphemeralPolicy: %v", c.currentEphemeralPolicy))
	}
	if c.currentEphemeralBuffer != nil {
		bufPool.Put(c.currentEphemeralBuffer)
		c.currentEphemeralBuffer = nil
	}
	c.currentEphemeralPolicy = ephemeralUnused
}

// ReadPacket reads one fully reassembled logical packet and returns a copy
// that survives the next read. Most callers inside the package use
// readEphemeralPacket instead to avoid the copy.
func (c *Conn) ReadPacket() ([]byte, error) {
	data, err := c.readEphemeralPacket()
	if err != nil {
		return nil, NewSQLErrorFromError(err)
	}
	result := make([]byte, len(data))
	copy(result, data)
	c.recycleReadPacket()
	return result, nil
}

//
// Packet writing methods.
//

// startWriterBuffering starts using buffered writes. This should be followed
// by a flush when the whole burst of packets (e.g. a pipeline) was written.
func (c *Conn) startWriterBuffering() {
	if c.bufferedWriter != nil {
		return
	}
	c.bufferedWriter = writersPool.Get().(*bufio.Writer)
	c.bufferedWriter.Reset(c.stream)
}

// flush flushes the buffered writer, if any, and returns it to the pool.
func (c *Conn) flush() error {
	if c.bufferedWriter == nil {
		return nil
	}
	defer func() {
		c.bufferedWriter.Reset(nil)
		writersPool.Put(c.bufferedWriter)
		c.bufferedWriter = nil
	}()
	if err := c.bufferedWriter.Flush(); err != nil {
		return newConnError(err, "flush")
	}
	if f, ok := c.stream.(interface{ Flush() error }); ok {
		// The compressed layer buffers a whole frame; it has to be
		// flushed too.
		if err := f.Flush(); err != nil {
			return newConnError(err, "flush compressed stream")
		}
	}
	return nil
}

// getWriter returns the current writer. It can be the original connection
// or a wrapped buffered writer.
func (c *Conn) getWriter() io.Writer {
	if c.bufferedWriter != nil {
		return c.bufferedWriter
	}
	return c.stream
}

// writePacket writes a packet, possibly splitting it into multiple framed
// packets with strictly incrementing sequence numbers. A zero-length
// terminal packet is emitted when the payload is an exact multiple of
// MaxPacketSize, so the peer can tell "more data" from "done".
func (c *Conn) writePacket(data []byte) error {
	w := c.getWriter()

	index := 0
	dataLength := len(data)
	for {
		packetLength := dataLength
		if packetLength > MaxPacketSize {
			packetLength = MaxPacketSize
		}

		writeUint24(c.header[:], 0, uint32(packetLength))
		c.header[3] = c.sequence
		if _, err := w.Write(c.header[:]); err != nil {
			return newConnError(err, "write packet header")
		}
		if _, err := w.Write(data[index : index+packetLength]); err != nil {
			return newConnError(err, "write packet body")
		}
		c.sequence++

		index += packetLength
		dataLength -= packetLength
		if dataLength == 0 {
			if packetLength == MaxPacketSize {
				// The payload ended on the packet boundary, send the
				// terminal empty packet.
				writeUint24(c.header[:], 0, 0)
				c.header[3] = c.sequence
				if _, err := w.Write(c.header[:]); err != nil {
					return newConnError(err, "write terminal packet")
				}
				c.sequence++
			}
			return nil
		}
	}
}

// startEphemeralPacket returns a buffer of the requested length to write an
// outgoing packet into. The buffer is valid until writeEphemeralPacket.
func (c *Conn) startEphemeralPacket(length int) []byte {
	if c.currentEphemeralPolicy != ephemeralUnused {
		panic(newProtocolError("startEphemeralPacket: unexpected currentEphemeralPolicy: %v", c.currentEphemeralPolicy))
	}

	c.currentEphemeralPolicy = ephemeralWrite
	c.currentEphemeralBuffer = bufPool.Get(length + packetHeaderSize)
	return (*c.currentEphemeralBuffer)[packetHeaderSize:]
}

// writeEphemeralPacket writes the packet filled in by the caller after
// startEphemeralPacket and recycles the buffer. Small packets go out with a
// single Write, the header written in place.
func (c *Conn) writeEphemeralPacket() error {
	defer c.recycleWritePacket()

	payload := (*c.currentEphemeralBuffer)[packetHeaderSize:]
	if len(payload) < MaxPacketSize {
		writeUint24(*c.currentEphemeralBuffer, 0, uint32(len(payload)))
		(*c.currentEphemeralBuffer)[3] = c.sequence
		c.sequence++
		if _, err := c.getWriter().Write(*c.currentEphemeralBuffer); err != nil {
			return newConnError(err, "write ephemeral packet")
		}
		return nil
	}
	return c.writePacket(payload)
}

func (c *Conn) recycleWritePacket() {
	if c.currentEphemeralPolicy != ephemeralWrite {
		panic(newProtocolError("recycleWritePacket: unexpected currentEphemeralPolicy: %v", c.currentEphemeralPolicy))
	}
	bufPool.Put(c.currentEphemeralBuffer)
	c.currentEphemeralBuffer = nil
	c.currentEphemeralPolicy = ephemeralUnused
}

// resetSequence starts a new logical exchange. Must be called with the
// exchange lock held, before the first packet of a command is written.
func (c *Conn) resetSequence() {
	c.sequence = 0
	if cs, ok := c.stream.(*compressedStream); ok {
		cs.resetSequence()
	}
}

// enableCompression switches the packet layer onto a compressed stream.
// Called once, right after the handshake negotiated the capability.
func (c *Conn) enableCompression(algo CompressionAlgorithm) error {
	cs, err := newCompressedStream(c.conn, algo)
	if err != nil {
		return err
	}
	c.stream = cs
	c.bufferedReader = bufio.NewReaderSize(c.stream, connBufferSize)
	return nil
}

//
// Deadline and lifecycle methods.
//

// startExchange acquires the exchange lock, arms the socket deadline and
// resets the sequence counter. The returned function releases the lock.
func (c *Conn) startExchange() (func(), error) {
	c.exchange.Lock()
	if c.IsClosed() {
		c.exchange.Unlock()
		return nil, NewSQLError(CRServerGone, SSNetError, "connection is closed")
	}
	if t := c.socketTimeout(); t > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(t)); err != nil {
			c.exchange.Unlock()
			return nil, newConnError(err, "set deadline")
		}
	}
	c.resetSequence()
	return c.exchange.Unlock, nil
}

// endOfExchange inspects the error of a finished exchange. A socket error or
// timeout mid-exchange leaves the protocol state untrustworthy, so the
// connection is force-closed.
func (c *Conn) endOfExchange(err error) {
	if err == nil {
		return
	}
	if IsConnErr(err) {
		if IsTimeout(err) {
			log.Warningf("socket timeout on %v, force-closing connection %v", c.RemoteAddr(), c.ConnectionID)
		}
		c.Close()
	}
}

// Cancel force-closes the underlying socket from another goroutine. The
// protocol has no graceful mid-query cancel; the blocked caller observes a
// connection error.
func (c *Conn) Cancel() {
	log.Infof("canceling query on connection %v", c.ConnectionID)
	c.Close()
}

// Close closes the connection, sending a best-effort COM_QUIT first when
// the connection is idle. It is safe to call multiple times and from any
// goroutine.
func (c *Conn) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	// Only an idle connection gets the courtesy quit; a close racing a
	// live exchange must not inject bytes mid-command.
	if c.exchange.TryLock() {
		if c.currentEphemeralPolicy == ephemeralUnused {
			c.conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
			c.resetSequence()
			if err := (quitMessage{}).writeTo(c); err == nil {
				c.flushStream()
			}
		}
		c.exchange.Unlock()
	}
	c.conn.Close()
}

// flushStream pushes out anything the write path buffered, including a
// pending compressed frame when writes bypassed the buffered writer.
func (c *Conn) flushStream() error {
	if c.bufferedWriter != nil {
		return c.flush()
	}
	if f, ok := c.stream.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return newConnError(err, "flush compressed stream")
		}
	}
	return nil
}

// IsClosed returns true if this connection was ever closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// RemoteAddr returns the underlying socket RemoteAddr().
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

//
// Session context accessors and mutators.
//

// InTransaction returns true when the last OK/EOF packet reported an open
// transaction.
func (c *Conn) InTransaction() bool {
	return c.StatusFlags&ServerStatusInTrans != 0
}

// IsAutocommit returns true when the session is in autocommit mode.
func (c *Conn) IsAutocommit() bool {
	return c.StatusFlags&ServerStatusAutocommit != 0
}

// MoreResults returns true if the server signaled more result sets follow.
func (c *Conn) MoreResults() bool {
	return c.StatusFlags&ServerMoreResultsExists != 0
}

// WarningCount returns the warning count of the last completed exchange.
func (c *Conn) WarningCount() uint16 {
	return c.warnings
}

// SchemaName returns the current default database.
func (c *Conn) SchemaName() string {
	return c.schemaName
}

// StateFlags returns the bitset of session properties mutated since connect
// or since the last reset.
func (c *Conn) StateFlags() uint8 {
	return c.stateFlags
}

func (c *Conn) socketTimeout() time.Duration {
	if c.networkTimeoutSet {
		return c.networkTimeout
	}
	if c.params == nil {
		return 0
	}
	return c.params.SocketTimeout
}

// SetNetworkTimeout overrides the configured socket timeout for the
// following exchanges and marks the session dirty, so ResetSession
// restores the configured value.
func (c *Conn) SetNetworkTimeout(d time.Duration) {
	c.networkTimeout = d
	c.networkTimeoutSet = true
	c.markDirty(StateNetworkTimeout)
}

func (c *Conn) markDirty(flag uint8) {
	c.stateFlags |= flag
}

// ServerVersionInfo returns the parsed server version.
func (c *Conn) ServerVersionInfo() ServerVersion {
	return c.serverVersion
}

// supportsBulk returns true when the server advertises
// COM_STMT_BULK_EXECUTE, either through the MariaDB capability bit or,
// for servers that do not expose it there, by version.
func (c *Conn) supportsBulk() bool {
	if c.ExtendedCapabilities&CapabilityMariaDBStmtBulkOperations != 0 {
		return true
	}
	return c.serverVersion.SupportsBulk()
}
