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
	"io"

	"github.com/Icemap/tidb-connector-j/go/log"
)

// InfileProvider opens the data stream for a server LOCAL INFILE
// request. The filename is the one the server asked for, verbatim; a
// provider backed by the local filesystem should treat it as untrusted
// input.
type InfileProvider interface {
	Open(filename string) (io.ReadCloser, error)
}

// infileChunkSize is the payload size of the data packets streamed in
// answer to a LOCAL INFILE request.
const infileChunkSize = 1 << 16

// sendLocalInfile answers a server 0xfb request: the provider's bytes
// as a packet stream, terminated by an empty packet. When local infile
// is disabled, denied by policy, or the provider fails, only the empty
// packet goes out; the server then reports its own error, which the
// caller reads as the command completion.
func (c *Conn) sendLocalInfile(filename string) error {
	r := c.openInfile(filename)
	if r != nil {
		defer r.Close()
		chunk := make([]byte, infileChunkSize)
		for {
			n, err := r.Read(chunk)
			if n > 0 {
				if werr := c.writePacket(chunk[:n]); werr != nil {
					return werr
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				log.Warningf("local infile %q read failed midway: %v", filename, err)
				break
			}
		}
	}
	if err := c.writePacket(nil); err != nil {
		return err
	}
	return c.flushStream()
}

// openInfile resolves the policy gates and returns nil when no data
// should be sent.
func (c *Conn) openInfile(filename string) io.ReadCloser {
	if c.params == nil || !c.params.AllowLocalInfile || c.params.InfileProvider == nil {
		log.Warningf("server requested LOCAL INFILE %q but local infile is disabled", filename)
		return nil
	}
	if c.params.InfilePolicy != nil && !c.params.InfilePolicy(filename) {
		log.Warningf("LOCAL INFILE %q denied by policy", filename)
		return nil
	}
	r, err := c.params.InfileProvider.Open(filename)
	if err != nil {
		log.Warningf("LOCAL INFILE %q provider failed: %v", filename, err)
		return nil
	}
	return r
}
