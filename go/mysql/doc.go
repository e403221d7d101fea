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

// Package mysql implements the client side of the MySQL/TiDB wire protocol:
// packet framing, the command/response state machine, text and binary value
// codecs, prepared statements with a reference-counted client-side cache,
// batch and pipelined execution, and session reset.
//
// One Conn owns one TCP (or TLS) session. The protocol is strictly
// half-duplex: a single mutex on the Conn serializes every request/response
// exchange, and callers on other goroutines block until it is released. The
// only concurrent operation allowed is Cancel, which force-closes the socket.
//
// The package does not implement connection pooling or host failover; those
// layers consume Connect, ResetSession and Close and are built elsewhere.
package mysql
