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
	"crypto/sha1"
)

// authResponse computes the authentication payload for the given plugin.
func authResponse(pluginName, password string, salt []byte) ([]byte, error) {
	switch pluginName {
	case MysqlNativePassword:
		return scrambleNativePassword(salt, password), nil
	case MysqlClearPassword:
		// Null terminated; only sane over TLS or a unix socket.
		return append([]byte(password), 0), nil
	default:
		return nil, NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "server requested unsupported auth plugin %q", pluginName)
	}
}

// scrambleNativePassword computes the native password hash:
// SHA1(password) XOR SHA1(salt + SHA1(SHA1(password))).
func scrambleNativePassword(salt []byte, password string) []byte {
	if password == "" {
		return nil
	}

	hash := sha1.New()
	hash.Write([]byte(password))
	stage1 := hash.Sum(nil)

	hash.Reset()
	hash.Write(stage1)
	stage2 := hash.Sum(nil)

	hash.Reset()
	hash.Write(salt)
	hash.Write(stage2)
	scramble := hash.Sum(nil)

	for i := range scramble {
		scramble[i] ^= stage1[i]
	}
	return scramble
}
