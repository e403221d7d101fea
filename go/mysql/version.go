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
	"strconv"
	"strings"
)

const (
	// mariaDBReplicationHackPrefix is the prefix MariaDB-lineage servers
	// put in front of their real version for old clients.
	mariaDBReplicationHackPrefix = "5.5.5-"

	// tidbVersionString is present in the version comment of TiDB servers,
	// e.g. "8.0.11-TiDB-v7.5.1".
	tidbVersionString = "TiDB"

	// mariaDBVersionString is present in MariaDB server versions.
	mariaDBVersionString = "MariaDB"
)

// Vendor distinguishes the server implementation behind the
// MySQL-compatible protocol.
type Vendor int

// Known vendors.
const (
	VendorMySQL Vendor = iota
	VendorTiDB
	VendorMariaDB
)

// ServerVersion is the parsed form of the version string sent in the
// initial handshake. Version gates (reset support, bulk support) key off
// it.
type ServerVersion struct {
	Major  int
	Minor  int
	Patch  int
	Vendor Vendor
}

// ParseServerVersion parses a raw version string, auto-detecting the
// vendor. The same logic as the ConnectorJ clients: recognize TiDB and
// MariaDB as much as we can, default to MySQL.
func ParseServerVersion(version string) ServerVersion {
	sv := ServerVersion{Vendor: VendorMySQL}

	switch {
	case strings.Contains(version, tidbVersionString):
		sv.Vendor = VendorTiDB
		// The interesting version is the TiDB one after the comment
		// marker, such as "8.0.11-TiDB-v7.5.1".
		if idx := strings.Index(version, "-TiDB-v"); idx >= 0 {
			version = version[idx+len("-TiDB-v"):]
		}
	case strings.Contains(version, mariaDBVersionString):
		sv.Vendor = VendorMariaDB
		version = strings.TrimPrefix(version, mariaDBReplicationHackPrefix)
	}

	parts := strings.SplitN(version, ".", 3)
	if len(parts) > 0 {
		sv.Major, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		sv.Minor, _ = strconv.Atoi(parts[1])
	}
	if len(parts) > 2 {
		sv.Patch, _ = strconv.Atoi(numericPrefix(parts[2]))
	}
	return sv
}

// atLeast returns true if the version is >= major.minor.patch.
func (sv ServerVersion) atLeast(major, minor, patch int) bool {
	if sv.Major != major {
		return sv.Major > major
	}
	if sv.Minor != minor {
		return sv.Minor > minor
	}
	return sv.Patch >= patch
}

// SupportsReset returns true when the server implements
// COM_RESET_CONNECTION.
func (sv ServerVersion) SupportsReset() bool {
	switch sv.Vendor {
	case VendorTiDB:
		// TiDB has implemented COM_RESET_CONNECTION since v4.
		return sv.atLeast(4, 0, 0)
	case VendorMariaDB:
		return sv.atLeast(10, 2, 4)
	default:
		return sv.atLeast(5, 7, 3)
	}
}

// SupportsBulk returns true when the server version is known to accept
// COM_STMT_BULK_EXECUTE, regardless of the advertised capability bit.
func (sv ServerVersion) SupportsBulk() bool {
	switch sv.Vendor {
	case VendorTiDB:
		return sv.atLeast(7, 0, 0)
	case VendorMariaDB:
		return sv.atLeast(10, 2, 7)
	default:
		return false
	}
}

// numericPrefix strips trailing non-digits, e.g. "31-log" -> "31".
func numericPrefix(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return s[:i]
		}
	}
	return s
}
