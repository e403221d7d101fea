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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseServerVersion(t *testing.T) {
	tests := []struct {
		version  string
		expected ServerVersion
	}{
		{"8.0.11-TiDB-v7.5.1", ServerVersion{Major: 7, Minor: 5, Patch: 1, Vendor: VendorTiDB}},
		{"8.0.11-TiDB-v4.0.0-beta.2", ServerVersion{Major: 4, Minor: 0, Patch: 0, Vendor: VendorTiDB}},
		{"5.5.5-10.6.12-MariaDB", ServerVersion{Major: 10, Minor: 6, Patch: 12, Vendor: VendorMariaDB}},
		{"10.2.7-MariaDB-log", ServerVersion{Major: 10, Minor: 2, Patch: 7, Vendor: VendorMariaDB}},
		{"8.0.31", ServerVersion{Major: 8, Minor: 0, Patch: 31, Vendor: VendorMySQL}},
		{"5.7.31-log", ServerVersion{Major: 5, Minor: 7, Patch: 31, Vendor: VendorMySQL}},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, ParseServerVersion(test.version), "version %q", test.version)
	}
}

func TestSupportsReset(t *testing.T) {
	assert.True(t, ParseServerVersion("8.0.11-TiDB-v7.5.1").SupportsReset())
	assert.True(t, ParseServerVersion("8.0.11-TiDB-v4.0.0").SupportsReset())
	assert.False(t, ParseServerVersion("8.0.11-TiDB-v3.0.20").SupportsReset())
	assert.True(t, ParseServerVersion("10.2.4-MariaDB").SupportsReset())
	assert.False(t, ParseServerVersion("10.2.3-MariaDB").SupportsReset())
	assert.True(t, ParseServerVersion("5.7.3").SupportsReset())
	assert.False(t, ParseServerVersion("5.7.2").SupportsReset())
}

func TestSupportsBulk(t *testing.T) {
	assert.True(t, ParseServerVersion("8.0.11-TiDB-v7.0.0").SupportsBulk())
	assert.False(t, ParseServerVersion("8.0.11-TiDB-v6.5.0").SupportsBulk())
	assert.True(t, ParseServerVersion("10.2.7-MariaDB").SupportsBulk())
	assert.False(t, ParseServerVersion("10.2.6-MariaDB").SupportsBulk())
	// MySQL proper never implements the bulk command.
	assert.False(t, ParseServerVersion("8.0.31").SupportsBulk())
}
