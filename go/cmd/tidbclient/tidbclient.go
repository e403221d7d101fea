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

// tidbclient is a small interactive SQL client built on the connector,
// mostly useful for poking at a server and for manual protocol testing.
package main

import (
	"github.com/Icemap/tidb-connector-j/go/cmd/tidbclient/command"
	"github.com/Icemap/tidb-connector-j/go/log"
)

func main() {
	defer log.Flush()
	if err := command.Root.Execute(); err != nil {
		log.Exitf("%v", err)
	}
}
