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

package command

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Icemap/tidb-connector-j/go/log"
	"github.com/Icemap/tidb-connector-j/go/mysql"
)

var (
	host       string
	port       int
	unixSocket string
	user       string
	password   string
	database   string
	charset    string

	connectTimeout time.Duration
	socketTimeout  time.Duration

	compression   string
	useBulkStmts  bool
	stmtCacheSize int
	autoRetry     bool

	configFile string

	Root = &cobra.Command{
		Use:   "tidbclient",
		Short: "tidbclient is a command-line SQL client for MySQL-compatible servers.",
		Long: "`tidbclient` connects to a MySQL, MariaDB or TiDB server and runs queries.\n\n" +
			"Connection settings come from flags, or from a config file named with --config.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Flush()
		},
	}
)

func init() {
	Root.PersistentFlags().StringVar(&host, "host", "127.0.0.1", "server host")
	Root.PersistentFlags().IntVar(&port, "port", 4000, "server port")
	Root.PersistentFlags().StringVar(&unixSocket, "socket", "", "unix socket path, overrides host/port")
	Root.PersistentFlags().StringVarP(&user, "user", "u", "root", "user name")
	Root.PersistentFlags().StringVarP(&password, "password", "p", "", "password")
	Root.PersistentFlags().StringVarP(&database, "database", "D", "", "default database")
	Root.PersistentFlags().StringVar(&charset, "charset", "", "connection character set")

	Root.PersistentFlags().DurationVar(&connectTimeout, "connect-timeout", 10*time.Second, "dial and handshake timeout")
	Root.PersistentFlags().DurationVar(&socketTimeout, "socket-timeout", 0, "per-read/write socket timeout, 0 disables")

	Root.PersistentFlags().StringVar(&compression, "compression", "none", "packet compression: none, zlib or zstd")
	Root.PersistentFlags().BoolVar(&useBulkStmts, "use-bulk-stmts", false, "use COM_STMT_BULK_EXECUTE for batches when the server supports it")
	Root.PersistentFlags().IntVar(&stmtCacheSize, "stmt-cache-size", 16, "prepared statement cache size per connection, 0 disables")
	Root.PersistentFlags().BoolVar(&autoRetry, "auto-retry", false, "replay idempotent commands on a fresh connection after a connection error")

	Root.PersistentFlags().StringVar(&configFile, "config", "", "config file with connection settings")
	Root.MarkPersistentFlagFilename("config")

	log.RegisterFlags(Root.PersistentFlags())

	Root.AddCommand(Query())
	Root.AddCommand(Shell())
	Root.AddCommand(Ping())
}

// loadConfig overlays values from the config file onto flags the user
// did not set explicitly.
func loadConfig(cmd *cobra.Command) error {
	if configFile == "" {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config %v: %w", configFile, err)
	}
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed || !v.IsSet(f.Name) {
			return
		}
		if serr := f.Value.Set(v.GetString(f.Name)); serr != nil {
			err = fmt.Errorf("config value for %v: %w", f.Name, serr)
		}
	})
	return err
}

func connParams() (*mysql.ConnParams, error) {
	params := &mysql.ConnParams{
		Host:              host,
		Port:              port,
		UnixSocket:        unixSocket,
		Uname:             user,
		Pass:              password,
		DbName:            database,
		Charset:           charset,
		ConnectTimeout:    connectTimeout,
		SocketTimeout:     socketTimeout,
		UseBulkStmts:      useBulkStmts,
		PrepStmtCacheSize: stmtCacheSize,
		AutoRetry:         autoRetry,
	}
	switch compression {
	case "", "none":
	case "zlib":
		params.Compression = mysql.CompressionZlib
	case "zstd":
		params.Compression = mysql.CompressionZstd
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", compression)
	}
	return params, nil
}

func connect(ctx context.Context) (*mysql.Conn, error) {
	params, err := connParams()
	if err != nil {
		return nil, err
	}
	return mysql.Connect(ctx, params)
}
