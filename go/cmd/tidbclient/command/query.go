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
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Icemap/tidb-connector-j/go/mysql"
)

var maxRows = 10000

// Query returns the one-shot query command.
func Query() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <sql> [<sql> ...]",
		Short: "Run one or more SQL statements and print the results.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			conn, err := connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			for _, sql := range args {
				if err := runQuery(conn, sql); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxRows, "max-rows", 10000, "refuse result sets larger than this, -1 for unlimited")
	return cmd
}

// Shell returns the interactive command: statements read line by line
// from stdin, terminated by semicolons.
func Shell() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run an interactive SQL session.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			conn, err := connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			fmt.Printf("connected to %v (%v)\n", conn.RemoteAddr(), conn.ServerVersion)
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
			var pending strings.Builder
			fmt.Print("> ")
			for scanner.Scan() {
				pending.WriteString(scanner.Text())
				line := strings.TrimSpace(pending.String())
				if line == "exit" || line == "quit" {
					break
				}
				if !strings.HasSuffix(line, ";") {
					pending.WriteString("\n")
					fmt.Print("    -> ")
					continue
				}
				pending.Reset()
				if err := runQuery(conn, strings.TrimSuffix(line, ";")); err != nil {
					if mysql.IsConnErr(err) {
						return err
					}
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
				}
				fmt.Print("> ")
			}
			return scanner.Err()
		},
	}
}

// Ping returns the connectivity check command.
func Ping() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connect and check the server responds.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			conn, err := connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			start := time.Now()
			if err := conn.Ping(ctx); err != nil {
				return err
			}
			fmt.Printf("%v is alive (%v, %v)\n", conn.RemoteAddr(), conn.ServerVersion, time.Since(start).Round(time.Microsecond))
			return nil
		},
	}
}

func runQuery(conn *mysql.Conn, sql string) error {
	start := time.Now()
	result, err := conn.ExecuteFetch(sql, maxRows, true)
	if err != nil {
		return err
	}
	elapsed := time.Since(start).Round(time.Millisecond)

	if len(result.Fields) == 0 {
		fmt.Printf("OK, %v rows affected (%v)\n", result.RowsAffected, elapsed)
		if result.InsertID != 0 {
			fmt.Printf("last insert id: %v\n", result.InsertID)
		}
		return nil
	}

	printResult(result)
	fmt.Printf("%v rows in set (%v)\n", len(result.Rows), elapsed)
	return nil
}

func printResult(result *mysql.Result) {
	table := tablewriter.NewWriter(os.Stdout)
	header := make([]string, len(result.Fields))
	for i, field := range result.Fields {
		header[i] = field.Name
	}
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)

	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, value := range row {
			if value.IsNull() {
				cells[i] = "NULL"
			} else {
				cells[i] = value.String()
			}
		}
		table.Append(cells)
	}
	table.Render()
}
