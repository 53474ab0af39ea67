/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
kvraftctl is the command-line client for a kvraftd cluster: one-shot
subcommands (get/set/delete/cas/list/exists) for scripting, and an
interactive REPL when invoked with no subcommand.

Usage:

	kvraftctl --nodes 127.0.0.1:8001,127.0.0.1:8002 get mykey
	kvraftctl --nodes 127.0.0.1:8001 set mykey myvalue --ttl 5000
	kvraftctl --nodes 127.0.0.1:8001
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/firefly-oss/kvraftd/internal/client"
	"github.com/firefly-oss/kvraftd/pkg/cli"
)

const version = "1.0.0"

// parseHosts splits a comma-separated host list into host:port strings,
// appending defaultPort to any entry that didn't specify its own port.
// Blank entries (from stray commas or surrounding whitespace) are dropped.
func parseHosts(hostStr, defaultPort string) []string {
	result := []string{}
	for _, h := range strings.Split(hostStr, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if strings.Contains(h, ":") {
			result = append(result, h)
		} else {
			result = append(result, h+":"+defaultPort)
		}
	}
	return result
}

func main() {
	nodesFlag := flag.String("nodes", "127.0.0.1:8000", "comma-separated list of cluster node addresses")
	defaultPort := flag.String("port", "8000", "default port appended to a node entry with no port of its own")
	format := flag.String("format", "table", "output format for one-shot commands: table, json, plain")
	timeout := flag.Duration("timeout", 5*time.Second, "per-request timeout")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("kvraftctl %s\n", version)
		os.Exit(0)
	}

	nodes := parseHosts(*nodesFlag, *defaultPort)
	c, err := client.New(client.Config{Nodes: nodes, RequestTimeout: *timeout})
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvraftctl: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		runREPL(c, *format)
		return
	}

	if err := runOnce(c, *format, args, false); err != nil {
		fmt.Fprintf(os.Stderr, "kvraftctl: %v\n", err)
		os.Exit(1)
	}
}

// runOnce executes a single subcommand. interactive gates prompts and
// progress feedback that only make sense when a human is watching the
// REPL — scripted one-shot invocations get silent, exit-code-driven
// behavior instead.
func runOnce(c *client.Client, format string, args []string, interactive bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: get <key>")
		}
		val, ver, err := c.Get(ctx, args[1])
		if err != nil {
			return err
		}
		printResult(format, map[string]any{"key": args[1], "value": string(val), "version": ver})

	case "set":
		if len(args) < 3 {
			return fmt.Errorf("usage: set <key> <value> [--ttl ms]")
		}
		var ttl uint64
		if len(args) >= 5 && args[3] == "--ttl" {
			v, err := strconv.ParseUint(args[4], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid --ttl value %q", args[4])
			}
			ttl = v
		}
		if err := c.Set(ctx, args[1], args[2], ttl); err != nil {
			return err
		}
		printResult(format, map[string]any{"key": args[1], "ok": true})

	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: delete <key>")
		}
		if interactive {
			if !cli.Confirm(fmt.Sprintf("Delete key %q?", args[1])) {
				return nil
			}
			spinner := cli.NewSpinner(fmt.Sprintf("deleting %q", args[1]))
			spinner.Start()
			if err := c.Delete(ctx, args[1]); err != nil {
				spinner.StopWithError(err.Error())
				return err
			}
			spinner.StopWithSuccess(fmt.Sprintf("deleted %q", args[1]))
			printResult(format, map[string]any{"key": args[1], "ok": true})
			return nil
		}
		if err := c.Delete(ctx, args[1]); err != nil {
			return err
		}
		printResult(format, map[string]any{"key": args[1], "ok": true})

	case "cas":
		if len(args) < 4 {
			return fmt.Errorf("usage: cas <key> <expected_version> <new_value>")
		}
		expected, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid expected_version %q", args[2])
		}
		ok, newVer, err := c.Cas(ctx, args[1], expected, args[3], 0)
		if err != nil {
			return err
		}
		printResult(format, map[string]any{"key": args[1], "ok": ok, "new_version": newVer})

	case "list":
		prefix := ""
		limit := 1000
		rest := args[1:]
		if len(rest) >= 1 && rest[0] != "--limit" {
			prefix = rest[0]
			rest = rest[1:]
		}
		if len(rest) >= 2 && rest[0] == "--limit" {
			n, err := strconv.Atoi(rest[1])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid --limit value %q", rest[1])
			}
			limit = n
		}
		keys, err := c.List(ctx, prefix, limit)
		if err != nil {
			return err
		}
		printResult(format, map[string]any{"keys": keys, "count": len(keys)})

	case "exists":
		if len(args) < 2 {
			return fmt.Errorf("usage: exists <key>")
		}
		_, _, err := c.Get(ctx, args[1])
		printResult(format, map[string]any{"key": args[1], "exists": err == nil})

	default:
		return fmt.Errorf("unknown command %q (want get|set|delete|cas|list|exists)", args[0])
	}
	return nil
}

func printResult(format string, fields map[string]any) {
	switch format {
	case "json":
		data, _ := json.MarshalIndent(fields, "", "  ")
		fmt.Println(string(data))
	case "plain":
		for _, v := range fields {
			fmt.Println(v)
		}
	default:
		for k, v := range fields {
			fmt.Printf("%s%s%s: %v\n", cli.Bold, k, cli.Reset, v)
		}
	}
}

func runREPL(c *client.Client, format string) {
	rl, err := readline.New("kvraftctl> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvraftctl: failed to start REPL: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Println(cli.Banner(version))
	for {
		line, err := rl.Readline()
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}
		if err := runOnce(c, format, strings.Fields(line), true); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}
