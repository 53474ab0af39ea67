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
kvraft-discover browses the local network for advertising kvraftd nodes
over mDNS. It is a standalone client of internal/discovery: it never
advertises itself, it only listens, which is why it builds against
Discover directly rather than starting a node.

Usage:

	kvraft-discover
	kvraft-discover --timeout 5s --json
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/firefly-oss/kvraftd/internal/discovery"
	"github.com/firefly-oss/kvraftd/pkg/cli"
)

const version = "1.0.0"

func main() {
	timeout := flag.Duration("timeout", 3*time.Second, "how long to listen for mDNS responses")
	jsonOut := flag.Bool("json", false, "emit results as a JSON array")
	quiet := flag.Bool("quiet", false, "print only discovered raft addresses, one per line")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("kvraft-discover %s\n", version)
		os.Exit(0)
	}

	// hashicorp/mdns logs its own diagnostics straight to the standard
	// logger; this tool has its own success/failure reporting below.
	log.SetOutput(io.Discard)

	nodes, err := discovery.Discover(*timeout)
	if err != nil {
		cli.PrintError("discovery failed: %v", err)
		os.Exit(1)
	}

	switch {
	case *jsonOut:
		outputJSON(nodes)
	case *quiet:
		outputQuiet(nodes)
	default:
		outputHuman(nodes, *timeout)
	}

	if len(nodes) == 0 {
		os.Exit(1)
	}
}

func outputJSON(nodes []discovery.Node) {
	data, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		cli.PrintError("failed to marshal results: %v", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func outputQuiet(nodes []discovery.Node) {
	for _, n := range nodes {
		fmt.Println(n.RaftAddr)
	}
}

func outputHuman(nodes []discovery.Node, timeout time.Duration) {
	fmt.Printf("%s listening for kvraftd nodes (%s)...\n\n", cli.InfoIcon(), timeout)

	if len(nodes) == 0 {
		cli.PrintWarning("no kvraftd nodes found on the local network")
		fmt.Println()
		fmt.Println(cli.Dimmed("  Things to check:"))
		fmt.Println(cli.Dimmed("  - the target nodes were started with --mdns"))
		fmt.Println(cli.Dimmed("  - this host and the cluster are on the same network segment"))
		fmt.Println(cli.Dimmed("  - multicast traffic isn't blocked by a firewall"))
		return
	}

	cli.PrintSuccess("found %d node(s)", len(nodes))
	fmt.Println()

	keyWidth := len("raft address")
	for i, n := range nodes {
		fmt.Printf("%s %d\n", cli.Highlight("node"), i+1)
		cli.KeyValue("node id", n.NodeID, keyWidth)
		cli.KeyValue("raft address", n.RaftAddr, keyWidth)
		if n.Host != "" {
			cli.KeyValue("host", n.Host, keyWidth)
		}
		if n.Version != "" {
			cli.KeyValue("version", n.Version, keyWidth)
		}
		fmt.Println()
	}

	fmt.Println(cli.Dimmed("join the cluster with: kvraftd " + joinAddrs(nodes)))
}

func joinAddrs(nodes []discovery.Node) string {
	addrs := ""
	for i, n := range nodes {
		if i > 0 {
			addrs += " "
		}
		addrs += "--peer " + n.NodeID + "=" + n.RaftAddr
	}
	return addrs
}
