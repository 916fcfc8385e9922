// Command opcsim-client browses, reads and writes the address space of a
// running opcsim-server.
//
// Usage:
//
//	opcsim-client [flags] [command [args...]]
//
// Without a command an interactive prompt starts.
//
// Flags:
//
//	-address string    Server address (default "localhost:4840")
//	-discover          Connect to the first server found over mDNS
//	-ns uint           Namespace of bare numeric node keys (default 1)
//	-timeout duration  Request timeout (default 5s)
//
// Examples:
//
//	# Interactive session
//	opcsim-client -address 192.168.1.20:4840
//
//	# One-shot commands
//	opcsim-client tree
//	opcsim-client write 205 1800
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mash-protocol/opcsim-go/pkg/discovery"
)

var (
	address   = flag.String("address", "localhost:4840", "Server address")
	discoverF = flag.Bool("discover", false, "Connect to the first server found over mDNS")
	namespace = flag.Uint("ns", 1, "Namespace of bare numeric node keys")
	timeout   = flag.Duration("timeout", 5*time.Second, "Request timeout")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if *namespace > 0xFFFF {
		return fmt.Errorf("namespace index out of range: %d", *namespace)
	}
	ns := uint16(*namespace)

	target := *address
	if *discoverF {
		found, foundNS, err := discoverFirst(ctx, 5*time.Second)
		if err != nil {
			return err
		}
		target = found
		if foundNS != 0 {
			ns = foundNS
		}
		fmt.Printf("Using %s\n", target)
	}

	session, err := Dial(ctx, target, *timeout)
	if err != nil {
		return fmt.Errorf("connect %s: %w", target, err)
	}
	defer session.Close()

	if len(args) > 0 {
		repl := &REPL{session: session, ns: ns, out: os.Stdout}
		repl.Exec(ctx, strings.ToLower(args[0]), args[1:])
		return nil
	}

	repl, err := NewREPL(session, ns)
	if err != nil {
		return err
	}
	repl.Run(ctx)
	return nil
}

// discoverFirst returns the address and namespace index of the first
// server found.
func discoverFirst(ctx context.Context, timeout time.Duration) (string, uint16, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	services, err := discovery.NewMDNSBrowser(discovery.BrowserConfig{}).Browse(ctx)
	if err != nil {
		return "", 0, err
	}
	for svc := range services {
		host := svc.Host
		if len(svc.Addresses) > 0 {
			host = svc.Addresses[0]
		}
		cancel()
		// Drain so the browser can shut down.
		for range services {
		}
		return net.JoinHostPort(host, strconv.Itoa(int(svc.Port))), svc.NamespaceIndex, nil
	}
	return "", 0, errors.New("no server found")
}
