package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/mash-protocol/opcsim-go/pkg/discovery"
	"github.com/mash-protocol/opcsim-go/pkg/model"
	"github.com/mash-protocol/opcsim-go/pkg/wire"
)

// REPL is the interactive command loop.
type REPL struct {
	session *Session
	ns      uint16
	out     io.Writer
	rl      *readline.Instance
}

// NewREPL creates the command loop. Bare numeric node arguments refer
// to namespace ns.
func NewREPL(session *Session, ns uint16) (*REPL, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "opcsim> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("browse"),
			readline.PcItem("tree"),
			readline.PcItem("read"),
			readline.PcItem("write"),
			readline.PcItem("watch"),
			readline.PcItem("ns"),
			readline.PcItem("discover"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &REPL{session: session, ns: ns, out: rl.Stdout(), rl: rl}, nil
}

// Run reads commands until quit, EOF or ctx is done.
func (r *REPL) Run(ctx context.Context) {
	defer r.rl.Close()

	r.printHelp()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := r.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if !r.Exec(ctx, strings.ToLower(fields[0]), fields[1:]) {
			return
		}
	}
}

// Exec runs one command and reports whether the loop should continue.
func (r *REPL) Exec(ctx context.Context, cmd string, args []string) bool {
	var err error
	switch cmd {
	case "help", "?":
		r.printHelp()
	case "browse", "b":
		err = r.cmdBrowse(args)
	case "tree", "t":
		err = r.cmdTree(args)
	case "read", "r":
		err = r.cmdRead(args)
	case "write", "w":
		err = r.cmdWrite(args)
	case "watch":
		err = r.cmdWatch(ctx, args)
	case "ns":
		err = r.cmdNamespace(args)
	case "discover", "d":
		err = discover(ctx, r.out, 3*time.Second)
	case "quit", "exit", "q":
		fmt.Fprintln(r.out, "Exiting...")
		return false
	default:
		fmt.Fprintf(r.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
	}
	return true
}

func (r *REPL) printHelp() {
	fmt.Fprintf(r.out, `
Commands:
  browse [node]        - List the references of a node (default: Objects)
  tree [node]          - Print the node tree below a node
  read <node>          - Read a node's attributes and value
  write <node> <value> - Write a client-writable variable
  watch <node> [n]     - Read a node n times, once per second (default 5)
  ns <index>           - Namespace for bare numeric node keys (now %d)
  discover             - Find servers on the local network
  help                 - Show this help
  quit                 - Exit

  Node format: ns=1;i=101, i=85, or a bare key like 101
`, r.ns)
}

func (r *REPL) node(args []string, i int, fallback *model.NodeID) (model.NodeID, error) {
	if len(args) <= i {
		if fallback != nil {
			return *fallback, nil
		}
		return model.NodeID{}, errors.New("missing node argument")
	}
	return ParseNodeArg(args[i], r.ns)
}

func (r *REPL) cmdBrowse(args []string) error {
	id, err := r.node(args, 0, &model.ObjectsFolderID)
	if err != nil {
		return err
	}
	refs, err := r.session.Browse(id)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		fmt.Fprintf(r.out, "%s has no references\n", id)
		return nil
	}
	for _, ref := range refs {
		fmt.Fprintf(r.out, "  %-14s %-12s %-9s %s\n", ref.Reference, ref.Target, ref.Class, ref.BrowseName)
	}
	return nil
}

func (r *REPL) cmdTree(args []string) error {
	id, err := r.node(args, 0, &model.ObjectsFolderID)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, id)
	return r.printTree(id, "  ", 0)
}

func (r *REPL) printTree(id model.NodeID, indent string, depth int) error {
	if depth > 8 {
		return nil
	}
	refs, err := r.session.Browse(id)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		line := fmt.Sprintf("%s%s (%s)", indent, ref.BrowseName, ref.Target)
		if ref.Class == model.NodeClassVariable {
			if res, err := r.session.Read(ref.Target); err == nil {
				line += " = " + formatValue(res.Value)
			}
		}
		fmt.Fprintln(r.out, line)
		if ref.Class == model.NodeClassObject {
			if err := r.printTree(ref.Target, indent+"  ", depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *REPL) cmdRead(args []string) error {
	id, err := r.node(args, 0, nil)
	if err != nil {
		return err
	}
	res, err := r.session.Read(id)
	if err != nil {
		return err
	}
	printReadResult(r.out, res)
	return nil
}

func (r *REPL) cmdWrite(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: write <node> <value>")
	}
	id, err := r.node(args, 0, nil)
	if err != nil {
		return err
	}
	value, err := r.session.WriteString(id, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s = %s\n", id, formatValue(value))
	return nil
}

func (r *REPL) cmdWatch(ctx context.Context, args []string) error {
	id, err := r.node(args, 0, nil)
	if err != nil {
		return err
	}
	count := 5
	if len(args) > 1 {
		if count, err = strconv.Atoi(args[1]); err != nil || count < 1 {
			return fmt.Errorf("invalid count %q", args[1])
		}
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for i := 0; i < count; i++ {
		res, err := r.session.Read(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "%s  %s = %s\n", time.Now().Format("15:04:05.000"), res.BrowseName, formatValue(res.Value))
		if i == count-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func (r *REPL) cmdNamespace(args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(r.out, "namespace %d\n", r.ns)
		return nil
	}
	ns, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid namespace index %q", args[0])
	}
	r.ns = uint16(ns)
	return nil
}

func printReadResult(w io.Writer, res *wire.ReadResult) {
	fmt.Fprintf(w, "  NodeId:      %s\n", res.NodeID)
	fmt.Fprintf(w, "  NodeClass:   %s\n", res.Class)
	fmt.Fprintf(w, "  BrowseName:  %s\n", res.BrowseName)
	if res.Description != "" {
		fmt.Fprintf(w, "  Description: %s\n", res.Description)
	}
	fmt.Fprintf(w, "  Parent:      %s (%s)\n", res.Parent, res.Reference)
	if res.Class == model.NodeClassVariable {
		fmt.Fprintf(w, "  DataType:    %s\n", res.DataType)
		fmt.Fprintf(w, "  Access:      %s\n", res.Access)
		fmt.Fprintf(w, "  Value:       %s\n", formatValue(res.Value))
	}
}

func formatValue(v model.Variant) string {
	if f, ok := v.Value.(float64); ok && v.Type == model.DataTypeDouble {
		return strconv.FormatFloat(f, 'f', 3, 64)
	}
	return fmt.Sprint(v.Value)
}

// discover browses for servers for the given duration and prints each
// one found.
func discover(ctx context.Context, w io.Writer, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	services, err := discovery.NewMDNSBrowser(discovery.BrowserConfig{}).Browse(ctx)
	if err != nil {
		return err
	}
	found := 0
	for svc := range services {
		found++
		fmt.Fprintf(w, "  %-30s %s  ns=%s\n", svc.InstanceName, svc.Endpoint(), svc.Namespace)
	}
	if found == 0 {
		fmt.Fprintln(w, "No servers found")
	}
	return nil
}
