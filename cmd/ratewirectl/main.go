// ratewirectl is a line-oriented client for a ratewired server. It keeps a
// single reconnecting session alive and maps REPL commands onto the wire
// actions; server messages are printed as they arrive.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/ratewire/internal/client"
	"github.com/danmuck/ratewire/internal/logging"
	"github.com/danmuck/ratewire/internal/protocol"
)

const dateFormat = "2006-01-02 15:04:05"

func main() {
	logging.ConfigureRuntime()

	fs := flag.NewFlagSet("ratewirectl", flag.ContinueOnError)
	port := fs.Int("p", 7777, "server port (1024..65535)")
	addr := fs.String("a", "127.0.0.1", "server address")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	if *port < 1024 || *port > 65535 {
		fmt.Fprintf(os.Stderr, "ratewirectl: port %d out of range 1024..65535\n", *port)
		os.Exit(1)
	}

	cfg := client.DefaultConfig()
	cfg.Address = fmt.Sprintf("%s:%d", strings.TrimSpace(*addr), *port)
	session, err := client.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ratewirectl: %v\n", err)
		os.Exit(1)
	}
	session.Start()
	defer session.Stop()

	go printNotifications(session)

	if err := repl(session); err != nil {
		fmt.Fprintf(os.Stderr, "ratewirectl: %v\n", err)
		os.Exit(1)
	}
}

func printNotifications(session *client.Session) {
	for msg := range session.Notifications() {
		pretty, err := json.MarshalIndent(msg, "", "  ")
		if err != nil {
			fmt.Printf("<- %v\n", msg)
			continue
		}
		fmt.Printf("<- %s\n", pretty)
	}
}

func repl(session *client.Session) error {
	usage()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "help":
			usage()
		case "list":
			send(session, protocol.NewRequest(protocol.ActionGetFiltersAndProducts, nil))
		case "add-filter":
			if len(fields) < 2 {
				fmt.Println("usage: add-filter <name> [min] [max]")
				continue
			}
			content := map[string]any{protocol.KeyFilter: fields[1]}
			if len(fields) > 2 {
				if v, err := strconv.ParseFloat(fields[2], 64); err == nil {
					content[protocol.KeyMin] = v
				}
			}
			if len(fields) > 3 {
				if v, err := strconv.ParseFloat(fields[3], 64); err == nil {
					content[protocol.KeyMax] = v
				}
			}
			send(session, protocol.NewRequest(protocol.ActionAddFilter, content))
		case "add-product":
			if len(fields) != 2 {
				fmt.Println("usage: add-product <name>")
				continue
			}
			send(session, protocol.NewRequest(protocol.ActionAddProduct, map[string]any{
				protocol.KeyProduct: fields[1],
			}))
		case "rate":
			if len(fields) < 5 {
				fmt.Println("usage: rate <product> <filter> <value> <address...>")
				continue
			}
			value, err := strconv.ParseFloat(fields[3], 64)
			if err != nil {
				fmt.Printf("bad value %q\n", fields[3])
				continue
			}
			send(session, protocol.NewRequest(protocol.ActionAddRating, map[string]any{
				protocol.KeyProduct: fields[1],
				protocol.KeyFilter:  fields[2],
				protocol.KeyRating:  value,
				protocol.KeyAddress: strings.Join(fields[4:], " "),
				protocol.KeyDate:    time.Now().Format(dateFormat),
			}))
		case "ratings":
			if len(fields) != 3 {
				fmt.Println("usage: ratings <product> <filter>")
				continue
			}
			send(session, protocol.NewRequest(protocol.ActionGetRatings, map[string]any{
				protocol.KeyProduct: fields[1],
				protocol.KeyFilter:  fields[2],
			}))
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

func send(session *client.Session, msg map[string]any) {
	if err := session.Send(msg); err != nil {
		fmt.Fprintf(os.Stderr, "send: %v\n", err)
	}
}

func usage() {
	fmt.Println(`commands:
  list                                    fetch all filters and products
  add-filter <name> [min] [max]           create a filter
  add-product <name>                      create a product
  rate <product> <filter> <value> <addr>  submit a rating
  ratings <product> <filter>              fetch ratings for a pair
  quit`)
}
