// cmd/modemctl/main.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"modem-service/internal/protocol"
	"modem-service/internal/transport"
)

// request is one parsed input line.
type request struct {
	kind    string // execute, query or set
	command string
	params  []any
}

// parseLine reads "?AT+CMD" as a query, "=AT+CMD a b" as a set with
// whitespace-separated parameters and anything else as a bare command.
// Parameters that parse as integers are sent bare, the rest quoted.
func parseLine(line string) (request, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return request{}, fmt.Errorf("empty command")
	case strings.HasPrefix(line, "?"):
		return request{kind: "query", command: strings.TrimSpace(line[1:])}, nil
	case strings.HasPrefix(line, "="):
		fields := strings.Fields(line[1:])
		if len(fields) == 0 {
			return request{}, fmt.Errorf("set needs a command")
		}
		req := request{kind: "set", command: fields[0]}
		for _, f := range fields[1:] {
			if n, err := strconv.Atoi(f); err == nil {
				req.params = append(req.params, n)
			} else {
				req.params = append(req.params, f)
			}
		}
		return req, nil
	default:
		return request{kind: "execute", command: line}, nil
	}
}

func run(engine *protocol.Engine, req request, timeout time.Duration) ([]string, error) {
	switch req.kind {
	case "query":
		return engine.QueryLines(req.command, timeout)
	case "set":
		return engine.Set(req.command, req.params, timeout)
	default:
		return engine.Run(req.command, timeout)
	}
}

func printNotification(n protocol.Notification) {
	switch n.Kind {
	case protocol.NotifyInbound, protocol.NotifyInboundDropped:
		fmt.Fprintf(os.Stderr, "<< %s slot=%d len=%d\n", n.Kind, n.Slot, n.Length)
	default:
		fmt.Fprintf(os.Stderr, "<< %s %s\n", n.Kind, n.Line)
	}
}

func main() {
	linkType := flag.StringP("link", "l", "serial", "link type (serial, tcp, usb)")
	device := flag.StringP("device", "d", "/dev/ttyUSB0", "serial device path")
	baud := flag.IntP("baud", "b", 115200, "baud rate")
	host := flag.String("host", "", "serial-over-TCP bridge host")
	port := flag.Int("port", 2000, "serial-over-TCP bridge port")
	usbID := flag.String("usb", "", "USB bridge as VID:PID")
	cmd := flag.StringP("cmd", "c", "", "single command to send; if empty, read commands from stdin")
	listen := flag.Bool("listen", false, "print notifications until interrupted")
	timeout := flag.DurationP("timeout", "t", 2*time.Second, "response timeout per command")
	echo := flag.Bool("echo", false, "leave command echo on")
	verbose := flag.BoolP("verbose", "v", false, "log link and engine activity")

	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			log.Fatalf("logger: %v", err)
		}
		defer logger.Sync()
	}

	cfg := transport.LinkConfig{Type: transport.LinkType(*linkType)}
	switch cfg.Type {
	case transport.LinkSerial:
		cfg.Serial = transport.SerialConfig{Port: *device, BaudRate: *baud, DataBits: 8, StopBits: 1, Parity: "none"}
	case transport.LinkTCP:
		cfg.TCP = transport.TCPConfig{Host: *host, Port: *port, Timeout: 5 * time.Second}
	case transport.LinkUSB:
		vid, pid, ok := strings.Cut(*usbID, ":")
		if !ok {
			log.Fatalf("usb link needs --usb VID:PID")
		}
		cfg.USB = transport.USBConfig{VendorID: vid, ProductID: pid, Config: 1, InEndpoint: 1, OutEndpoint: 1}
	default:
		log.Fatalf("unsupported link type %q", *linkType)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	hw, err := transport.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer hw.Close()

	opts := transport.DefaultOptions()
	opts.Logger = logger
	ch, err := transport.NewChannel(hw, opts)
	if err != nil {
		log.Fatalf("channel: %v", err)
	}
	if err := hw.Start(ch); err != nil {
		log.Fatalf("start: %v", err)
	}

	engineOpts := protocol.DefaultOptions()
	engineOpts.Logger = logger
	engineOpts.OnEvent = printNotification
	engine := protocol.New(ch, engineOpts)

	if err := engine.Ping(); err != nil {
		log.Fatalf("modem not responding on %s: %v", hw.Name(), err)
	}
	if !*echo {
		if err := engine.SetEcho(false); err != nil {
			log.Fatalf("echo off: %v", err)
		}
	}

	if *listen {
		log.Printf("listening on %s...", hw.Name())
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := engine.PollNotifications(); err != nil {
					log.Fatalf("listen error: %v", err)
				}
			}
		}
	}

	if *cmd != "" {
		req, err := parseLine(*cmd)
		if err != nil {
			log.Fatalf("%v", err)
		}
		lines, err := run(engine, req, *timeout)
		if err != nil {
			log.Fatalf("%s: %v", req.command, err)
		}
		for _, l := range lines {
			fmt.Println(l)
		}
		return
	}

	// Interactive mode: read commands from stdin line by line.
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprintln(os.Stderr, "Entering interactive mode. ?CMD queries, =CMD a b sets, Ctrl+D to exit.")
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				log.Printf("stdin error: %v", err)
			}
			return
		}
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		req, err := parseLine(scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		lines, err := run(engine, req, *timeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		for _, l := range lines {
			fmt.Println(l)
		}
		fmt.Println("OK")
	}
}
