package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"companion/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Daemon control socket")
	timeout := cli.DurationP("timeout", "t", 2*time.Minute, "How long to wait for the daemon")
	cli.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: companion-ctl [flags] <trigger|transcribe PATH|sleep|wake|stop|enable CMD|disable CMD|say TEXT|status>")
		cli.PrintDefaults()
	}
	cli.Parse()

	if cli.NArg() == 0 {
		cli.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	req := ipc.Request{Cmd: cli.Arg(0), Arg: strings.Join(cli.Args()[1:], " ")}
	resp, err := ipc.Send(ctx, *socket, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "companion not running:", err)
		os.Exit(1)
	}
	if !resp.OK {
		fmt.Fprintln(os.Stderr, resp.Error)
		os.Exit(1)
	}
	if resp.Output != "" {
		fmt.Println(resp.Output)
	}
}
