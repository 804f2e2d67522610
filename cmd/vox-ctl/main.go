package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"voxchat/internal/ipc"
)

const usage = `usage: vox-ctl [-s socket] <command> [arg]

commands:
  toggle              start listening, or stop and send what was heard
  stop                stop listening and send what was heard
  interrupt           cut the current reply short
  clear               forget the conversation
  status              print the session state
  export [path]       write the conversation as JSON
  language <tag>      switch recognition language, e.g. de-DE
  model <name>        switch chat model
  voice [name]        switch synthesis voice, empty for default
`

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket path")
	timeout := cli.DurationP("timeout", "t", 5*time.Second, "Reply timeout")
	cli.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	cli.Parse()

	if cli.NArg() == 0 {
		cli.Usage()
		os.Exit(2)
	}
	msg := ipc.ControlMessage{
		Cmd: cli.Arg(0),
		Arg: strings.Join(cli.Args()[1:], " "),
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reply, err := ipc.Send(ctx, *socket, msg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vox-daemon not running:", err)
		os.Exit(1)
	}
	if !reply.OK {
		fmt.Fprintln(os.Stderr, "error:", reply.Error)
		os.Exit(1)
	}

	if len(reply.Data) > 0 {
		var out bytes.Buffer
		if err := json.Indent(&out, reply.Data, "", "  "); err != nil {
			fmt.Println(string(reply.Data))
			return
		}
		fmt.Println(out.String())
	}
}
