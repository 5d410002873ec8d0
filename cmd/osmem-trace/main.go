package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
)

func main() {
	app := kingpin.New("osmem-trace", "A command line tool to replay allocation traces against the osmem allocator.")
	app.HelpFlag.Short('h')
	addReplayCommand(app)
	_, err := app.Parse(os.Args[1:])
	if err != nil {
		exitWithErr(err)
	}
}

func exitWithErr(err error) {
	_, _ = fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
