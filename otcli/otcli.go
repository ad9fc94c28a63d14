package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
)

type CLICommand struct {
	Verbose bool          `long:"verbose" description:"Log every frame crossing the gateway"`
	Run     RunCommand    `command:"run" description:"Run the gateway engine against real GPIOs"`
	Decode  DecodeCommand `command:"decode" description:"Decode raw 32-bit OpenTherm frames"`
}

var clicmd = CLICommand{}

func main() {
	parser := flags.NewParser(&clicmd, flags.HelpFlag|flags.PassDoubleDash)

	_, err := parser.Parse()

	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
