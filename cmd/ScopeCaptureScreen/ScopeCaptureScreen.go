package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/RoanBrand/ScopeCapture/log"
	"github.com/RoanBrand/ScopeCapture/scope"
)

const usage = `usage: ScopeCaptureScreen ON|OFF [flags]

Turns the scope display on or off.
`

func main() {
	ip := flag.String("i", "127.0.0.1", "IP address of the scope")
	timeout := flag.Int("timeout", 10, "scope link timeout in seconds")
	verbose := flag.Bool("v", false, "log informational messages to info.log")

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	var on bool
	switch strings.ToUpper(flag.Arg(0)) {
	case "ON":
		on = true
	case "OFF":
		on = false
	default:
		flag.Usage()
		os.Exit(2)
	}

	verbosity := log.LevelWarn
	if *verbose {
		verbosity = log.LevelInfo
	}
	log.Setup(verbosity, false)

	fmt.Printf("Connecting to %s ... ", *ip)
	s, err := scope.Dial(*ip, time.Duration(*timeout)*time.Second)
	if err != nil {
		fmt.Println("could not connect to scope")
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Println("connected !")
	defer s.Close()

	fmt.Printf("sending command DISP %s\n", strings.ToUpper(flag.Arg(0)))
	if err = s.SetDisplay(on); err != nil {
		log.Fatal(err)
	}
}
