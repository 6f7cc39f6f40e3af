package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/RoanBrand/ScopeCapture/acquire"
	"github.com/RoanBrand/ScopeCapture/log"
	"github.com/RoanBrand/ScopeCapture/scope"
)

func main() {
	ip := flag.String("i", "127.0.0.1", "IP address of the scope")
	nevents := flag.Int("n", 1000, "number of events to capture in total")
	timeout := flag.Int("timeout", 1000, "scope link timeout in seconds")
	verbose := flag.Bool("v", false, "log informational messages to info.log")
	flag.Parse()

	if *nevents < 1 {
		fmt.Fprintln(os.Stderr, "Arguments to -n must be positive")
		os.Exit(2)
	}

	verbosity := log.LevelWarn
	if *verbose {
		verbosity = log.LevelInfo
	}
	log.Setup(verbosity, false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := scope.Dial(*ip, time.Duration(*timeout)*time.Second)
	if err != nil {
		fmt.Println("could not connect to scope")
		log.Fatal(err)
	}
	defer s.Close()

	// All events in one sequence gives the best rate estimate.
	opts := acquire.Options{Events: *nevents, Sequence: *nevents}

	start := time.Now()
	rates, count, err := acquire.MeasureRate(ctx, s, opts)
	if err != nil {
		log.Fatal(err)
	}
	elapsed := time.Since(start)

	channels := make([]int, 0, len(rates))
	for ch := range rates {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	for _, ch := range channels {
		fmt.Printf("Channel %d:\n", ch)
		fmt.Printf("\tAvg rate: %.3e Hz\n\n", rates[ch])
	}

	if count > 0 {
		fmt.Printf("Completed %d events in %.3f seconds.\n", count, elapsed.Seconds())
		fmt.Printf("Averaged %.5f seconds per acquisition.\n", elapsed.Seconds()/float64(count))
	}
}
