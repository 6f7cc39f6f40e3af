package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/RoanBrand/ScopeCapture/acquire"
	"github.com/RoanBrand/ScopeCapture/config"
	"github.com/RoanBrand/ScopeCapture/http"
	"github.com/RoanBrand/ScopeCapture/log"
	"github.com/RoanBrand/ScopeCapture/remotedb"
	"github.com/RoanBrand/ScopeCapture/scope"
	"github.com/RoanBrand/ScopeCapture/tracefile"
)

const usage = `usage: ScopeCapture <filename/prefix> [flags]

Captures waveform events from a LeCroy scope into a trace file.
`

func main() {
	ip := flag.String("i", "127.0.0.1", "IP address of the scope")
	nevents := flag.Int("n", 1000, "number of events to capture in total")
	nsequence := flag.Int("s", 1, "number of sequential events to capture at a time")
	timeSuffix := flag.Bool("time", false, "append time string to filename")
	verbose := flag.Bool("v", false, "log informational messages to info.log")
	debug := flag.Bool("vv", false, "additionally log debug detail to debug.log")
	quiet := flag.Bool("q", false, "be quiet and do not print progress during data aquisition, suppress logging")
	simple := flag.Bool("simple", false, "store voltage-converted samples with time axis (bigger, slower, easy to plot)")
	timeout := flag.Int("timeout", 0, "scope link timeout in seconds")
	confFile := flag.String("c", "", "optional config file")

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	conf, err := loadConf(*confFile, *ip, *nevents, *nsequence, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if *quiet && (*verbose || *debug) {
		fmt.Fprintln(os.Stderr, "Cannot use quiet and verbose option at the same time, use only one of them")
		os.Exit(2)
	}

	verbosity := log.LevelWarn
	if *verbose {
		verbosity = log.LevelInfo
	}
	if *debug {
		verbosity = log.LevelDebug
	}
	log.Setup(verbosity, *quiet)

	filename := flag.Arg(0)
	if *timeSuffix {
		filename += time.Now().Format("_02_Jan_2006_15:04:05")
	}
	filename += ".trc"
	fmt.Printf("Saving data to file %s\n", filename)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dialTimeout := time.Duration(conf.TimeoutSeconds) * time.Second
	fmt.Printf("Connecting to %s with timeout %d s... ", conf.ScopeAddress, conf.TimeoutSeconds)
	s, err := scope.Dial(conf.ScopeAddress, dialTimeout)
	if err != nil {
		fmt.Println("could not connect to scope")
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Println("connected !")
	defer s.Close()

	w, err := tracefile.Create(filename)
	if err != nil {
		log.Fatal(err)
	}

	opts := acquire.Options{
		Events:     conf.NumEvents,
		Sequence:   conf.NumSequence,
		SixteenBit: conf.SixteenBit && !*simple,
		Quiet:      *quiet,
	}

	tr := acquire.NewTracker()
	if conf.HTTPServerPort != "" {
		http.SetupServer(
			func() (interface{}, error) { return tr.Snapshot(), nil },
			func() (interface{}, error) { return tr.ScopeSettings(), nil },
		)
		go func() {
			if serr := http.StartServer(conf.HTTPServerPort); serr != nil {
				log.Println("Status server error:", serr)
			}
		}()
	}

	started := time.Now()
	var count int
	if *simple {
		count, err = acquire.RunSimple(ctx, s, w, opts, tr)
	} else {
		count, err = acquire.Run(ctx, s, w, opts, tr)
	}
	if err != nil {
		log.Println("Acquisition error:", err)
	}

	fmt.Println("\rClosing the file")
	bytesWritten := w.BytesWritten()
	if cerr := w.Close(); cerr != nil {
		log.Fatal(cerr)
	}
	if fi, serr := os.Stat(filename); serr == nil {
		fmt.Printf("Size on disk: %s\n", acquire.HumanBytes(fi.Size()))
	}

	if remotedb.Enabled() && count > 0 {
		rec := &remotedb.RunRecord{
			TimeStamp:    started,
			ScopeAddress: conf.ScopeAddress,
			OutputFile:   filename,
			Events:       count,
			Sequences:    conf.NumSequence,
			Channels:     tr.Snapshot().Channels,
			BytesWritten: bytesWritten,
			DurationSec:  time.Since(started).Seconds(),
		}
		if aerr := remotedb.InsertRun(rec); aerr != nil {
			log.Println("Error archiving run:", aerr)
		}
	}

	if err != nil {
		os.Exit(1)
	}
}

// loadConf merges the optional config file with command line flags;
// explicitly set flags win.
func loadConf(path, ip string, nevents, nsequence, timeout int) (*config.Config, error) {
	var conf *config.Config
	var err error

	if path != "" {
		conf, err = config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		if remoteEnabled(conf) {
			remotedb.SetupRemoteDB(conf)
		}
	} else {
		conf = config.Default()
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["i"] {
		conf.ScopeAddress = ip
	}
	if set["n"] {
		conf.NumEvents = nevents
	}
	if set["s"] {
		conf.NumSequence = nsequence
	}
	if set["timeout"] {
		conf.TimeoutSeconds = timeout
	}

	if err = conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func remoteEnabled(conf *config.Config) bool {
	return conf.ArchiveDatabase.Address != ""
}
