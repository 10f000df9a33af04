// Package cmd is responsible for the program's command-line interface.
package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/AdguardTeam/golibs/log"
	"github.com/getlantern/give/internal/forward"
	"github.com/getlantern/give/internal/getmode"
	"github.com/getlantern/give/internal/give"
	"github.com/getlantern/give/internal/resolver"
	"github.com/getlantern/give/internal/version"
	goFlags "github.com/jessevdk/go-flags"
)

// Main is the entry point of the Give node.
func Main() {
	printVersion()

	options, err := parseOptions(os.Args[1:])
	exitOnParseError(err)

	closer := setupLog(options.Verbose, options.LogOutput)
	defer log.OnCloserError(closer, log.INFO)

	run(options)
}

// MainGet is the entry point of the Get node.
func MainGet() {
	printVersion()

	options := &GetOptions{}
	parser := goFlags.NewParser(options, goFlags.Default)
	_, err := parser.Parse()
	exitOnParseError(err)

	closer := setupLog(options.Verbose, options.LogOutput)
	defer log.OnCloserError(closer, log.INFO)

	runGet(options)
}

// printVersion prints the version and exits if --version is specified.
func printVersion() {
	for _, arg := range os.Args {
		if arg == "--version" {
			fmt.Printf("give version: %s\n", version.VersionString)
			os.Exit(0)
		}
	}
}

// exitOnParseError exits the program if err is not nil.  The parser has
// already printed the error message.
func exitOnParseError(err error) {
	if err == nil {
		return
	}

	if flagsErr, ok := err.(*goFlags.Error); ok && flagsErr.Type == goFlags.ErrHelp {
		os.Exit(0)
	}

	os.Exit(1)
}

// parseOptions parses the command-line arguments of the Give node and merges
// the configuration file into them.  A non-numeric port is a parse error.
func parseOptions(args []string) (options *Options, err error) {
	options = &Options{}
	parser := goFlags.NewParser(options, goFlags.Default)
	_, err = parser.ParseArgs(args)
	if err != nil {
		return nil, err
	}

	if options.ConfigPath != "" {
		var fc *fileConfig
		fc, err = readFileConfig(options.ConfigPath)
		if err != nil {
			return nil, err
		}

		applyFileConfig(options, fc)
	}

	return options, nil
}

// setupLog configures the log level and output.  It returns the closer of the
// log file, if any.
func setupLog(verbose bool, output string) (closer io.Closer) {
	if verbose {
		log.SetLevel(log.DEBUG)
	}

	if output == "" {
		return io.NopCloser(nil)
	}

	file, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		log.Fatalf("cannot create a log file: %s", err)
	}
	log.SetOutput(file)

	return file
}

// run starts the Give node and waits for a termination signal.
func run(options *Options) {
	log.Info("cmd: run give with the following configuration:\n%s", options)

	res := newResolver(options)
	fwd := newForwarder(options, res)

	g := newGive(options, fwd)
	err := g.Start()
	check(err)

	waitForSignal()

	log.Info("cmd: stopping give")
	log.OnCloserError(g, log.INFO)
	if res != nil {
		log.OnCloserError(res, log.INFO)
	}
}

// runGet starts the Get node and waits for a termination signal.
func runGet(options *GetOptions) {
	log.Info("cmd: run get with the following configuration:\n%s", options)

	cfg, err := toGetConfig(options)
	check(err)

	g, err := getmode.New(cfg)
	check(err)

	err = g.Start()
	check(err)

	waitForSignal()

	log.Info("cmd: stopping get")
	log.OnCloserError(g, log.INFO)
}

// waitForSignal blocks until SIGINT or SIGTERM is received.
func waitForSignal() {
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
	<-signalChannel
}

// newResolver creates a new instance of [*resolver.Resolver] or returns nil if
// the DNS upstream is not configured.  It panics if any error happens.
func newResolver(options *Options) (r *resolver.Resolver) {
	cfg := toResolverConfig(options)
	if cfg == nil {
		return nil
	}

	r, err := resolver.New(cfg)
	check(err)

	return r
}

// newForwarder creates a new instance of [*forward.Forwarder] or panics if any
// error happens.
func newForwarder(options *Options, res *resolver.Resolver) (f *forward.Forwarder) {
	f, err := forward.New(toForwardConfig(options, res))
	check(err)

	return f
}

// newGive creates a new instance of [*give.Give] or panics if any error
// happens.
func newGive(options *Options, fwd *forward.Forwarder) (g *give.Give) {
	cfg, err := toGiveConfig(options, fwd)
	check(err)

	g, err = give.New(cfg)
	check(err)

	return g
}

// check panics if err is not nil.
func check(err error) {
	if err != nil {
		panic(err)
	}
}
