package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joshp123/particle/internal/config"
	"github.com/joshp123/particle/internal/logging"
	"github.com/joshp123/particle/plugins/particle"
)

var version = "dev"

func main() {
	global := flag.NewFlagSet("particle", flag.ExitOnError)
	jsonOutput := global.Bool("json", false, "print JSON instead of tables")
	configPath := global.String("config", "", "config file (default: search path)")
	timeout := global.Duration("timeout", 2*time.Minute, "overall request timeout")
	global.Usage = usage
	_ = global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("load config", err)
	}
	logger := logging.New(cfg.Logging, "particle", version)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if args[0] == "login" {
		login(ctx, cfg, args[1:])
		return
	}

	client, _, err := particle.NewClientFromConfig(cfg, logger)
	if err != nil {
		fatal("init client", err)
	}

	c := &cli{client: client, out: outputMode{json: *jsonOutput}}
	command, rest := args[0], args[1:]
	switch command {
	case "list":
		c.list(ctx)
	case "show":
		c.show(ctx, rest)
	case "claim":
		c.claim(ctx, rest)
	case "remove":
		c.remove(ctx, rest)
	case "rename":
		c.rename(ctx, rest)
	case "call":
		c.call(ctx, rest)
	case "get":
		c.get(ctx, rest)
	case "signal":
		c.signal(ctx, rest)
	case "flash":
		c.flash(ctx, rest)
	case "compile":
		c.compile(ctx, rest)
	case "product":
		c.product(ctx, rest)
	case "key":
		c.key(ctx, rest)
	case "provision":
		c.provision(ctx, rest)
	default:
		usage()
		os.Exit(2)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

func usage() {
	fmt.Println("particle [--json] [--config path] <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  login <username>  (password from PARTICLE_PASSWORD or stdin)")
	fmt.Println("  list")
	fmt.Println("  show <device>")
	fmt.Println("  claim <device-id>")
	fmt.Println("  remove <device>")
	fmt.Println("  rename <device> <name>")
	fmt.Println("  call <device> <function> [argument]")
	fmt.Println("  get <device> <variable>")
	fmt.Println("  signal <device> on|off")
	fmt.Println("  flash [--binary] <device> <file>...")
	fmt.Println("  compile <device> <file>...")
	fmt.Println("  product [--update] <device> <product-id>")
	fmt.Println("  key [--algorithm rsa] <device> <public-key-file>")
	fmt.Println("  provision <product-id>")
	fmt.Println("")
	fmt.Println("<device> is a 24 character hex id or a device name.")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
