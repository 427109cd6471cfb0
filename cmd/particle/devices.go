package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/joshp123/particle/internal/device"
	"github.com/joshp123/particle/plugins/particle"
)

type cli struct {
	client *particle.Client
	out    outputMode
}

func requireArgs(action string, args []string, n int, usage string) {
	if len(args) < n {
		fatal(action, fmt.Errorf("usage: particle %s", usage))
	}
}

func (c *cli) list(ctx context.Context) {
	devices, err := c.client.ListDevices(ctx)
	if err != nil {
		fatal("list devices", err)
	}
	if c.out.json {
		attrs := make([]device.Attributes, 0, len(devices))
		for _, d := range devices {
			attrs = append(attrs, d.Attributes())
		}
		c.out.printJSON(attrs)
		return
	}
	rows := [][]string{{"NAME", "ID", "PRODUCT", "ONLINE", "LAST HEARD"}}
	for _, d := range devices {
		attrs := d.Attributes()
		rows = append(rows, []string{attrs.Name, attrs.ID, d.Product(), yesNo(d.Connected()), formatTime(d.LastHeard())})
	}
	c.out.table(rows)
}

func (c *cli) show(ctx context.Context, args []string) {
	requireArgs("show", args, 1, "show <device>")
	d := c.client.Device(args[0])
	if err := d.Reload(ctx); err != nil {
		fatal("show", err)
	}
	attrs := d.Attributes()
	if c.out.json {
		c.out.printJSON(attrs)
		return
	}
	rows := [][]string{
		{"id", attrs.ID},
		{"name", attrs.Name},
		{"product", d.Product()},
		{"online", yesNo(d.Connected())},
		{"last heard", formatTime(d.LastHeard())},
		{"last ip", d.LastIPAddress()},
		{"firmware", d.SystemFirmwareVersion()},
		{"status", d.Status()},
	}
	functions := append([]string(nil), attrs.Functions...)
	sort.Strings(functions)
	for _, fn := range functions {
		rows = append(rows, []string{"function", fn})
	}
	names := make([]string, 0, len(attrs.Variables))
	for name := range attrs.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rows = append(rows, []string{"variable", name + " (" + attrs.Variables[name] + ")"})
	}
	c.out.table(rows)
}

func (c *cli) claim(ctx context.Context, args []string) {
	requireArgs("claim", args, 1, "claim <device-id>")
	d, err := c.client.Device(args[0]).Claim(ctx)
	if err != nil {
		fatal("claim", err)
	}
	c.out.result(map[string]string{"claimed": d.IDOrName()}, [][]string{{"claimed", d.IDOrName()}})
}

func (c *cli) remove(ctx context.Context, args []string) {
	requireArgs("remove", args, 1, "remove <device>")
	ok, err := c.client.Device(args[0]).Remove(ctx)
	if err != nil {
		fatal("remove", err)
	}
	c.out.result(map[string]bool{"removed": ok}, [][]string{{"removed", yesNo(ok)}})
}

func (c *cli) rename(ctx context.Context, args []string) {
	requireArgs("rename", args, 2, "rename <device> <name>")
	ok, err := c.client.Device(args[0]).Rename(ctx, args[1])
	if err != nil {
		fatal("rename", err)
	}
	c.out.result(map[string]bool{"renamed": ok}, [][]string{{"renamed", yesNo(ok)}})
}

func (c *cli) call(ctx context.Context, args []string) {
	requireArgs("call", args, 2, "call <device> <function> [argument]")
	d := c.client.Device(args[0])
	var (
		res device.FunctionResult
		err error
	)
	if len(args) > 2 {
		res, err = d.Call(ctx, args[1], args[2])
	} else {
		res, err = d.Function(ctx, args[1])
	}
	if err != nil {
		fatal("call", err)
	}
	c.out.result(res, [][]string{
		{"function", res.Name},
		{"return", strconv.Itoa(res.ReturnValue)},
		{"online", yesNo(res.Connected)},
	})
}

func (c *cli) get(ctx context.Context, args []string) {
	requireArgs("get", args, 2, "get <device> <variable>")
	res, err := c.client.Device(args[0]).Get(ctx, args[1])
	if err != nil {
		fatal("get", err)
	}
	c.out.result(res, [][]string{
		{"variable", res.Name},
		{"value", fmt.Sprint(res.Result)},
		{"online", yesNo(res.Connected)},
	})
}

func (c *cli) signal(ctx context.Context, args []string) {
	requireArgs("signal", args, 2, "signal <device> on|off")
	var enabled bool
	switch args[1] {
	case "on":
		enabled = true
	case "off":
	default:
		fatal("signal", fmt.Errorf("expected on or off, got %q", args[1]))
	}
	signaling, err := c.client.Device(args[0]).Signal(ctx, enabled)
	if err != nil {
		fatal("signal", err)
	}
	c.out.result(map[string]bool{"signaling": signaling}, [][]string{{"signaling", yesNo(signaling)}})
}

func (c *cli) flash(ctx context.Context, args []string) {
	flags := flag.NewFlagSet("flash", flag.ExitOnError)
	binary := flags.Bool("binary", false, "files are a compiled binary")
	_ = flags.Parse(args)
	rest := flags.Args()
	requireArgs("flash", rest, 2, "flash [--binary] <device> <file>...")
	res, err := c.client.Device(rest[0]).Flash(ctx, rest[1:], device.FlashOptions{Binary: *binary})
	if err != nil {
		fatal("flash", err)
	}
	c.build("flash", res)
}

func (c *cli) compile(ctx context.Context, args []string) {
	requireArgs("compile", args, 2, "compile <device> <file>...")
	res, err := c.client.Device(args[0]).Compile(ctx, args[1:])
	if err != nil {
		fatal("compile", err)
	}
	c.build("compile", res)
}

func (c *cli) build(action string, res device.BuildResult) {
	rows := [][]string{{"ok", yesNo(res.OK)}}
	if res.BinaryID != "" {
		rows = append(rows, []string{"binary", res.BinaryID})
	}
	if res.Errors != "" {
		rows = append(rows, []string{"errors", res.Errors})
	}
	c.out.result(res, rows)
	if !res.OK {
		os.Exit(1)
	}
}

func (c *cli) product(ctx context.Context, args []string) {
	flags := flag.NewFlagSet("product", flag.ExitOnError)
	update := flags.Bool("update", false, "move the device to the product firmware")
	_ = flags.Parse(args)
	rest := flags.Args()
	requireArgs("product", rest, 2, "product [--update] <device> <product-id>")
	productID, err := strconv.Atoi(rest[1])
	if err != nil {
		fatal("product", fmt.Errorf("invalid product id %q", rest[1]))
	}
	ok, err := c.client.Device(rest[0]).ChangeProduct(ctx, productID, *update)
	if err != nil {
		fatal("product", err)
	}
	c.out.result(map[string]bool{"changed": ok}, [][]string{{"changed", yesNo(ok)}})
}

func (c *cli) key(ctx context.Context, args []string) {
	flags := flag.NewFlagSet("key", flag.ExitOnError)
	algorithm := flags.String("algorithm", device.DefaultKeyAlgorithm, "key algorithm")
	_ = flags.Parse(args)
	rest := flags.Args()
	requireArgs("key", rest, 2, "key [--algorithm rsa] <device> <public-key-file>")
	publicKey, err := os.ReadFile(rest[1])
	if err != nil {
		fatal("key", err)
	}
	ok, err := c.client.Device(rest[0]).UpdatePublicKey(ctx, string(publicKey), *algorithm)
	if err != nil {
		fatal("key", err)
	}
	c.out.result(map[string]bool{"updated": ok}, [][]string{{"updated", yesNo(ok)}})
}

func (c *cli) provision(ctx context.Context, args []string) {
	requireArgs("provision", args, 1, "provision <product-id>")
	productID, err := strconv.Atoi(args[0])
	if err != nil {
		fatal("provision", fmt.Errorf("invalid product id %q", args[0]))
	}
	d, err := c.client.ProvisionDevice(ctx, productID)
	if err != nil {
		fatal("provision", err)
	}
	c.out.result(d.Attributes(), [][]string{{"id", d.IDOrName()}, {"product", d.Product()}})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
