package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	e := newEnv(os.Stdout, os.Stderr)
	flag.StringVar(&e.configPath, "config", "", "Path to a .toml or .json config file")
	register(commander, e)

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
