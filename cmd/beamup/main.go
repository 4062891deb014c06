package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dmitrijs2005/beamup/internal/app"
	"github.com/dmitrijs2005/beamup/internal/config"
	"github.com/dmitrijs2005/beamup/internal/pipeline"
)

const usage = `usage: beamup [flags] <command> [beam range]

commands:
  upload <range>     run the pipeline for the beams in the range, e.g. 1-4,75
  reconcile <range>  poll remote status for the beams in the range
  sweep              process all queued beams and re-check pending ones
`

func main() {
	cmd, arg := commandArgs(os.Args[1:])
	if cmd == "" {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.LoadConfig()
	a, err := app.NewApp(cfg)
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := app.WithSignalContext(context.Background())
	defer cancel()

	switch cmd {
	case "upload":
		res, err := a.RunUpload(ctx, arg)
		if err != nil {
			log.Printf("%v", err)
			os.Exit(1)
		}
		if res == pipeline.ResultFailed {
			os.Exit(1)
		}
	case "reconcile":
		if err := a.RunReconcile(ctx, arg); err != nil {
			log.Printf("%v", err)
			os.Exit(1)
		}
	case "sweep":
		if err := a.RunSweep(ctx); err != nil {
			log.Printf("%v", err)
			os.Exit(1)
		}
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

// commandArgs extracts the command and its optional range argument from the
// arguments, skipping flags, which the config layer parses on its own. A
// "-flag=value" argument carries its own value; a bare "-flag" consumes the
// next argument unless that is another flag.
func commandArgs(args []string) (string, string) {
	var positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-") {
			if !strings.Contains(arg, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				i++ // flag value
			}
			continue
		}
		positional = append(positional, arg)
	}
	if len(positional) == 0 {
		return "", ""
	}
	if len(positional) == 1 {
		return positional[0], ""
	}
	return positional[0], positional[1]
}
