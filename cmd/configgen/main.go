package main

import (
	"flag"
	"log"

	"github.com/danmuck/contractrpc/internal/config"
)

func main() {
	kind := flag.String("kind", "host", "config kind: host|client")
	output := flag.String("output", "", "output path for config template (.toml or .yaml)")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to the per-kind path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	path := defaultPath(*kind)
	if *validate {
		if *input != "" {
			path = *input
		}
		var err error
		switch *kind {
		case "host":
			_, err = config.LoadHostConfig(path)
		case "client":
			_, err = config.LoadClientConfig(path)
		}
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	if *output != "" {
		path = *output
	}
	if err := config.WriteTemplate(path, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, path)
}

func defaultPath(kind string) string {
	switch kind {
	case "host":
		return "cmd/contractd/config.toml"
	case "client":
		return "cmd/contractctl/config.toml"
	default:
		log.Fatalf("unknown kind: %s", kind)
		return ""
	}
}
