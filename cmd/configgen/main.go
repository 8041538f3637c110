package main

import (
	"flag"
	"log"

	"github.com/danmuck/chatlink/internal/config"
)

func main() {
	kind := flag.String("kind", "toml", "template format: toml|yaml")
	output := flag.String("output", "", "output path for config template (defaults to chatctl.<kind>)")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to the output path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	target := *output
	if target == "" {
		switch *kind {
		case "toml":
			target = "chatctl.toml"
		case "yaml", "yml":
			target = "chatctl.yaml"
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
	}

	if *validate {
		path := *input
		if path == "" {
			path = target
		}
		cfg, err := config.Load(path)
		if err != nil {
			log.Fatal(err)
		}
		backend, err := cfg.SelectBackend()
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated config at %s (transport=%s backend=%s)", path, cfg.Transport, backend.Name)
		return
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
