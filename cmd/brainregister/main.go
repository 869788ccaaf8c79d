package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"brainregister/pkg/config"
	"brainregister/pkg/engine"
	"brainregister/pkg/registration"
)

func main() {
	// Parse command line arguments
	paramsPath := flag.String("params", "", "Path to the brainregister parameters YAML file")
	create := flag.Bool("create", false, "Create a default parameters file instead of running")
	template := flag.String("template", "", "Sample template image path (used with -create)")
	stages := flag.String("stages", "", "Comma-separated stage subset: scale,register,finalize (default: all)")
	registerCmd := flag.String("register-cmd", "elastix", "External registration engine executable")
	transformCmd := flag.String("transform-cmd", "transformix", "External transform engine executable")
	flag.Parse()

	if *create {
		if *paramsPath == "" || *template == "" {
			flag.Usage()
			os.Exit(1)
		}
		if err := config.CreateDefaultConfigFile(*paramsPath, *template); err != nil {
			log.Fatalf("Failed to create parameters file: %v", err)
		}
		fmt.Printf("Created default parameters file: %s\n", *paramsPath)
		fmt.Println("Edit the sample and atlas sections, then run with -params.")
		return
	}

	if *paramsPath == "" {
		flag.Usage()
		os.Exit(1)
	}
	if _, err := os.Stat(*paramsPath); err != nil {
		log.Fatalf("Cannot read parameters file %s: %v", *paramsPath, err)
	}

	selected, err := parseStages(*stages)
	if err != nil {
		log.Fatalf("%v", err)
	}

	fmt.Println("================================")
	fmt.Println("BRAINREGISTER: MULTI-STAGE COORDINATE-SPACE REGISTRATION PIPELINE")
	fmt.Println("================================")
	fmt.Printf("Parameters file: %s\n", filepath.Clean(*paramsPath))

	reg, err := registration.Load(*paramsPath,
		&engine.ExecRegistrar{Command: *registerCmd},
		&engine.ExecTransformer{Command: *transformCmd})
	if err != nil {
		log.Fatalf("Failed to initialise pipeline: %v", err)
	}

	startTime := time.Now()
	if err := reg.Run(selected...); err != nil {
		log.Fatalf("Registration failed: %v", err)
	}

	fmt.Printf("\nRegistration completed successfully in %.2f seconds!\n",
		time.Since(startTime).Seconds())
}

func parseStages(s string) ([]registration.Stage, error) {
	if s == "" {
		return nil, nil
	}
	known := make(map[registration.Stage]bool)
	for _, st := range registration.AllStages() {
		known[st] = true
	}
	var out []registration.Stage
	for _, part := range strings.Split(s, ",") {
		st := registration.Stage(strings.TrimSpace(part))
		if !known[st] {
			return nil, fmt.Errorf("unknown stage %q (expected scale, register or finalize)", part)
		}
		out = append(out, st)
	}
	return out, nil
}
