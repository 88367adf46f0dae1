package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"strideos/pkg/chart"
	"strideos/pkg/config"
	"strideos/pkg/kernel"
	"strideos/pkg/klog"
	"strideos/pkg/loader"
)

func main() {
	configPath := flag.String("config", "", "Path to a JSON kernel configuration")
	rounds := flag.Int("rounds", 200, "Number of time slices handed to the workers")
	chartPath := flag.String("chart", "", "Write the schedule timeline PNG to this file")
	logLevel := flag.String("log-level", "", "Override the configured log level (DEBUG, INFO, WARN, ERROR)")
	prioList := flag.String("prios", "2,4,8", "Comma separated worker priorities")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, closer, err := klog.InitLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closer.Close()

	prios, err := parsePriorities(*prioList)
	if err != nil {
		log.Fatalf("Invalid -prios: %v", err)
	}

	images := loader.NewRegistry()
	if err := registerDemoImages(images, cfg.InitProc, prios); err != nil {
		log.Fatalf("Failed to build demo images: %v", err)
	}
	k, err := kernel.New(kernel.Options{Config: cfg, Images: images, Logger: logger})
	if err != nil {
		log.Fatalf("Failed to boot: %v", err)
	}

	d := newDemo(k, logger, cfg.InitProc, prios, *rounds)
	code, err := d.run()
	if err != nil {
		log.Fatalf("Demo failed: %v", err)
	}

	fmt.Printf("init exited with code %d\n\n", code)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tNAME\tPRIO\tSLICES\tSHARE\tREAPED")
	stats := d.stats()
	for _, w := range stats {
		share := 0.0
		if *rounds > 0 {
			share = 100 * float64(w.Slices) / float64(*rounds)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%.1f%%\t%v\n", w.Pid, w.Name, w.Priority, w.Slices, share, w.Reaped)
	}
	tw.Flush()

	if *chartPath != "" {
		if err := chart.SavePNG(*chartPath, slots(k.Trace()), chart.Options{}); err != nil {
			log.Fatalf("Failed to write chart: %v", err)
		}
		fmt.Printf("\nschedule written to %s\n", *chartPath)
	}
}
