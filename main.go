package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kwv/meshalign/align"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	configFile  = flag.String("config", "config.yaml", "Path to configuration file (MQTT mode)")
	sourceFile  = flag.String("source", "", "Source cloud JSON file to align")
	targetFile  = flag.String("target", "", "Target cloud JSON file to align against")
	k           = flag.Int("k", 3, "Nearest neighbors per element in the affinity build")
	iterations  = flag.Int("iterations", 30, "Maximum outer registration iterations")
	adjustScale = flag.Bool("adjust-scale", false, "Estimate isotropic scale alongside the rotation")
	mqttMode    = flag.Bool("mqtt", false, "Run MQTT service mode, registering clouds as they arrive")
)

func main() {
	flag.Parse()
	fmt.Printf("meshalign version: %s\n", Version)

	if *sourceFile != "" || *targetFile != "" {
		runFileAlignment()
		return
	}

	if *mqttMode {
		runService()
		return
	}

	flag.Usage()
	os.Exit(2)
}

// runFileAlignment registers one cloud file onto another and prints the
// result as JSON.
func runFileAlignment() {
	if *sourceFile == "" || *targetFile == "" {
		log.Fatalf("both -source and -target are required for file alignment")
	}

	source := loadCloud(*sourceFile)
	target := loadCloud(*targetFile)

	config := align.DefaultConfig()
	config.K = *k
	config.MaxIterations = *iterations
	config.AdjustScale = *adjustScale

	result, err := align.Register(source, target, config)
	if err != nil {
		log.Fatalf("Registration failed: %v", err)
	}

	out := struct {
		Transform      [16]float64 `json:"transform"`
		Error          float64     `json:"error"`
		InlierFraction float64     `json:"inlierFraction"`
		Iterations     int         `json:"iterations"`
		Converged      bool        `json:"converged"`
	}{
		Error:          result.Error,
		InlierFraction: result.InlierFraction,
		Iterations:     result.Iterations,
		Converged:      result.Converged,
	}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out.Transform[r*4+c] = result.Transform.At(r, c)
		}
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		log.Fatalf("Encoding result: %v", err)
	}
	fmt.Println(string(encoded))
}

func loadCloud(path string) *align.Cloud {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Reading %s: %v", path, err)
	}
	_, cloud, err := align.ParseCloud(data)
	if err != nil {
		log.Fatalf("Parsing %s: %v", path, err)
	}
	return cloud
}

// runService connects to the configured broker and registers clouds against
// the reference as payloads arrive, until SIGINT/SIGTERM.
func runService() {
	config, err := align.LoadServiceConfig(*configFile)
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}

	// The service must exist before connecting: paho delivers messages on
	// its own goroutines, so the handler can fire before ConnectMQTT returns.
	service := align.NewService(nil, config)
	client, err := align.ConnectMQTT(config, service.HandleCloud)
	if err != nil {
		log.Fatalf("Connecting to MQTT: %v", err)
	}
	service.SetClient(client)

	log.Printf("Registration service running, reference cloud %q", config.ReferenceID())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Println("Shutting down")
	client.Disconnect()
}
