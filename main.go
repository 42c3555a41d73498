package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const VendCtlVersion = "1.2.0"

const (
	defaultConfigFile = "config.json"
	commandLogFile    = "device_commands.log"
	wifiTimeout       = 10 * time.Second
	auditLogEntries   = 1000
)

func main() {
	configPath := flag.String("config", defaultConfigFile, "path to the device configuration file")
	flag.Parse()

	rebooter := NewHostRebooter()

	config, err := loadConfig(*configPath)
	if err != nil {
		log.Printf("FATAL: Could not load configuration: %v", err)
		fatalRestart(rebooter)
		return
	}
	log.Printf("INFO: Configuration loaded successfully from %s", *configPath)
	log.Printf("INFO: Starting VendCtl v%s for Machine ID: %s", VendCtlVersion, config.MachineID)

	topics := NewTopicSet(config.MachineID)

	target := config.UpdateTarget
	if target == "" {
		target, err = os.Executable()
		if err != nil {
			log.Printf("FATAL: Could not resolve running executable for updates: %v", err)
			fatalRestart(rebooter)
			return
		}
	}

	pin := NewSysfsPin(flashGPIO)
	driver := NewPulseDriver(pin)
	driver.IndicateBoot()

	network := NewHostNetwork()
	if err := network.Associate(config.WifiSSID, config.WifiPassword, wifiTimeout); err != nil {
		log.Printf("FATAL: Failed to connect to WiFi: %v", err)
		fatalRestart(rebooter)
		return
	}
	log.Println("INFO: WiFi connected successfully")

	audit, err := NewCommandLog(auditLogEntries, commandLogFile)
	if err != nil {
		log.Printf("WARN: Failed to open command log file, keeping audit in memory only: %v", err)
		audit, _ = NewCommandLog(auditLogEntries, "")
	}

	transport := NewMQTTTransport(config)
	updater := NewUpdateEngine(transport, topics.Status, NewHTTPFetcher(), NewOSFileStore(), target)
	dispatcher := NewDispatcher(transport, topics, driver, updater, audit)
	heartbeat := NewHeartbeatEmitter(transport, topics.Health, time.Now())
	supervisor := NewSupervisor(transport, topics, dispatcher, heartbeat)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("INFO: Received signal %v, shutting down...", sig)
		supervisor.Stop()
	}()

	switch supervisor.Run() {
	case tickReboot:
		audit.logStats()
		audit.Close()
		rebooter.Reboot()
	case tickFatal:
		fatalRestart(rebooter)
	default:
		audit.logStats()
		audit.Close()
		log.Println("INFO: Controller stopped.")
	}
}

// fatalRestart handles the unrecoverable-at-startup class: wait a fixed
// delay, then restart the whole device and rely on the next boot for
// recovery.
func fatalRestart(rebooter Rebooter) {
	log.Printf("FATAL: Restarting device in %v...", fatalRestartDelay)
	time.Sleep(fatalRestartDelay)
	rebooter.Reboot()
}
