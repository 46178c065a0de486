// Command pingfleetd runs the acquisition core: the device manager, the
// recording manager, and the vehicle telemetry bridge, wired together and
// kept alive until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"pingfleet/server/internal/device"
	"pingfleet/server/internal/history"
	"pingfleet/server/internal/recording"
	"pingfleet/server/internal/vehicle"
)

// Version is stamped at build time in the teacher's release process; kept
// as a plain constant here since this repo has no build pipeline of its own.
const Version = "0.1.0"

func main() {
	// Check for CLI subcommands before parsing daemon flags.
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:], "pingfleet.db") {
			return
		}
	}

	historyDB := flag.String("history-db", "pingfleet.db", "SQLite path for the recording history ledger (empty to disable)")
	recordingsDir := flag.String("recordings-dir", recording.DefaultBaseDir, "base directory for recording files")
	mailboxCapacity := flag.Int("mailbox-capacity", device.DefaultMailboxCapacity, "bounded mailbox capacity for the device and recording manager actors")
	vehicleBusAddr := flag.String("vehicle-bus-addr", vehicle.DefaultBusAddr, "TCP address of the vehicle telemetry bus")
	vehicleReconnectDelay := flag.Duration("vehicle-reconnect-delay", vehicle.ReconnectDelay, "delay before the vehicle bridge reconnects after a failure")
	autoDiscover := flag.Bool("auto-discover", true, "probe for attached devices once at startup")
	discoverInterval := flag.Duration("discover-interval", 30*time.Second, "interval between background device discovery scans (0 to disable)")
	flag.Parse()

	log.Printf("[pingfleetd] starting, version %s", Version)

	var hist *history.Store
	if *historyDB != "" {
		var err error
		hist, err = history.New(*historyDB)
		if err != nil {
			log.Fatalf("[history] %v", err)
		}
		defer hist.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[pingfleetd] shutting down...")
		cancel()
	}()

	coreLog := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	devices := device.NewManagerWithCapacity(ctx, coreLog.With(slog.String("actor", "device_manager")), *mailboxCapacity)

	snapshot := vehicle.NewSnapshot()
	bus := vehicle.NewTCPBus(*vehicleBusAddr)
	bridge := vehicle.NewBridge(bus, snapshot, coreLog.With(slog.String("actor", "vehicle_bridge")))
	bridge.SetReconnectDelay(*vehicleReconnectDelay)
	go bridge.Run(ctx)
	log.Printf("[vehicle] bridging telemetry from tcp/%s", *vehicleBusAddr)

	recorder := recording.NewManagerWithCapacity(
		ctx,
		coreLog.With(slog.String("actor", "recording_manager")),
		devices,
		snapshot,
		*recordingsDir,
		hist,
		*mailboxCapacity,
	)
	go logRecordingStatus(ctx, recorder)

	go logDeviceEvictions(ctx, devices)

	if *autoDiscover {
		runDiscovery(ctx, devices)
	}
	if *discoverInterval > 0 {
		go runPeriodicDiscovery(ctx, devices, *discoverInterval)
	}

	log.Printf("[pingfleetd] ready (recordings dir %q, mailbox capacity %d)", *recordingsDir, *mailboxCapacity)
	<-ctx.Done()
	log.Println("[pingfleetd] stopped")
}

// runDiscovery probes for attached devices once and logs what was found.
func runDiscovery(ctx context.Context, devices *device.Manager) {
	ids, err := devices.AutoCreate(ctx)
	if err != nil {
		log.Printf("[discover] %v", err)
		return
	}
	log.Printf("[discover] found %d device(s)", len(ids))
}

// runPeriodicDiscovery re-probes for newly attached devices every interval
// until ctx is canceled. Duplicate detection in Manager.Create means a
// device already registered on the same transport is skipped; AutoCreate
// logs the Duplicate error as a warning and moves on.
func runPeriodicDiscovery(ctx context.Context, devices *device.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runDiscovery(ctx, devices)
		}
	}
}

// logRecordingStatus relays every status-broadcast event to the operator
// log until ctx is canceled.
func logRecordingStatus(ctx context.Context, recorder *recording.Manager) {
	sub := recorder.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sub:
			state := "stopped"
			if s.Active {
				state = "started"
			}
			log.Printf("[recording] %s device=%s file=%s", state, s.DeviceID, s.FilePath)
		}
	}
}

// logDeviceEvictions relays every device-manager eviction event to the
// operator log until ctx is canceled.
func logDeviceEvictions(ctx context.Context, devices *device.Manager) {
	sub := devices.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case info := <-sub:
			log.Printf("[device] removed id=%s kind=%s", info.ID, info.Kind)
		}
	}
}
