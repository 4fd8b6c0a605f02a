// Command kickrbridge exposes a Wahoo KICKR BIKE-compatible TNP/BLE bridge
// in front of an external trainer, shifter, and battery collaborator. It
// wires every core component from internal/ into a single running process,
// the way cmd/smart_trainer.go wires the teacher's UI, BT manager, and
// trainer state together.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kickrbridge/kickrbridge/internal/bleperiph"
	"github.com/kickrbridge/kickrbridge/internal/config"
	"github.com/kickrbridge/kickrbridge/internal/external"
	"github.com/kickrbridge/kickrbridge/internal/ftms"
	"github.com/kickrbridge/kickrbridge/internal/gatt"
	"github.com/kickrbridge/kickrbridge/internal/mdns"
	"github.com/kickrbridge/kickrbridge/internal/ridecontrol"
	"github.com/kickrbridge/kickrbridge/internal/safego"
	"github.com/kickrbridge/kickrbridge/internal/shift"
	"github.com/kickrbridge/kickrbridge/internal/tcpserver"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "kickrbridge: config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	logger.Printf("kickrbridge: starting, port=%d serial=%s max-clients=%d", cfg.Port, cfg.Serial, cfg.MaxClients)

	mirror := gatt.NewMirror(logger)

	trainer := external.TrainerDriver(&loggingTrainer{logger: logger})
	shifter := external.ShifterInput(&stubShifter{})
	battery := external.BatteryLevelProvider(&stubBattery{level: 100})
	telemetry := external.TelemetryProvider(&stubTelemetry{})

	shiftController := shift.New(mirror, trainer, logger)
	shiftController.SetDebounce(cfg.Debounce)
	shiftController.EnablePersistence(shift.NewPersistence(logger))
	shiftController.Enable()

	ftmsService := ftms.New(mirror, logger)
	ftmsService.BaseGradientChanged.Listen(shiftController.SetBaseGradient)

	keepAlive := ridecontrol.NewKeepAlive(mirror, logger)
	keepAlive.SetInterval(cfg.KeepAlive)
	rideHandler := ridecontrol.New(mirror, logger, shiftController, battery, keepAlive)
	rideHandler.SetDeviceInfoObject(ridecontrol.ObjectIDManufacturerName, []byte(cfg.Manufacturer))
	rideHandler.SetDeviceInfoObject(ridecontrol.ObjectIDModelNumber, []byte(cfg.ModelNumber))
	rideHandler.SetDeviceInfoObject(ridecontrol.ObjectIDSerialNumber, []byte(cfg.Serial))
	rideHandler.SetDeviceInfoObject(ridecontrol.ObjectIDHardwareRevision, []byte(cfg.HardwareVersion))
	rideHandler.SetDeviceInfoObject(ridecontrol.ObjectIDFirmwareRevision, []byte(cfg.FirmwareVersion))

	gatt.RegisterZwiftRideService(mirror, rideHandler.HandleSyncRXWrite)
	gatt.RegisterDeviceInfoService(mirror, cfg.Manufacturer, cfg.ModelNumber, cfg.Serial)
	gatt.RegisterBatteryService(mirror, battery.BatteryLevel())

	keepAlive.Start()

	shifterPoll := newShifterPoller(shiftController, shifter, logger)
	safego.Go(logger, shifterPoll.run)

	telemetryPoll := newTelemetryPoller(ftmsService, telemetry)
	safego.Go(logger, telemetryPoll.run)

	server := tcpserver.New(mirror, logger, int32(cfg.MaxClients))
	safego.Go(logger, func() {
		if err := server.ListenAndServe(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Printf("kickrbridge: tcp server stopped: %v", err)
		}
	})

	advertiser := mdns.New(logger, cfg.Port, cfg.MAC, cfg.Serial)
	if err := advertiser.Start(); err != nil {
		logger.Printf("kickrbridge: mdns start failed: %v", err)
	}
	for _, uuid := range mirror.ServiceUUIDs() {
		if err := advertiser.AddServiceUUID(uuid.ShortForm()); err != nil {
			logger.Printf("kickrbridge: mdns add service %s failed: %v", uuid, err)
		}
	}

	peripheral := bleperiph.New(mirror, logger)
	if err := peripheral.Start(fmt.Sprintf("%s %s", cfg.DeviceName, cfg.Serial)); err != nil {
		logger.Printf("kickrbridge: ble peripheral start failed: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Printf("kickrbridge: shutting down")
	shifterPoll.stop()
	telemetryPoll.stop()
	server.Stop()
	advertiser.Stop()
	peripheral.Stop()
}

func newLogger(cfg config.Config) *log.Logger {
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "kickrbridge: creating log directory:", err)
	}
	writer := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}
	return log.New(writer, "kickrbridge: ", log.LstdFlags|log.Lmicroseconds)
}

// loggingTrainer is the default TrainerDriver used when no real trainer
// adapter is wired: it logs the incline it would have applied. A production
// deployment replaces this with an adapter over the actual KICKR BIKE
// control channel.
type loggingTrainer struct {
	logger *log.Logger
}

func (t *loggingTrainer) SetTargetIncline(bp int32) {
	t.logger.Printf("trainer: set target incline %d (0.01%%)", bp)
}

// stubShifter reports a constant position, since no physical shifter input
// is wired in this standalone binary.
type stubShifter struct{}

func (s *stubShifter) GetShifterPosition() int32 { return 0 }

// stubBattery reports a fixed level, since no handlebar controller battery
// is wired in this standalone binary.
type stubBattery struct{ level uint8 }

func (b *stubBattery) BatteryLevel() uint8 { return b.level }

// stubTelemetry reports zero telemetry, since no physical trainer sensor is
// wired in this standalone binary.
type stubTelemetry struct{}

func (t *stubTelemetry) ReadTelemetry() (speedKmh, cadenceRpm float64, powerWatts int16) {
	return 0, 0, 0
}

// shifterPollInterval is how often the external shifter is polled, per §5's
// "one task for the external shifter poll".
const shifterPollInterval = 50 * time.Millisecond

type shifterPoller struct {
	controller *shift.Controller
	shifter    external.ShifterInput
	logger     *log.Logger
	done       chan struct{}
}

func newShifterPoller(controller *shift.Controller, shifter external.ShifterInput, logger *log.Logger) *shifterPoller {
	return &shifterPoller{controller: controller, shifter: shifter, logger: logger, done: make(chan struct{})}
}

func (p *shifterPoller) run() {
	ticker := time.NewTicker(shifterPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.controller.PollShifter(p.shifter.GetShifterPosition())
		}
	}
}

func (p *shifterPoller) stop() {
	close(p.done)
}

// telemetryPollInterval matches the FTMS Indoor Bike Data notification rate
// Zwift expects for a smooth speed/power display.
const telemetryPollInterval = 1 * time.Second

type telemetryPoller struct {
	ftms      *ftms.Service
	telemetry external.TelemetryProvider
	done      chan struct{}
}

func newTelemetryPoller(ftmsService *ftms.Service, telemetry external.TelemetryProvider) *telemetryPoller {
	return &telemetryPoller{ftms: ftmsService, telemetry: telemetry, done: make(chan struct{})}
}

func (p *telemetryPoller) run() {
	ticker := time.NewTicker(telemetryPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			speedKmh, cadenceRpm, powerWatts := p.telemetry.ReadTelemetry()
			p.ftms.PublishIndoorBikeData(speedKmh, cadenceRpm, powerWatts)
		}
	}
}

func (p *telemetryPoller) stop() {
	close(p.done)
}
