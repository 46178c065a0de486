package device

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pingfleet/server/internal/pingproto"
	"pingfleet/server/internal/transport"
)

// knownUSBIDs are the BlueRobotics vendor:product pairs discovery looks for
// when enumerating serial ports. Devices are exposed to the OS as CP210x or
// FTDI USB-serial adapters depending on revision.
var knownUSBIDs = []string{
	"10c4:ea60", // CP2102, most Ping1D/Ping360 units
	"0403:6001", // FTDI, some early Ping1D revisions
}

// serialPortGlobs enumerates the device-node paths probed on a Linux host;
// the production BlueOS image this server targets is Linux-only.
var serialPortGlobs = []string{
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
}

// Discover probes every plausible serial port and a UDP broadcast window
// and returns a Spec for each device that answered GetDeviceInformation.
func Discover(ctx context.Context, log *slog.Logger) ([]transport.Spec, error) {
	var found []transport.Spec

	for _, spec := range discoverSerial(ctx, log) {
		found = append(found, spec)
	}
	found = append(found, discoverUDP(ctx, log)...)

	return found, nil
}

// discoverSerial enumerates serial device nodes filtered by known USB
// VID:PID pairs (via sysfs, best-effort) and probes each at every baud in
// transport.DiscoveryBauds until one answers.
func discoverSerial(ctx context.Context, log *slog.Logger) []transport.Spec {
	var specs []transport.Spec

	var candidates []string
	for _, glob := range serialPortGlobs {
		matches, err := filepath.Glob(glob)
		if err != nil {
			continue
		}
		candidates = append(candidates, matches...)
	}

	for _, path := range candidates {
		if !isKnownDevice(path) {
			continue
		}
		for _, baud := range transport.DiscoveryBauds {
			if probeSerial(ctx, path, baud, log) {
				specs = append(specs, transport.Spec{Kind: transport.KindSerial, SerialPath: path, SerialBaud: baud})
				break
			}
		}
	}
	return specs
}

// isKnownDevice checks a serial port's USB vendor:product against
// knownUSBIDs via the sysfs symlink populated by the kernel's usbserial
// driver. Any error (not a USB device, sysfs unavailable) is treated as "not
// a match" rather than a hard failure, so discovery degrades gracefully on
// non-Linux hosts or unusual kernels.
func isKnownDevice(devPath string) bool {
	name := filepath.Base(devPath)
	uevent := filepath.Join("/sys/class/tty", name, "device", "uevent")
	data, err := os.ReadFile(uevent)
	if err != nil {
		return false
	}
	content := string(data)
	for _, id := range knownUSBIDs {
		parts := strings.SplitN(id, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.Contains(content, "PRODUCT="+parts[0]+"/"+parts[1]) {
			return true
		}
	}
	return false
}

// probeSerial opens path at baud, sends GetDeviceInformation, and reports
// whether a well-formed reply arrived before the probe timeout.
func probeSerial(ctx context.Context, path string, baud int, log *slog.Logger) bool {
	t, err := transport.OpenSerial(path, baud)
	if err != nil {
		return false
	}
	defer t.Close()

	req := pingproto.Encode(pingproto.Frame{ID: pingproto.MsgGetDeviceInformation})
	if err := t.Write(req); err != nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()

	f, err := t.ReadFrame(probeCtx)
	if err != nil {
		return false
	}
	return f.ID == pingproto.MsgDeviceInformation
}

// discoverUDP listens for unsolicited replies within a bounded window after
// broadcasting a GetDeviceInformation request to the subnet — the way a
// BlueRobotics Ping360 on a companion computer announces itself.
func discoverUDP(ctx context.Context, log *slog.Logger) []transport.Spec {
	ctx, cancel := context.WithTimeout(ctx, transport.DiscoveryWindow)
	defer cancel()

	t, err := transport.OpenUDP(ctx, "255.255.255.255", 9092)
	if err != nil {
		log.Warn("udp discovery broadcast failed", slog.Any("err", err))
		return nil
	}
	defer t.Close()

	req := pingproto.Encode(pingproto.Frame{ID: pingproto.MsgGetDeviceInformation})
	if err := t.Write(req); err != nil {
		return nil
	}

	var specs []transport.Spec
	for {
		f, err := t.ReadFrame(ctx)
		if err != nil {
			return specs
		}
		if f.ID != pingproto.MsgDeviceInformation {
			continue
		}
		specs = append(specs, transport.Spec{Kind: transport.KindUDP, UDPAddr: "255.255.255.255", UDPPort: 9092})
	}
}
