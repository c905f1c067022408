package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

// Device is a discovered V4L2 capture device
type Device struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	Driver       string    `json:"driver"`
	Vendor       string    `json:"vendor,omitempty"`
	Product      string    `json:"product,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// Discovery scans for V4L2 devices and keeps the list current
type Discovery struct {
	*service.ServiceBase
	devices      map[string]*Device
	mu           sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	interval     time.Duration
	videoDevPath string
	sysfsRoot    string
	isDevice     func(os.FileInfo) bool
	scanned      bool
}

// NewDiscovery creates a device discovery service
func NewDiscovery(interval time.Duration, videoDevPath string, log *logger.Logger) *Discovery {
	ctx, cancel := context.WithCancel(context.Background())

	if videoDevPath == "" {
		videoDevPath = "/dev"
	}

	return &Discovery{
		ServiceBase:  service.NewServiceBase("camera-discovery", log),
		devices:      make(map[string]*Device),
		ctx:          ctx,
		cancel:       cancel,
		interval:     interval,
		videoDevPath: videoDevPath,
		sysfsRoot:    "/sys/class/video4linux",
		isDevice: func(info os.FileInfo) bool {
			return info.Mode()&os.ModeCharDevice != 0
		},
	}
}

// Name returns the service name
func (d *Discovery) Name() string {
	return "camera-discovery"
}

// Start starts periodic discovery
func (d *Discovery) Start(ctx context.Context) error {
	d.GetStatus().SetStatus(service.StatusStarting)
	d.LogInfo("Starting camera discovery", "path", d.videoDevPath, "interval", d.interval)

	go d.loop()

	d.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

// Stop stops periodic discovery
func (d *Discovery) Stop(ctx context.Context) error {
	d.GetStatus().SetStatus(service.StatusStopping)
	d.LogInfo("Stopping camera discovery")

	d.cancel()
	d.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

func (d *Discovery) loop() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.Scan()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.Scan()
		}
	}
}

// Scan runs one discovery pass and returns the current devices
func (d *Discovery) Scan() []Device {
	paths, err := d.findVideoDevices()
	if err != nil {
		d.LogError("Failed to find video devices", err)
		return d.Devices()
	}

	now := time.Now()
	present := make(map[string]bool, len(paths))

	d.mu.Lock()
	for _, path := range paths {
		dev := d.probe(path)
		present[dev.ID] = true

		if existing, ok := d.devices[dev.ID]; ok {
			existing.LastSeen = now
			existing.Name, existing.Driver = dev.Name, dev.Driver
			continue
		}

		dev.DiscoveredAt, dev.LastSeen = now, now
		d.devices[dev.ID] = dev
		d.PublishEvent(service.EventTypeCameraDiscovered, map[string]interface{}{
			"camera_id":   dev.ID,
			"device_path": dev.Path,
			"name":        dev.Name,
		})
		d.LogInfo("Discovered camera", "id", dev.ID, "device", dev.Path, "name", dev.Name)
	}

	for id, dev := range d.devices {
		if present[id] {
			continue
		}
		delete(d.devices, id)
		d.PublishEvent(service.EventTypeCameraDisconnected, map[string]interface{}{
			"camera_id":   id,
			"device_path": dev.Path,
		})
		d.LogInfo("Camera disconnected", "id", id, "device", dev.Path)
	}
	d.scanned = true
	d.mu.Unlock()

	d.LogDebug("Camera discovery complete", "cameras_found", len(present))
	return d.Devices()
}

// Devices returns the known devices ordered by path
func (d *Discovery) Devices() []Device {
	d.mu.RLock()
	defer d.mu.RUnlock()

	devices := make([]Device, 0, len(d.devices))
	for _, dev := range d.devices {
		devices = append(devices, *dev)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devicePathLess(devices[i].Path, devices[j].Path)
	})
	return devices
}

// Resolve maps a facing to a device: the first device is the back camera
// and the second the front camera.
func (d *Discovery) Resolve(facing session.Facing) (Device, error) {
	d.mu.RLock()
	scanned := d.scanned
	d.mu.RUnlock()

	devices := d.Devices()
	if !scanned {
		devices = d.Scan()
	}

	idx := 0
	if facing == session.FacingFront {
		idx = 1
	}
	if idx >= len(devices) {
		return Device{}, fmt.Errorf("no %s camera among %d devices: %w", facing, len(devices), session.ErrFacingUnsupported)
	}
	return devices[idx], nil
}

// TriggerDiscovery runs a scan in the background
func (d *Discovery) TriggerDiscovery() {
	go d.Scan()
}

func (d *Discovery) findVideoDevices() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(d.videoDevPath, "video*"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob video devices: %w", err)
	}

	var devices []string
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		if d.isDevice(info) {
			devices = append(devices, match)
		}
	}
	return devices, nil
}

func (d *Discovery) probe(path string) *Device {
	base := filepath.Base(path)
	dev := &Device{
		ID:     "v4l2-" + base,
		Path:   path,
		Name:   "V4L2 Camera",
		Driver: "unknown",
	}

	if name, driver, ok := v4l2Info(path); ok {
		dev.Name, dev.Driver = name, driver
	} else if name := d.readSysfs(base, "name"); name != "" {
		dev.Name = name
	}

	dev.Vendor = d.readSysfs(base, "device/../idVendor")
	dev.Product = d.readSysfs(base, "device/../idProduct")
	return dev
}

func (d *Discovery) readSysfs(node, attr string) string {
	data, err := os.ReadFile(filepath.Join(d.sysfsRoot, node, attr))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// v4l2Info reads card type and driver name through v4l2-ctl
func v4l2Info(path string) (name, driver string, ok bool) {
	if _, err := exec.LookPath("v4l2-ctl"); err != nil {
		return "", "", false
	}
	output, err := exec.Command("v4l2-ctl", "--device", path, "--info").Output()
	if err != nil {
		return "", "", false
	}
	return parseV4L2Info(string(output))
}

func parseV4L2Info(output string) (name, driver string, ok bool) {
	for _, line := range strings.Split(output, "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), ":")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Card type":
			name = strings.TrimSpace(value)
		case "Driver name":
			driver = strings.TrimSpace(value)
		}
	}
	return name, driver, name != ""
}

// devicePathLess orders /dev/video2 before /dev/video10
func devicePathLess(a, b string) bool {
	na, nb := deviceIndex(a), deviceIndex(b)
	if na != nb {
		return na < nb
	}
	return a < b
}

func deviceIndex(path string) int {
	n := 0
	digits := strings.TrimPrefix(filepath.Base(path), "video")
	if digits == "" {
		return -1
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int(r-'0')
	}
	return n
}
