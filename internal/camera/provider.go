package camera

import (
	"fmt"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

// SourceStatus describes how a facing is served
type SourceStatus struct {
	Facing string `json:"facing"`
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Provider maps camera facings to configured sources
type Provider struct {
	cfg       config.CameraConfig
	ffmpeg    *FFmpeg
	discovery *Discovery
	logger    *logger.Logger
}

// NewProvider creates a camera provider. ffmpeg may be nil when no V4L2
// source is configured; discovery may be nil when no source uses "auto".
func NewProvider(cfg config.CameraConfig, ffmpeg *FFmpeg, discovery *Discovery, log *logger.Logger) *Provider {
	return &Provider{
		cfg:       cfg,
		ffmpeg:    ffmpeg,
		discovery: discovery,
		logger:    log,
	}
}

// NewSession creates a capture session resolving sources through p
func (p *Provider) NewSession() session.CameraSession {
	return NewSession(p.Source, p.logger)
}

// Source builds the source serving facing
func (p *Provider) Source(facing session.Facing) (Source, error) {
	src := p.sourceConfig(facing)

	switch src.Type {
	case "":
		return nil, fmt.Errorf("no %s camera configured: %w", facing, session.ErrFacingUnsupported)
	case "v4l2":
		device, err := p.resolveDevice(facing, src.Device)
		if err != nil {
			return nil, err
		}
		return NewV4L2Source(device, p.cfg.Capture, p.ffmpeg, p.logger), nil
	case "rtsp":
		return NewRTSPSource(src.URL, src.Username, src.Password, p.cfg.RTSP.Timeout, p.logger), nil
	default:
		return nil, fmt.Errorf("unknown source type %q: %w", src.Type, session.ErrFacingUnsupported)
	}
}

// Status reports the source for each facing
func (p *Provider) Status() []SourceStatus {
	facings := []session.Facing{session.FacingBack, session.FacingFront}
	statuses := make([]SourceStatus, 0, len(facings))

	for _, facing := range facings {
		src := p.sourceConfig(facing)
		status := SourceStatus{Facing: facing.String(), Type: src.Type}

		switch src.Type {
		case "":
			status.Error = "not configured"
		case "v4l2":
			device, err := p.resolveDevice(facing, src.Device)
			if err != nil {
				status.Error = err.Error()
			}
			status.Target = device
		case "rtsp":
			status.Target = NewRTSPSource(src.URL, "", "", 0, p.logger).Name()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Devices returns discovered V4L2 devices. rescan runs a discovery pass
// first.
func (p *Provider) Devices(rescan bool) []Device {
	if p.discovery == nil {
		return []Device{}
	}
	if rescan {
		return p.discovery.Scan()
	}
	return p.discovery.Devices()
}

// Discovery returns the discovery service, if any
func (p *Provider) Discovery() *Discovery {
	return p.discovery
}

// FFmpeg returns the ffmpeg wrapper, if any
func (p *Provider) FFmpeg() *FFmpeg {
	return p.ffmpeg
}

func (p *Provider) sourceConfig(facing session.Facing) config.SourceConfig {
	if facing == session.FacingFront {
		return p.cfg.Sources.Front
	}
	return p.cfg.Sources.Back
}

func (p *Provider) resolveDevice(facing session.Facing, device string) (string, error) {
	if device != "auto" {
		return device, nil
	}
	if p.discovery == nil {
		return "", fmt.Errorf("device discovery disabled, cannot resolve %s camera: %w", facing, session.ErrFacingUnsupported)
	}
	dev, err := p.discovery.Resolve(facing)
	if err != nil {
		return "", err
	}
	return dev.Path, nil
}
