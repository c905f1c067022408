package camera

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/bluenviron/gortsplib/v4/pkg/liberrors"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/pion/rtp"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

// RTSPSource reads H.264 access units from an RTSP stream
type RTSPSource struct {
	url      string
	username string
	password string
	timeout  time.Duration
	logger   *logger.Logger

	mu     sync.Mutex
	client *gortsplib.Client
	done   chan struct{}
}

// NewRTSPSource creates an RTSP source
func NewRTSPSource(rawURL, username, password string, timeout time.Duration, log *logger.Logger) *RTSPSource {
	return &RTSPSource{
		url:      rawURL,
		username: username,
		password: password,
		timeout:  timeout,
		logger:   log,
	}
}

// Name identifies the source in logs without credentials
func (s *RTSPSource) Name() string {
	if u, err := url.Parse(s.url); err == nil {
		u.User = nil
		return "rtsp:" + u.String()
	}
	return "rtsp"
}

// Start connects, sets up the H.264 track and starts playing
func (s *RTSPSource) Start(ctx context.Context, emit func(session.Frame)) error {
	u, err := base.ParseURL(s.url)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	if s.username != "" && s.password != "" && u.User == nil {
		u.User = url.UserPassword(s.username, s.password)
	}

	client := &gortsplib.Client{
		ReadTimeout:  s.timeout,
		WriteTimeout: s.timeout,
	}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	// ctx only bounds the handshake
	stop := context.AfterFunc(ctx, client.Close)
	defer stop()

	if err := s.setup(client, u, emit); err != nil {
		client.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.client, s.done = client, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := client.Wait(); err != nil {
			s.logger.Debug("RTSP stream ended", "source", s.Name(), "error", err)
		}
	}()

	s.logger.Info("RTSP stream connected", "source", s.Name())
	return nil
}

func (s *RTSPSource) setup(client *gortsplib.Client, u *base.URL, emit func(session.Frame)) error {
	desc, _, err := client.Describe(u)
	if err != nil {
		return classifyRTSPError("describe", err)
	}

	var h264Format *format.H264
	var h264Media *description.Media
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			if h, ok := forma.(*format.H264); ok {
				h264Format = h
				h264Media = media
				break
			}
		}
		if h264Format != nil {
			break
		}
	}
	if h264Format == nil {
		return fmt.Errorf("H.264 format not found in stream: %w", session.ErrFacingUnsupported)
	}

	if err := client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		return classifyRTSPError("setup", err)
	}

	decoder := &rtph264.Decoder{}
	if err := decoder.Init(); err != nil {
		return fmt.Errorf("failed to init decoder: %w", err)
	}

	width, height := spsSize(h264Format.SPS)

	client.OnPacketRTP(h264Media, h264Format, func(pkt *rtp.Packet) {
		au, err := decoder.Decode(pkt)
		if err != nil {
			if !errors.Is(err, rtph264.ErrMorePacketsNeeded) && !errors.Is(err, rtph264.ErrNonStartingPacketAndNoPrevious) {
				s.logger.Debug("Failed to decode packet", "error", err)
			}
			return
		}

		if h264.IDRPresent(au) && h264Format.SPS != nil && h264Format.PPS != nil {
			au = append([][]byte{h264Format.SPS, h264Format.PPS}, au...)
			if width == 0 {
				width, height = spsSize(h264Format.SPS)
			}
		}

		data, err := h264.AnnexBMarshal(au)
		if err != nil {
			s.logger.Debug("Failed to encode access unit", "error", err)
			return
		}

		emit(session.Frame{
			Data:      data,
			Format:    session.FormatH264,
			Width:     width,
			Height:    height,
			Timestamp: time.Now(),
		})
	})

	if _, err := client.Play(nil); err != nil {
		return classifyRTSPError("play", err)
	}
	return nil
}

// Stop closes the client and waits for it to terminate
func (s *RTSPSource) Stop() error {
	s.mu.Lock()
	client, done := s.client, s.done
	s.client, s.done = nil, nil
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	client.Close()
	<-done
	return nil
}

func spsSize(raw []byte) (int, int) {
	if raw == nil {
		return 0, 0
	}
	var sps h264.SPS
	if err := sps.Unmarshal(raw); err != nil {
		return 0, 0
	}
	return sps.Width(), sps.Height()
}

// classifyRTSPError maps RTSP status codes to the camera sentinels. A 401
// the client cannot answer with the configured credentials counts as denied.
func classifyRTSPError(step string, err error) error {
	var authSetup liberrors.ErrClientAuthSetup
	if errors.As(err, &authSetup) {
		return fmt.Errorf("%s: %w: %w", step, session.ErrPermissionDenied, err)
	}

	var bad liberrors.ErrClientBadStatusCode
	if errors.As(err, &bad) {
		switch bad.Code {
		case base.StatusUnauthorized, base.StatusForbidden:
			return fmt.Errorf("%s: %w: %w", step, session.ErrPermissionDenied, err)
		case base.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", step, session.ErrFacingUnsupported, err)
		case base.StatusServiceUnavailable:
			return fmt.Errorf("%s: %w: %w", step, session.ErrDeviceBusy, err)
		}
	}
	return fmt.Errorf("failed to %s stream: %w", step, err)
}
