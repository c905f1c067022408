// Command probe-camera lists capture devices, grabs frames from one facing
// and optionally runs them through the inference service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/camera"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/inference"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/surface"
)

func main() {
	var (
		configPath string
		facingName string
		frames     int
		infer      bool
		modelID    int
		backendID  int
		outDir     string
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&facingName, "facing", "back", "Camera facing to open (back or front)")
	flag.IntVar(&frames, "frames", 5, "Number of frames to capture")
	flag.BoolVar(&infer, "infer", false, "Run captured frames through the inference service")
	flag.IntVar(&modelID, "model", 0, "Model id used with -infer")
	flag.IntVar(&backendID, "backend", 0, "Backend id used with -infer")
	flag.StringVar(&outDir, "out", "", "Directory to write captured (annotated) JPEG frames to")
	flag.Parse()

	fmt.Println("=== Camera Probe ===")
	fmt.Println()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config, using defaults: %v\n", err)
		cfg = config.Default()
	}

	log, err := logger.New(logger.LogConfig{Level: "info", Format: "text"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	facing, err := session.ParseFacing(facingName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	ffmpeg, err := camera.NewFFmpeg(cfg.Camera.Capture.FFmpegPath, log)
	if err != nil {
		fmt.Printf("⚠️  %v (V4L2 capture unavailable)\n", err)
		ffmpeg = nil
	}
	discovery := camera.NewDiscovery(time.Minute, cfg.Camera.Discovery.VideoDevPath, log)
	provider := camera.NewProvider(cfg.Camera, ffmpeg, discovery, log)

	devices := provider.Devices(true)
	fmt.Printf("Found %d V4L2 device(s)\n", len(devices))
	for i, dev := range devices {
		fmt.Printf("  [%d] %-14s %-14s %s (%s)\n", i, dev.ID, dev.Path, dev.Name, dev.Driver)
	}
	fmt.Println()
	for _, st := range provider.Status() {
		if st.Error != "" {
			fmt.Printf("  %-5s %-5s ❌ %s\n", st.Facing, st.Type, st.Error)
			continue
		}
		fmt.Printf("  %-5s %-5s ✅ %s\n", st.Facing, st.Type, st.Target)
	}
	fmt.Println()

	var ictx session.InferenceContext
	if infer {
		client := inference.NewClient(inference.ClientConfig{
			ServiceURL: cfg.Inference.ServiceURL,
			Timeout:    cfg.Inference.Timeout,
		}, log)
		factory := inference.NewFactory(client, inference.NewRegistry(cfg.Inference), inference.Options{
			ConfidenceThreshold: cfg.Inference.ConfidenceThreshold,
			EnabledClasses:      cfg.Inference.EnabledClasses,
		}, log)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Inference.Timeout)
		ictx, err = factory.Build(ctx, session.Config{ModelID: modelID, BackendID: backendID, Facing: facing})
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ Failed to build inference context: %v\n", err)
			os.Exit(1)
		}
		defer ictx.Close()
		fmt.Println("✅ Inference context ready")
	}

	if outDir != "" {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
			os.Exit(1)
		}
	}

	captured := make(chan session.Frame, frames)
	cam := provider.NewSession()

	openCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err = cam.Open(openCtx, facing, func(frame session.Frame) {
		select {
		case captured <- frame:
		default:
		}
	})
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to open %s camera: %v\n", facing, err)
		os.Exit(1)
	}
	defer cam.Close()

	timeout := time.After(30 * time.Second)
	for i := 0; i < frames; i++ {
		var frame session.Frame
		select {
		case frame = <-captured:
		case <-timeout:
			fmt.Fprintf(os.Stderr, "❌ Timed out after %d frame(s)\n", i)
			cam.Close()
			os.Exit(1)
		}

		fmt.Printf("[Frame %d] %s %dx%d %d bytes\n", frame.Sequence, frame.Format, frame.Width, frame.Height, len(frame.Data))
		data := frame.Data

		if ictx != nil {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Session.SubmitTimeout)
			result, err := ictx.Submit(ctx, frame)
			cancel()
			if err != nil {
				fmt.Printf("  ❌ Inference failed: %v\n", err)
				continue
			}
			fmt.Printf("  %d detection(s) in %v\n", len(result.Detections), result.InferenceTime)
			for _, d := range result.Detections {
				fmt.Printf("    %-12s %.2f [%.0f,%.0f,%.0f,%.0f]\n", d.ClassName, d.Confidence, d.X1, d.Y1, d.X2, d.Y2)
			}
			if frame.Format == session.FormatJPEG {
				if annotated, err := surface.Annotate(frame.Data, result.Detections, cfg.Web.StreamQuality); err == nil {
					data = annotated
				}
			}
		}

		if outDir != "" && frame.Format == session.FormatJPEG {
			path := filepath.Join(outDir, fmt.Sprintf("frame-%04d.jpg", frame.Sequence))
			if err := os.WriteFile(path, data, 0644); err != nil {
				fmt.Printf("  ❌ Failed to write %s: %v\n", path, err)
			}
		}
	}

	fmt.Println()
	fmt.Printf("✅ Captured %d frame(s) from the %s camera\n", frames, facing)
}
