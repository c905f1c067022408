package web

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleMJPEGStream streams annotated frames as multipart JPEG
func (s *Server) handleMJPEGStream(c *gin.Context) {
	if !s.requireStream(c) {
		return
	}

	viewer, err := s.stream.Subscribe()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": fmt.Sprintf("Failed to start stream: %v", err),
		})
		return
	}
	defer s.stream.Unsubscribe(viewer)

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Pragma", "no-cache")
	c.Header("X-Accel-Buffering", "no") // Disable nginx buffering if behind proxy

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Streaming not supported",
		})
		return
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case frame, ok := <-viewer.Frames:
			if !ok {
				return false
			}
			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
			w.Write(frame)
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
			return true
		case <-viewer.Done():
			return false
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// handleSingleFrame returns the last annotated frame
func (s *Server) handleSingleFrame(c *gin.Context) {
	if !s.requireStream(c) {
		return
	}

	frame := s.stream.LastFrame()
	if frame == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No frame rendered yet",
		})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", frame)
}

// handleDetections returns the last recorded detections
func (s *Server) handleDetections(c *gin.Context) {
	if !s.requireStream(c) {
		return
	}

	detections := s.stream.LastDetections()
	if detections == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No detections yet",
		})
		return
	}

	c.JSON(http.StatusOK, detections)
}
