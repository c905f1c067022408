package session

import (
	"encoding/json"
	"testing"
)

func TestFacing(t *testing.T) {
	if FacingBack.String() != "back" || FacingFront.String() != "front" {
		t.Errorf("Unexpected names %s/%s", FacingBack, FacingFront)
	}
	if FacingBack.Opposite() != FacingFront || FacingFront.Opposite() != FacingBack {
		t.Error("Opposite should toggle facing")
	}

	f, err := ParseFacing(" Front ")
	if err != nil || f != FacingFront {
		t.Errorf("ParseFacing(front) = %v, %v", f, err)
	}
	if _, err := ParseFacing("left"); err == nil {
		t.Error("Expected error for unknown facing")
	}
}

func TestConfigJSON(t *testing.T) {
	data, err := json.Marshal(Config{ModelID: 1, BackendID: 0, Facing: FacingFront})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"model_id":1,"backend_id":0,"facing":"front"}` {
		t.Errorf("Unexpected JSON %s", data)
	}

	var cfg Config
	if err := json.Unmarshal([]byte(`{"model_id":0,"backend_id":1,"facing":"back"}`), &cfg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if cfg != (Config{ModelID: 0, BackendID: 1, Facing: FacingBack}) {
		t.Errorf("Unexpected config %+v", cfg)
	}

	if err := json.Unmarshal([]byte(`{"facing":"sideways"}`), &cfg); err == nil {
		t.Error("Expected error for unknown facing")
	}
}
