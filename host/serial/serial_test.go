package serial

import (
	"errors"
	"io"
	"testing"
)

func TestTimeoutAsEmpty(t *testing.T) {
	if err := timeoutAsEmpty(0, io.EOF); err != nil {
		t.Errorf("timeout read returned %v", err)
	}
	if err := timeoutAsEmpty(3, io.EOF); err != io.EOF {
		t.Errorf("partial read with EOF returned %v", err)
	}
	boom := errors.New("device gone")
	if err := timeoutAsEmpty(0, boom); err != boom {
		t.Errorf("read error returned %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyACM0")
	if cfg.Baud != DefaultBaud || cfg.ReadTimeout != 100 {
		t.Errorf("DefaultConfig = %+v", cfg)
	}
}

func TestOpenNilConfig(t *testing.T) {
	if _, err := Open(nil); err == nil {
		t.Error("expected error for nil config")
	}
}
