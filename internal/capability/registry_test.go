package capability

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestExecuteUnknownCommand(t *testing.T) {
	reg := NewRegistry()

	env := reg.Execute(context.Background(), "does.not.exist", nil)
	if env.OK {
		t.Fatalf("expected failure for unknown command")
	}
	if env.Error != "unknown command: does.not.exist" {
		t.Fatalf("unexpected error: %q", env.Error)
	}
}

func TestExecuteDispatchesParams(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", func(ctx context.Context, params map[string]interface{}) Envelope {
		return Ok(params["value"])
	})

	env := reg.Execute(context.Background(), "echo", map[string]interface{}{"value": "hi"})
	if !env.OK {
		t.Fatalf("expected success, got error %q", env.Error)
	}
	var got string
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if got != "hi" {
		t.Fatalf("payload mismatch: %q", got)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	reg := NewRegistry()
	reg.Register("boom", func(ctx context.Context, params map[string]interface{}) Envelope {
		panic("kaboom")
	})

	env := reg.Execute(context.Background(), "boom", nil)
	if env.OK {
		t.Fatalf("expected failure when handler panics")
	}
	if env.Error == "" {
		t.Fatalf("expected panic to be converted into the error field")
	}
}

func TestCommandsSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("b", func(ctx context.Context, params map[string]interface{}) Envelope { return Ok(nil) })
	reg.Register("a", func(ctx context.Context, params map[string]interface{}) Envelope { return Ok(nil) })

	cmds := reg.Commands()
	if len(cmds) != 2 || cmds[0] != "a" || cmds[1] != "b" {
		t.Fatalf("unexpected commands: %v", cmds)
	}
}

type fakeInfo struct{}

func (fakeInfo) DeviceInfo() DeviceInfo {
	return DeviceInfo{DeviceID: "d1", Name: "Test", Platform: "linux", Family: "desktop"}
}

type fakeLocation struct{ err error }

func (f fakeLocation) CurrentLocation(ctx context.Context) (Location, error) {
	if f.err != nil {
		return Location{}, f.err
	}
	return Location{Latitude: 1.5, Longitude: 2.5}, nil
}

func TestRegisterDeviceHandlers(t *testing.T) {
	reg := NewRegistry()
	RegisterDeviceHandlers(reg, fakeInfo{}, nil, fakeLocation{}, nil)

	cmds := reg.Commands()
	if len(cmds) != 2 || cmds[0] != "device.info" || cmds[1] != "device.location" {
		t.Fatalf("expected only supported commands registered, got %v", cmds)
	}

	env := reg.Execute(context.Background(), "device.info", nil)
	if !env.OK {
		t.Fatalf("device.info failed: %q", env.Error)
	}
	var info DeviceInfo
	if err := json.Unmarshal(env.Payload, &info); err != nil {
		t.Fatalf("failed to decode info: %v", err)
	}
	if info.DeviceID != "d1" || info.Family != "desktop" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestDeviceHandlerErrorsStayInEnvelope(t *testing.T) {
	reg := NewRegistry()
	RegisterDeviceHandlers(reg, fakeInfo{}, nil, fakeLocation{err: errors.New("gps off")}, nil)

	env := reg.Execute(context.Background(), "device.location", nil)
	if env.OK {
		t.Fatalf("expected failure envelope")
	}
	if env.Error != "location unavailable: gps off" {
		t.Fatalf("unexpected error: %q", env.Error)
	}
}
