package scanner_test

import (
	"context"
	"errors"
	"testing"

	"checkin-go/internal/camera"
	"checkin-go/internal/scanner"
	"checkin-go/internal/testutil"
)

func TestTorchController(t *testing.T) {
	ctx := context.Background()
	torch := scanner.NewTorchController(scanner.NewNopLogger())

	acquire := func(t *testing.T, capable bool) (*scanner.SessionHandle, *camera.MemoryCamera) {
		t.Helper()
		cam := testutil.NewTestCamera(func(o *camera.MemoryOptions) { o.TorchCapable = capable })
		h, err := scanner.NewCameraSession(cam, scanner.NewNopLogger()).Acquire(ctx, scanner.FacingRear)
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		t.Cleanup(func() { h.Release() })
		return h, cam
	}

	t.Run("toggles on and off", func(t *testing.T) {
		h, cam := acquire(t, true)

		if !torch.IsAvailable(h) {
			t.Fatal("IsAvailable() = false, want true")
		}
		for _, want := range []bool{true, false, true} {
			on, err := torch.Toggle(h)
			if err != nil {
				t.Fatalf("Toggle() error = %v", err)
			}
			if on != want || cam.TorchOn() != want || h.TorchOn() != want {
				t.Errorf("Toggle() = %v, camera %v, handle %v, want %v", on, cam.TorchOn(), h.TorchOn(), want)
			}
		}
	})

	t.Run("unsupported track", func(t *testing.T) {
		h, _ := acquire(t, false)

		if torch.IsAvailable(h) {
			t.Error("IsAvailable() = true, want false")
		}
		if _, err := torch.Toggle(h); !errors.Is(err, scanner.ErrTorchUnsupported) {
			t.Errorf("Toggle() error = %v, want ErrTorchUnsupported", err)
		}
	})

	t.Run("capability lost mid-session", func(t *testing.T) {
		h, cam := acquire(t, true)
		cam.LastStream().Track().SetTorchSupported(false)

		_, err := torch.Toggle(h)
		if !errors.Is(err, scanner.ErrTorchUnsupported) {
			t.Errorf("Toggle() error = %v, want ErrTorchUnsupported", err)
		}
		if torch.IsAvailable(h) {
			t.Error("IsAvailable() still true after capability loss")
		}
	})

	t.Run("apply failure keeps previous state", func(t *testing.T) {
		h, cam := acquire(t, true)
		applyErr := errors.New("constraint rejected")
		cam.LastStream().Track().FailApply(applyErr)

		on, err := torch.Toggle(h)
		var te *scanner.TorchError
		if !errors.As(err, &te) || te.Unsupported {
			t.Fatalf("Toggle() error = %v, want non-unsupported *TorchError", err)
		}
		if !errors.Is(err, applyErr) {
			t.Errorf("Toggle() error does not wrap %v", applyErr)
		}
		if on || h.TorchOn() {
			t.Error("torch reported on after failed apply")
		}
	})

	t.Run("released handle", func(t *testing.T) {
		h, _ := acquire(t, true)
		h.Release()

		if torch.IsAvailable(h) {
			t.Error("IsAvailable() = true after release")
		}
		if _, err := torch.Toggle(h); !errors.Is(err, scanner.ErrTorchUnsupported) {
			t.Errorf("Toggle() error = %v, want ErrTorchUnsupported", err)
		}
		if torch.IsAvailable(nil) {
			t.Error("IsAvailable(nil) = true")
		}
	})
}
