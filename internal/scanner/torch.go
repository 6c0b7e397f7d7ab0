package scanner

// TorchController flips the camera illumination on an active session.
// Torch-off on release is enforced by SessionHandle.Release.
type TorchController struct {
	logger Logger
}

func NewTorchController(logger Logger) *TorchController {
	return &TorchController{logger: logger}
}

// IsAvailable reports whether the handle's track supports the torch.
func (t *TorchController) IsAvailable(h *SessionHandle) bool {
	if h == nil {
		return false
	}
	return h.TorchCapable()
}

// Toggle flips the torch and returns the new state. A *TorchError with
// Unsupported set means the capability is gone; callers should hide the
// torch affordance and keep scanning.
func (t *TorchController) Toggle(h *SessionHandle) (bool, error) {
	if h == nil {
		return false, &TorchError{Unsupported: true}
	}
	on, err := h.toggleTorch()
	if err != nil {
		t.logger.Warn("torch toggle failed", "error", err)
		return on, err
	}
	t.logger.Debug("torch toggled", "on", on)
	return on, nil
}
