package lpr

import (
	"context"
	"log"
)

// Hooks is the thin surface the CRUD layer calls after committing a write.
// Hooks always run post-commit and never inside a DB transaction: a failed
// hook must not poison the record, so every method only logs and returns
// the error for the caller to treat as advisory.
type Hooks struct {
	Pool *Pool
}

func (h *Hooks) LPRCreated(ctx context.Context, deviceID int64) error {
	if err := h.Pool.Add(ctx, deviceID); err != nil {
		log.Printf("[ERROR] Hook: add connection for LPR %d: %v", deviceID, err)
		return err
	}
	return nil
}

func (h *Hooks) LPRUpdated(ctx context.Context, deviceID int64) error {
	if err := h.Pool.Update(ctx, deviceID); err != nil {
		log.Printf("[ERROR] Hook: update connection for LPR %d: %v", deviceID, err)
		return err
	}
	return nil
}

func (h *Hooks) LPRDeleted(ctx context.Context, deviceID int64) error {
	if err := h.Pool.Remove(ctx, deviceID); err != nil {
		log.Printf("[ERROR] Hook: remove connection for LPR %d: %v", deviceID, err)
		return err
	}
	return nil
}

func (h *Hooks) LPRToggled(ctx context.Context, deviceID int64, active bool) error {
	if err := h.Pool.ToggleActive(ctx, deviceID, active); err != nil {
		log.Printf("[ERROR] Hook: toggle connection for LPR %d: %v", deviceID, err)
		return err
	}
	return nil
}

// CamerasChanged triggers a hot reconfigure for every device affected by a
// camera mutation (create, delete, lpr_ids or settings change).
func (h *Hooks) CamerasChanged(ctx context.Context, deviceIDs ...int64) error {
	var firstErr error
	for _, id := range deviceIDs {
		if err := h.Pool.Update(ctx, id); err != nil {
			log.Printf("[ERROR] Hook: reconfigure LPR %d after camera change: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SettingsChanged triggers a hot reconfigure after a device or camera
// setting entry mutation.
func (h *Hooks) SettingsChanged(ctx context.Context, deviceIDs ...int64) error {
	return h.CamerasChanged(ctx, deviceIDs...)
}
