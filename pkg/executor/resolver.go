package executor

import (
	"context"

	"github.com/devicelab-dev/uxflow/pkg/core"
	"github.com/devicelab-dev/uxflow/pkg/flow"
	"github.com/devicelab-dev/uxflow/pkg/session"
)

// Resolve picks the target a step runs against: the session itself, or the
// sub-frame named by the step's iframe reference. Ordinals count sub-frames
// only, in document order.
func Resolve(ctx context.Context, s session.Session, step flow.Step) (session.Target, error) {
	ref := step.Common().Iframe
	if ref == nil {
		return s, nil
	}

	frames, err := s.Frames(ctx)
	if err != nil {
		return nil, core.ErrFrameNotFound.WithMessagef("listing frames for %s", ref).WithCause(err)
	}

	if !ref.ByName {
		if ref.Index < 0 || ref.Index >= len(frames) {
			return nil, core.ErrFrameNotFound.
				WithMessagef("%s not found (%d frames)", ref, len(frames)).
				WithDetails(map[string]interface{}{"index": ref.Index, "frames": len(frames)})
		}
		return frames[ref.Index], nil
	}

	for _, f := range frames {
		if f.Name() == ref.Name {
			return f, nil
		}
	}
	return nil, core.ErrFrameNotFound.
		WithMessagef("%s not found", ref).
		WithDetails(map[string]interface{}{"name": ref.Name})
}
