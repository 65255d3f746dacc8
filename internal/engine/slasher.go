package engine

import "context"

// SlashReport names the validators who voted against a finalized outcome.
type SlashReport struct {
	DomainID   string
	CycleID    int64
	Outcome    string
	Dissenters []string
}

// Slasher penalizes dissenting validators. The engine ships without one; a
// configured Slasher is called after the finalizing transaction commits and its
// errors are logged only.
type Slasher interface {
	Slash(ctx context.Context, r SlashReport) error
}

func (e Engine) slash(ctx context.Context, r SlashReport) {
	if e.Slasher == nil || len(r.Dissenters) == 0 {
		return
	}
	if err := e.Slasher.Slash(ctx, r); err != nil {
		e.logger().WarnContext(ctx, "slash failed", "domain", r.DomainID, "cycle", r.CycleID, "err", err)
	}
}
