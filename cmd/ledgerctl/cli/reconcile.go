package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/odyssey-erp/hardware-ledger/internal/ledger"
)

// Reconciler is the ledger surface the reconcile command needs.
type Reconciler interface {
	Reconcile(ctx context.Context, ref ledger.EntityRef) (ledger.Reconciliation, error)
	ReconcileAll(ctx context.Context) (ledger.Report, error)
}

// ReconcileOptions defines available flags for the reconcile command.
type ReconcileOptions struct {
	Ref        string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileSummary is the JSON output of the reconcile command.
type ReconcileSummary struct {
	OK      bool               `json:"ok"`
	Checked int                `json:"checked"`
	Drifted []ReconcileDrifted `json:"drifted"`
}

// ReconcileDrifted describes one entity out of sync.
type ReconcileDrifted struct {
	EntityRef  string `json:"entity_ref"`
	Projected  string `json:"projected"`
	Recomputed string `json:"recomputed"`
	Drift      string `json:"drift"`
}

// LedgerCLI offers operational helpers around the balance ledger.
type LedgerCLI struct {
	ledger Reconciler
}

// NewLedgerCLI constructs a new helper instance.
func NewLedgerCLI(r Reconciler) *LedgerCLI {
	return &LedgerCLI{ledger: r}
}

// ReconcileCommand compares projections with their movement sums and prints
// the outcome. It exits 10 when drift is found.
func (c *LedgerCLI) ReconcileCommand(ctx context.Context, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	var report ledger.Report
	if opts.Ref != "" {
		ref, err := ledger.ParseEntityRef(opts.Ref)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
			return 1
		}
		rec, err := c.ledger.Reconcile(ctx, ref)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
			return 1
		}
		report.Checked = 1
		if !rec.InSync() {
			report.Drifted = []ledger.Reconciliation{rec}
		}
	} else {
		var err error
		if report, err = c.ledger.ReconcileAll(ctx); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
			return 1
		}
	}

	summary := buildReconcileSummary(report)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: encode json: %v\n", err)
			return 1
		}
	} else {
		renderReconcileHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func buildReconcileSummary(report ledger.Report) ReconcileSummary {
	drifted := make([]ReconcileDrifted, 0, len(report.Drifted))
	for _, rec := range report.Drifted {
		drifted = append(drifted, ReconcileDrifted{
			EntityRef:  rec.EntityRef.String(),
			Projected:  rec.Projected.String(),
			Recomputed: rec.Recomputed.String(),
			Drift:      rec.Drift.String(),
		})
	}
	sort.Slice(drifted, func(i, j int) bool { return drifted[i].EntityRef < drifted[j].EntityRef })
	return ReconcileSummary{OK: len(drifted) == 0, Checked: report.Checked, Drifted: drifted}
}

func renderReconcileHuman(w io.Writer, summary ReconcileSummary) {
	if summary.OK {
		_, _ = fmt.Fprintf(w, "ledger in sync: %d entities checked\n", summary.Checked)
		return
	}
	_, _ = fmt.Fprintf(w, "ledger drift: %d of %d entities out of sync\n", len(summary.Drifted), summary.Checked)
	for _, d := range summary.Drifted {
		_, _ = fmt.Fprintf(w, "  %s projected=%s recomputed=%s drift=%s\n", d.EntityRef, d.Projected, d.Recomputed, d.Drift)
	}
}
