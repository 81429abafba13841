// Package cli implements the stockctl commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
)

// Exit codes shared by commands.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitMismatch = 10
)

// StockOps is the service surface the commands drive.
type StockOps interface {
	Refresh(ctx context.Context, concurrent bool) (inventory.RefreshRecord, error)
	GetSnapshots(ctx context.Context, ids ...int64) ([]inventory.Snapshot, error)
	Reconcile(ctx context.Context, productID int64) (inventory.Reconciliation, error)
}

// Output selects where and how commands print.
type Output struct {
	JSON   bool
	Stdout io.Writer
	Stderr io.Writer
}

func (o Output) withDefaults() Output {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o
}

func (o Output) fail(cmd string, err error) int {
	_, _ = fmt.Fprintf(o.Stderr, "%s: %v\n", cmd, err)
	return ExitError
}

func (o Output) encode(cmd string, v any) int {
	enc := json.NewEncoder(o.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return o.fail(cmd, fmt.Errorf("encode json: %w", err))
	}
	return ExitOK
}

// StockCLI runs snapshot commands against a StockOps.
type StockCLI struct {
	ops StockOps
}

// NewStockCLI constructs the command set.
func NewStockCLI(ops StockOps) (*StockCLI, error) {
	if ops == nil {
		return nil, errors.New("stockctl: stock service required")
	}
	return &StockCLI{ops: ops}, nil
}

// RefreshCommand rebuilds the snapshot and prints the refresh record.
func (c *StockCLI) RefreshCommand(ctx context.Context, concurrent bool, out Output) int {
	out = out.withDefaults()
	rec, err := c.ops.Refresh(ctx, concurrent)
	if err != nil {
		return out.fail("refresh", err)
	}
	if out.JSON {
		return out.encode("refresh", rec)
	}
	mode := "blocking"
	if rec.Concurrent {
		mode = "concurrent"
	}
	_, _ = fmt.Fprintf(out.Stdout, "refreshed product_stock_snapshot (%s): %d rows in %s\n",
		mode, rec.RowCount, rec.FinishedAt.Sub(rec.StartedAt))
	return ExitOK
}

// SnapshotCommand prints the snapshot of each product.
func (c *StockCLI) SnapshotCommand(ctx context.Context, ids []int64, out Output) int {
	out = out.withDefaults()
	if len(ids) == 0 {
		return out.fail("snapshot", errors.New("at least one product id is required"))
	}
	snaps, err := c.ops.GetSnapshots(ctx, ids...)
	if err != nil {
		return out.fail("snapshot", err)
	}
	if out.JSON {
		return out.encode("snapshot", snaps)
	}
	RenderSnapshots(out.Stdout, snaps)
	return ExitOK
}

// ReconcileCommand compares the replayed ledger with the snapshot. It exits
// with ExitMismatch when they disagree.
func (c *StockCLI) ReconcileCommand(ctx context.Context, productID int64, out Output) int {
	out = out.withDefaults()
	if productID <= 0 {
		return out.fail("reconcile", errors.New("product id must be positive"))
	}
	rec, err := c.ops.Reconcile(ctx, productID)
	if err != nil {
		return out.fail("reconcile", err)
	}
	code := ExitOK
	if !rec.InSync() {
		code = ExitMismatch
	}
	if out.JSON {
		if res := out.encode("reconcile", rec); res != ExitOK {
			return res
		}
		return code
	}
	renderReconciliation(out.Stdout, rec)
	return code
}

// RenderSnapshots prints snapshots as aligned tables.
func RenderSnapshots(w io.Writer, snaps []inventory.Snapshot) {
	for i, snap := range snaps {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		_, _ = fmt.Fprintf(w, "product %d total %s\n", snap.ProductID, snap.TotalQty.StringFixed(inventory.QuantityScale))
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		if len(snap.ByLocation) > 0 {
			_, _ = fmt.Fprintln(tw, "  LOCATION\tNAME\tQTY")
			for _, l := range snap.ByLocation {
				_, _ = fmt.Fprintf(tw, "  %d\t%s\t%s\n", l.LocationID, l.LocationName, l.Qty.StringFixed(inventory.QuantityScale))
			}
		}
		if len(snap.ByBatch) > 0 {
			_, _ = fmt.Fprintln(tw, "  BATCH\tNAME\tQTY")
			for _, b := range snap.ByBatch {
				_, _ = fmt.Fprintf(tw, "  %d\t%s\t%s\n", b.BatchID, b.Name, b.Qty.StringFixed(inventory.QuantityScale))
			}
		}
		_ = tw.Flush()
	}
}

func renderReconciliation(w io.Writer, rec inventory.Reconciliation) {
	if !rec.Tracked {
		_, _ = fmt.Fprintf(w, "product %d does not track stock\n", rec.ProductID)
		return
	}
	_, _ = fmt.Fprintf(w, "product %d replayed total %s, snapshot total %s\n", rec.ProductID,
		rec.ReplayedTotal.StringFixed(inventory.QuantityScale), rec.MaterializedTotal.StringFixed(inventory.QuantityScale))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "  MOVEMENT\tTYPE\tRULE\tLOCATION\tQTY")
	for _, c := range rec.Contributions {
		_, _ = fmt.Fprintf(tw, "  %d\t%s\t%s\t%d\t%s\n", c.MovementID, c.MovementType, c.Rule, c.LocationID, c.Qty.String())
	}
	_ = tw.Flush()
	if rec.InSync() {
		_, _ = fmt.Fprintln(w, "in sync")
		return
	}
	_, _ = fmt.Fprintf(w, "%d discrepancy(ies):\n", len(rec.Discrepancies))
	for _, d := range rec.Discrepancies {
		_, _ = fmt.Fprintf(w, " - location %d %s: replayed %s, snapshot %s (delta %s)\n",
			d.LocationID, d.LocationName, d.Replayed.String(), d.Materialized.String(), d.Delta.String())
	}
}
