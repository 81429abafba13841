package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
)

// ReplayOptions configures an offline ledger replay.
type ReplayOptions struct {
	// Path of a JSON inventory.Dataset; "-" reads stdin.
	Path       string
	ProductIDs []int64
	Reconcile  bool
	Output
}

// ReplayCommand loads a ledger export into memory, materializes it the same
// way the database view does, and prints the resulting snapshots.
func ReplayCommand(ctx context.Context, opts ReplayOptions) int {
	out := opts.Output.withDefaults()
	ds, err := readDataset(opts.Path)
	if err != nil {
		return out.fail("replay", err)
	}
	store := inventory.NewMemoryStore()
	if err := store.Load(ctx, ds); err != nil {
		return out.fail("replay", err)
	}
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{})
	if _, err := svc.Refresh(ctx, false); err != nil {
		return out.fail("replay", err)
	}

	ids := opts.ProductIDs
	if len(ids) == 0 {
		for _, p := range ds.Products {
			ids = append(ids, p.ID)
		}
	}
	if opts.Reconcile {
		stock, err := NewStockCLI(svc)
		if err != nil {
			return out.fail("replay", err)
		}
		code := ExitOK
		for _, id := range ids {
			if res := stock.ReconcileCommand(ctx, id, out); res > code {
				code = res
			}
		}
		return code
	}
	snaps, err := svc.GetSnapshots(ctx, ids...)
	if err != nil {
		return out.fail("replay", err)
	}
	if out.JSON {
		return out.encode("replay", snaps)
	}
	RenderSnapshots(out.Stdout, snaps)
	return ExitOK
}

func readDataset(path string) (inventory.Dataset, error) {
	var r io.Reader
	switch path {
	case "":
		return inventory.Dataset{}, fmt.Errorf("dataset path is required")
	case "-":
		r = os.Stdin
	default:
		f, err := os.Open(path)
		if err != nil {
			return inventory.Dataset{}, err
		}
		defer f.Close()
		r = f
	}
	var ds inventory.Dataset
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ds); err != nil {
		return inventory.Dataset{}, fmt.Errorf("decode dataset: %w", err)
	}
	return ds, nil
}
