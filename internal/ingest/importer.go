package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

// ErrInvalidBatch indicates a request rejected as a whole.
var ErrInvalidBatch = errors.New("ingest: invalid batch")

// LedgerWriter appends ledger rows.
type LedgerWriter interface {
	UpsertMovement(ctx context.Context, m inventory.Movement) (inventory.Movement, error)
	WriteMovementLine(ctx context.Context, line inventory.MovementLine) (inventory.LineWriteResult, error)
}

// BatchRepairer resolves the placeholder batch for a product.
type BatchRepairer interface {
	GetOrCreateRegenBatch(ctx context.Context, productID int64) (inventory.Batch, error)
}

// Refresher rebuilds the stock snapshot.
type Refresher interface {
	Refresh(ctx context.Context, concurrent bool) (inventory.RefreshRecord, error)
}

// Importer writes ledger batches.
type Importer struct {
	writer    LedgerWriter
	repairer  BatchRepairer
	refresher Refresher
	validate  *validator.Validate
	metrics   *jobmetrics.Metrics
	logger    *slog.Logger
	newRunID  func() uuid.UUID
}

// Config groups optional importer collaborators.
type Config struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewImporter constructs an Importer. refresher may be nil when callers never
// request a refresh.
func NewImporter(writer LedgerWriter, repairer BatchRepairer, refresher Refresher, cfg Config) *Importer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		writer:    writer,
		repairer:  repairer,
		refresher: refresher,
		validate:  validator.New(),
		metrics:   cfg.Metrics,
		logger:    logger.With(slog.String("component", "ingest")),
		newRunID:  uuid.New,
	}
}

// Import writes headers then lines, and refreshes the snapshot when asked.
// Row failures are collected in the report; the returned error is reserved
// for a rejected batch, cancellation, or a failed refresh.
func (im *Importer) Import(ctx context.Context, batch Batch) (Report, error) {
	report := Report{RunID: im.newRunID(), Errors: []RowError{}}
	if err := im.validate.Struct(batch); err != nil {
		return report, fmt.Errorf("%w: %s", ErrInvalidBatch, describe(err))
	}
	logger := im.logger.With(slog.String("run_id", report.RunID.String()))

	movementIDs, movementErrs, err := im.ImportMovements(ctx, batch.Movements)
	report.Errors = append(report.Errors, movementErrs...)
	for _, id := range movementIDs {
		if id != 0 {
			report.Movements++
		}
	}
	if err != nil {
		return report, err
	}

	lines, positions := im.resolveLines(batch.Lines, movementIDs, &report)
	res, err := im.ImportLines(ctx, lines)
	report.Lines, report.Repaired = res.Written, res.Repaired
	for _, rowErr := range res.Errors {
		rowErr.Index = positions[rowErr.Index]
		report.Errors = append(report.Errors, rowErr)
	}
	if err != nil {
		return report, err
	}

	logger.Info("ledger imported",
		slog.Int("movements", report.Movements),
		slog.Int("lines", report.Lines),
		slog.Int("repaired", report.Repaired),
		slog.Int("errors", len(report.Errors)))

	if batch.Refresh {
		if im.refresher == nil {
			return report, errors.New("ingest: refresh requested but no refresher configured")
		}
		rec, err := im.refresher.Refresh(ctx, batch.Concurrent)
		if err != nil {
			logger.Error("refresh after import", slog.Any("error", err))
			return report, err
		}
		report.Refreshed = &rec
	}
	return report, nil
}

// ImportMovements upserts headers by id. The returned ids line up with rows;
// a zero marks a rejected row. Transfers must name both locations.
func (im *Importer) ImportMovements(ctx context.Context, rows []MovementInput) ([]int64, []RowError, error) {
	ids := make([]int64, len(rows))
	var rowErrs []RowError
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return ids, rowErrs, err
		}
		if err := im.checkMovement(row); err != nil {
			rowErrs = append(rowErrs, RowError{Kind: KindMovement, Index: i, Message: err.Error()})
			continue
		}
		saved, err := im.writer.UpsertMovement(ctx, inventory.Movement{
			ID:            row.ID,
			Type:          row.Type,
			Date:          row.Date,
			ProductID:     row.ProductID,
			LocationInID:  row.LocationInID,
			LocationOutID: row.LocationOutID,
			Quantity:      row.Quantity,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ids, rowErrs, ctxErr
			}
			rowErrs = append(rowErrs, RowError{Kind: KindMovement, Index: i, Message: err.Error()})
			continue
		}
		ids[i] = saved.ID
	}
	im.metrics.AddIngestRows(KindMovement, "failed", len(rowErrs))
	im.metrics.AddIngestRows(KindMovement, "written", len(rows)-len(rowErrs))
	return ids, rowErrs, nil
}

func (im *Importer) checkMovement(row MovementInput) error {
	if err := im.validate.Struct(row); err != nil {
		return errors.New(describe(err))
	}
	if inventory.Classify(row.Type) != inventory.Transfer {
		return nil
	}
	if row.LocationInID == 0 || row.LocationOutID == 0 {
		return errors.New("transfer requires both location_in_id and location_out_id")
	}
	return nil
}

// LineResult summarises an ImportLines call.
type LineResult struct {
	Written  int
	Repaired int
	Errors   []RowError
}

// ImportLines writes lines. A line whose batch does not exist is pointed at
// the product's regen batch and written again, once.
func (im *Importer) ImportLines(ctx context.Context, rows []inventory.MovementLine) (LineResult, error) {
	var res LineResult
	fail := func(i int, msg string) {
		res.Errors = append(res.Errors, RowError{Kind: KindLine, Index: i, Message: msg})
	}
	for i, line := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		repaired, err := im.writeLine(ctx, line)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			fail(i, err.Error())
			continue
		}
		res.Written++
		if repaired {
			res.Repaired++
		}
	}
	im.metrics.AddIngestRows(KindLine, "failed", len(res.Errors))
	im.metrics.AddIngestRows(KindLine, "written", res.Written-res.Repaired)
	im.metrics.AddIngestRows(KindLine, "repaired", res.Repaired)
	return res, nil
}

func (im *Importer) writeLine(ctx context.Context, line inventory.MovementLine) (bool, error) {
	res, err := im.writer.WriteMovementLine(ctx, line)
	if err != nil {
		return false, err
	}
	if res.Written() {
		return false, nil
	}
	missing := line.BatchID
	regen, err := im.repairer.GetOrCreateRegenBatch(ctx, line.ProductID)
	if err != nil {
		return false, fmt.Errorf("repair batch %d: %w", missing, err)
	}
	line.BatchID = regen.ID
	res, err = im.writer.WriteMovementLine(ctx, line)
	if err != nil {
		return false, err
	}
	if !res.Written() {
		return false, fmt.Errorf("regen batch %d rejected", regen.ID)
	}
	im.logger.Debug("line redirected to regen batch",
		slog.Int64("product_id", line.ProductID),
		slog.Int64("missing_batch_id", missing),
		slog.Int64("regen_batch_id", regen.ID))
	return true, nil
}

// resolveLines validates line inputs and binds movement_index references to
// the ids assigned in this run. Rejected rows are reported and skipped;
// positions maps each returned line back to its input row.
func (im *Importer) resolveLines(rows []LineInput, movementIDs []int64, report *Report) (lines []inventory.MovementLine, positions []int) {
	lines = make([]inventory.MovementLine, 0, len(rows))
	positions = make([]int, 0, len(rows))
	for i, row := range rows {
		if err := im.validate.Struct(row); err != nil {
			report.Errors = append(report.Errors, RowError{Kind: KindLine, Index: i, Message: describe(err)})
			continue
		}
		movementID := row.MovementID
		if row.MovementIndex != nil {
			idx := *row.MovementIndex
			if idx >= len(movementIDs) {
				report.Errors = append(report.Errors, RowError{Kind: KindLine, Index: i, Message: fmt.Sprintf("movement_index %d out of range", idx)})
				continue
			}
			if movementIDs[idx] == 0 {
				report.Errors = append(report.Errors, RowError{Kind: KindLine, Index: i, Message: fmt.Sprintf("movement %d was rejected", idx)})
				continue
			}
			movementID = movementIDs[idx]
		}
		if movementID == 0 {
			report.Errors = append(report.Errors, RowError{Kind: KindLine, Index: i, Message: "movement_id or movement_index required"})
			continue
		}
		lines = append(lines, inventory.MovementLine{
			MovementID: movementID,
			ProductID:  row.ProductID,
			BatchID:    row.BatchID,
			Quantity:   row.Quantity,
		})
		positions = append(positions, i)
	}
	return lines, positions
}

func describe(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
