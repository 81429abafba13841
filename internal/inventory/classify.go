package inventory

import (
	"sort"
	"strings"
)

// MovementClass is the single classification every aggregator consumes.
type MovementClass uint8

const (
	// Unclassified covers blank and unrecognized movement types.
	Unclassified MovementClass = iota
	// Inflow movements add to total stock.
	Inflow
	// Outflow movements remove from total stock.
	Outflow
	// Transfer movements relocate stock without changing the total.
	Transfer
)

// String returns the storage label of the class.
func (c MovementClass) String() string {
	switch c {
	case Inflow:
		return "inflow"
	case Outflow:
		return "outflow"
	case Transfer:
		return "transfer"
	default:
		return "unclassified"
	}
}

// MarshalText renders the class label for JSON payloads.
func (c MovementClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// TransferMovementType is the only label classified as Transfer.
const TransferMovementType = "transfer"

var inflowMovementTypes = []string{
	"purchase",
	"receipt",
	"goods_receipt",
	"production",
	"production_output",
	"customer_return",
	"return",
	"adjustment_in",
	"opening_balance",
	"found",
}

var outflowMovementTypes = []string{
	"sale",
	"shipment",
	"dispatch",
	"consumption",
	"production_consumption",
	"issue",
	"write_off",
	"scrap",
	"adjustment_out",
	"lost",
}

var movementClasses = buildMovementClasses()

func buildMovementClasses() map[string]MovementClass {
	classes := make(map[string]MovementClass, len(inflowMovementTypes)+len(outflowMovementTypes)+1)
	for _, label := range inflowMovementTypes {
		classes[label] = Inflow
	}
	for _, label := range outflowMovementTypes {
		classes[label] = Outflow
	}
	classes[TransferMovementType] = Transfer
	return classes
}

// movementTypeSpace is the whitespace stripped from labels. It matches the
// btrim set of stock_normalize_movement_type in the snapshot migration.
const movementTypeSpace = " \t\n\r\f\v"

// NormalizeMovementType trims ASCII whitespace and lowercases ASCII letters,
// exactly as stock_normalize_movement_type does in SQL. Other characters,
// including Unicode spaces, are kept, so such labels stay unclassified on
// both sides.
func NormalizeMovementType(movementType string) string {
	trimmed := strings.Trim(movementType, movementTypeSpace)
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, trimmed)
}

// Classify maps a movement label to its class. Unknown labels are Unclassified, never an error.
func Classify(movementType string) MovementClass {
	return movementClasses[NormalizeMovementType(movementType)]
}

// MovementClassEntry is one row of the classifier table.
type MovementClassEntry struct {
	Label string
	Class MovementClass
}

// MovementClassTable lists every classified label sorted by label. It is the
// content mirrored into stock_movement_classes before each refresh.
func MovementClassTable() []MovementClassEntry {
	entries := make([]MovementClassEntry, 0, len(movementClasses))
	for label, class := range movementClasses {
		entries = append(entries, MovementClassEntry{Label: label, Class: class})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Label < entries[j].Label })
	return entries
}

// MovementPolicy decides which classes an aggregator admits.
type MovementPolicy func(MovementClass) bool

// Admits reports whether the class passes the policy.
func (p MovementPolicy) Admits(class MovementClass) bool {
	return p != nil && p(class)
}

var (
	// RecognizedMovementTypes admits only the Inflow/Outflow allow-lists; it
	// drives total quantity-on-hand.
	RecognizedMovementTypes MovementPolicy = func(class MovementClass) bool {
		return class == Inflow || class == Outflow
	}
	// AllMovementTypes admits every row, including Transfer and Unclassified;
	// it drives the per-location breakdown.
	AllMovementTypes MovementPolicy = func(MovementClass) bool {
		return true
	}
)

// ClassifiedMovement pairs a header with the class assigned once at load time.
type ClassifiedMovement struct {
	Movement
	Class MovementClass
}

// ClassifyMovements tags each header with its class.
func ClassifyMovements(movements []Movement) []ClassifiedMovement {
	out := make([]ClassifiedMovement, 0, len(movements))
	for _, m := range movements {
		out = append(out, ClassifiedMovement{Movement: m, Class: Classify(m.Type)})
	}
	return out
}
