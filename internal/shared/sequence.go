package shared

import "fmt"

// SequenceKind names a human-readable numbering series.
type SequenceKind string

const (
	SequenceJob       SequenceKind = "JOB"
	SequenceInvoice   SequenceKind = "INV"
	SequenceEstimate  SequenceKind = "EST"
	SequenceAgreement SequenceKind = "SA"
)

// FormatNumber renders a sequence value as e.g. JOB-00001.
func FormatNumber(kind SequenceKind, value int64) string {
	return fmt.Sprintf("%s-%05d", kind, value)
}

// WatermarkKey builds the redis key holding the last completed tick of a scheduler pass.
func WatermarkKey(pass string) string {
	return fmt.Sprintf("fsm:scheduler:%s:watermark", pass)
}
