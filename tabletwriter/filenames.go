package tabletwriter

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lakehouse-go/deltawriter/model"
)

const (
	segmentSuffix = ".dat"
	delSuffix     = ".del"
	rewriteSuffix = ".rewrite"
)

// segmentName derives a segment filename from the txn id, unique per
// index within that txn, as the on-disk format guarantees in §6.
func segmentName(txnID model.TxnID, index int) string {
	return fmt.Sprintf("%020d_%04d_%s%s", txnID, index, uuid.New().String(), segmentSuffix)
}

// delFileName derives a delete-file filename from the txn id, following
// the same txn-id-derived naming scheme as segments but with a distinct
// predicate (isDelFile) so the two are never confused when classifying
// tablet_writer.Files() output.
func delFileName(txnID model.TxnID, index int) string {
	return fmt.Sprintf("%020d_del_%04d_%s%s", txnID, index, uuid.New().String(), delSuffix)
}

// rewriteSegmentName derives a rewrite-segment placeholder name,
// consumed by downstream rewrite after a partial update. The name is a
// function of the txn id and index alone, so the same txn always yields
// the same names, unique per index (§6).
func rewriteSegmentName(txnID model.TxnID, index int) string {
	return fmt.Sprintf("%020d_%04d%s", txnID, index, rewriteSuffix)
}

// GenerateRewriteSegmentNames generates n rewrite-segment placeholder
// filenames for txnID, one per emitted segment, per §4.7 step 7.
func GenerateRewriteSegmentNames(txnID model.TxnID, n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = rewriteSegmentName(txnID, i)
	}
	return names
}

// isSegmentFile reports whether name was produced by segmentName.
func isSegmentFile(name string) bool {
	return strings.HasSuffix(name, segmentSuffix) && !strings.HasSuffix(name, delSuffix)
}

// isDelFile reports whether name was produced by delFileName.
func isDelFile(name string) bool {
	return strings.HasSuffix(name, delSuffix)
}
