package utils

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

func GetHash(b []byte) string {
	hash := xxhash.Sum64(b)
	return strconv.FormatUint(hash, 32)
}

// NamespaceName derives the cluster namespace for a run. The name is a
// pure function of the identifier, so a redelivered deploy regenerates
// identical resource definitions and re-apply stays idempotent.
func NamespaceName(runID uuid.UUID) string {
	return "run-" + GetHash(runID[:])
}
