package utils_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/reporun/reporun/internal/utils"
)

func TestNamespaceName_Deterministic(t *testing.T) {
	id := uuid.New()
	first := utils.NamespaceName(id)
	second := utils.NamespaceName(id)
	if first != second {
		t.Errorf("NamespaceName not stable: %q vs %q", first, second)
	}
	if !strings.HasPrefix(first, "run-") {
		t.Errorf("NamespaceName = %q, want run- prefix", first)
	}
}

func TestNamespaceName_DistinctRuns(t *testing.T) {
	a := utils.NamespaceName(uuid.New())
	b := utils.NamespaceName(uuid.New())
	if a == b {
		t.Errorf("distinct runs mapped to the same namespace %q", a)
	}
}
