package pricing

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

const testTable = `
models:
  test-model:
    input_per_mtok: 20000
    output_per_mtok: 80000
    context_window: 8000
  no-window-model:
    input_per_mtok: 100
    output_per_mtok: 400
default:
  input_per_mtok: 50000
  output_per_mtok: 200000
`

func loadTestTable(t *testing.T) *Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	if err := os.WriteFile(path, []byte(testTable), 0o644); err != nil {
		t.Fatal(err)
	}
	// Rate of 1 keeps the per-token prices round: 0.02 in, 0.08 out.
	table, err := Load(path, 1.0, 4096)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return table
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPerTokenPrices(t *testing.T) {
	table := loadTestTable(t)

	if got := table.InputPriceJPY("test-model"); !almostEqual(got, 0.02) {
		t.Fatalf("InputPriceJPY = %v, want 0.02", got)
	}
	if got := table.OutputPriceJPY("test-model"); !almostEqual(got, 0.08) {
		t.Fatalf("OutputPriceJPY = %v, want 0.08", got)
	}
}

func TestPreEstimate(t *testing.T) {
	table := loadTestTable(t)

	// 40 question tokens anticipate 80 more of context, all at the
	// input rate, plus the full output allowance at the output rate:
	// 120*0.02 + 100*0.08 = 10.4.
	got := table.PreEstimateJPY("test-model", 40, 100)
	if !almostEqual(got, 10.4) {
		t.Fatalf("PreEstimateJPY = %v, want 10.4", got)
	}
}

func TestActualCost(t *testing.T) {
	table := loadTestTable(t)

	// 150*0.02 + 90*0.08 = 10.2
	got := table.ActualJPY("test-model", 150, 90)
	if !almostEqual(got, 10.2) {
		t.Fatalf("ActualJPY = %v, want 10.2", got)
	}
}

func TestUnknownModelUsesDefault(t *testing.T) {
	table := loadTestTable(t)

	if got := table.InputPriceJPY("never-heard-of-it"); !almostEqual(got, 0.05) {
		t.Fatalf("default InputPriceJPY = %v, want 0.05", got)
	}
	if got := table.ContextWindow("never-heard-of-it"); got != 4096 {
		t.Fatalf("default ContextWindow = %d, want 4096", got)
	}
}

func TestMissingWindowGetsDefault(t *testing.T) {
	table := loadTestTable(t)

	if got := table.ContextWindow("no-window-model"); got != 4096 {
		t.Fatalf("ContextWindow = %d, want 4096", got)
	}
	if got := table.ContextWindow("test-model"); got != 8000 {
		t.Fatalf("ContextWindow = %d, want 8000", got)
	}
}

func TestBuiltinTable(t *testing.T) {
	table, err := Load("", 148.117, 128000)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := table.ContextWindow("gpt-4o-mini"); got != 128000 {
		t.Fatalf("ContextWindow = %d, want 128000", got)
	}
	// USD rates convert through the configured exchange rate.
	want := 0.15 / 1_000_000 * 148.117
	if got := table.InputPriceJPY("gpt-4o-mini"); !almostEqual(got, want) {
		t.Fatalf("InputPriceJPY = %v, want %v", got, want)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), 1.0, 4096); err == nil {
		t.Fatal("Load of missing file succeeded")
	}
}
