// Package sanity runs cheap, generic plausibility checks over a query
// result before it's handed back to the clinician: is it empty, do
// count-like columns look positive, do percentage-like columns
// stay in range. None of these understand the query's intent — they
// catch the class of LLM-generated-SQL mistake that parses and
// executes fine but returns an answer no sane report would.
package sanity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kcmh-his/sql-copilot/internal/executor"
)

// Result is the outcome of one named check.
type Result struct {
	CheckName string
	Passed    bool
	Message   string
}

// CheckNonEmpty fails if the query returned zero rows.
func CheckNonEmpty(r executor.Result) Result {
	if r.RowCount == 0 {
		return Result{CheckName: "non_empty_check", Passed: false, Message: "Query returned no results"}
	}
	return Result{CheckName: "non_empty_check", Passed: true, Message: fmt.Sprintf("Query returned %d rows", r.RowCount)}
}

// CheckDenominator fails if any value in the named column (matched
// case-insensitively and exactly) is non-positive. A missing column
// is not a failure: the check simply doesn't apply to this result.
func CheckDenominator(r executor.Result, columnName string) Result {
	idx, ok := findColumnExact(r.Columns, columnName)
	if !ok {
		return Result{CheckName: "denominator_check", Passed: true, Message: fmt.Sprintf("Column '%s' not found, skipping check", columnName)}
	}
	for _, row := range r.Rows {
		v, isNum := toFloat64(row[idx])
		if isNum && v <= 0 {
			return Result{CheckName: "denominator_check", Passed: false, Message: fmt.Sprintf("Found non-positive value (%v) in %s", row[idx], columnName)}
		}
	}
	return Result{CheckName: "denominator_check", Passed: true, Message: "All denominator values are positive"}
}

// CheckPercentRange fails if any value in a column whose name
// contains columnName (case-insensitively) falls outside [minVal,
// maxVal].
func CheckPercentRange(r executor.Result, columnName string, minVal, maxVal float64) Result {
	idx, ok := findColumnContains(r.Columns, columnName)
	if !ok {
		return Result{CheckName: "percent_range_check", Passed: true, Message: "No percentage column found, skipping check"}
	}
	for _, row := range r.Rows {
		v, isNum := toFloat64(row[idx])
		if isNum && (v < minVal || v > maxVal) {
			return Result{CheckName: "percent_range_check", Passed: false, Message: fmt.Sprintf("Percentage value (%v) outside range [%v, %v]", row[idx], minVal, maxVal)}
		}
	}
	return Result{CheckName: "percent_range_check", Passed: true, Message: fmt.Sprintf("All percentage values within [%v, %v]", minVal, maxVal)}
}

// CheckReasonableCount fails if any value in a column whose name
// contains columnName falls below minExpected, or above maxExpected
// when maxExpected is set.
func CheckReasonableCount(r executor.Result, columnName string, minExpected int, maxExpected *int) Result {
	idx, ok := findColumnContains(r.Columns, columnName)
	if !ok {
		return Result{CheckName: "reasonable_count_check", Passed: true, Message: "No count column found, skipping check"}
	}
	for _, row := range r.Rows {
		v, isNum := toFloat64(row[idx])
		if !isNum {
			continue
		}
		if v < float64(minExpected) {
			return Result{CheckName: "reasonable_count_check", Passed: false, Message: fmt.Sprintf("Count (%v) below minimum expected (%d)", row[idx], minExpected)}
		}
		if maxExpected != nil && v > float64(*maxExpected) {
			return Result{CheckName: "reasonable_count_check", Passed: false, Message: fmt.Sprintf("Count (%v) above maximum expected (%d)", row[idx], *maxExpected)}
		}
	}
	return Result{CheckName: "reasonable_count_check", Passed: true, Message: "Count values within reasonable bounds"}
}

// RunAll runs the non-empty check unconditionally, plus the
// denominator and percent-range checks against their default column
// names ("count", "percent") when checkNames is nil or names them.
func RunAll(r executor.Result, checkNames []string) []Result {
	results := []Result{CheckNonEmpty(r)}

	joined := strings.Join(checkNames, ",")
	if checkNames == nil || strings.Contains(joined, "denominator") {
		results = append(results, CheckDenominator(r, "count"))
	}
	if checkNames == nil || strings.Contains(joined, "percent") {
		results = append(results, CheckPercentRange(r, "percent", 0.0, 100.0))
	}
	return results
}

func findColumnExact(columns []string, name string) (int, bool) {
	for i, c := range columns {
		if strings.EqualFold(c, name) {
			return i, true
		}
	}
	return 0, false
}

func findColumnContains(columns []string, name string) (int, bool) {
	lower := strings.ToLower(name)
	for i, c := range columns {
		if strings.Contains(strings.ToLower(c), lower) {
			return i, true
		}
	}
	return 0, false
}

// toFloat64 coerces a driver-returned cell value to float64. Returns
// ok=false for nil and non-numeric values, which every check above
// treats as "skip this row" rather than a failure — the original
// Python checks only compare when the value isn't None either.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case int:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
