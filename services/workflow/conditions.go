package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DataConditionHandler handles the "dataCondition" node type. It compares a variable,
// addressed by a dot path, against an expected value.
type DataConditionHandler struct{}

func (h *DataConditionHandler) Execute(_ context.Context, node Node, ec *ExecutionContext) (map[string]any, error) {
	field, err := requireString(node, "field", ec.Variables)
	if err != nil {
		return nil, err
	}
	operator, err := requireString(node, "operator", nil)
	if err != nil {
		return nil, err
	}

	actual, exists := lookupPath(ec.Variables, field)
	expected := node.Data["value"]
	if s, ok := expected.(string); ok {
		expected = Interpolate(s, ec.Variables)
	}

	result, err := compare(operator, actual, exists, expected)
	if err != nil {
		return nil, err
	}

	if out := stringParam(node, "outputVariable", nil); out != "" {
		ec.Variables[out] = result
	}

	return map[string]any{
		"result":   result,
		"field":    field,
		"operator": operator,
		"actual":   actual,
		"expected": expected,
	}, nil
}

func compare(operator string, actual any, exists bool, expected any) (bool, error) {
	switch operator {
	case "equals":
		return exists && valuesEqual(actual, expected), nil
	case "notEquals":
		return !exists || !valuesEqual(actual, expected), nil
	case "greaterThan", "lessThan", "greaterThanOrEqual", "lessThanOrEqual":
		a, okA := toDecimal(actual)
		b, okB := toDecimal(expected)
		if !exists || !okA || !okB {
			return false, nil
		}
		c := a.Cmp(b)
		switch operator {
		case "greaterThan":
			return c > 0, nil
		case "lessThan":
			return c < 0, nil
		case "greaterThanOrEqual":
			return c >= 0, nil
		default:
			return c <= 0, nil
		}
	case "contains":
		return exists && containsValue(actual, expected), nil
	case "notContains":
		return !exists || !containsValue(actual, expected), nil
	case "startsWith":
		return exists && actual != nil && strings.HasPrefix(stringify(actual), stringify(expected)), nil
	case "endsWith":
		return exists && actual != nil && strings.HasSuffix(stringify(actual), stringify(expected)), nil
	case "isEmpty":
		return !exists || isEmptyValue(actual), nil
	case "isNotEmpty":
		return exists && !isEmptyValue(actual), nil
	default:
		return false, &UnsupportedOperatorError{Operator: operator}
	}
}

// valuesEqual compares numerically when both sides are numbers, otherwise by string form.
func valuesEqual(a, b any) bool {
	if da, ok := toDecimal(a); ok {
		if db, ok := toDecimal(b); ok {
			return da.Equal(db)
		}
	}
	return stringify(a) == stringify(b)
}

func containsValue(haystack, needle any) bool {
	switch h := haystack.(type) {
	case nil:
		return false
	case []any:
		for _, item := range h {
			if valuesEqual(item, needle) {
				return true
			}
		}
		return false
	case map[string]any:
		_, ok := h[stringify(needle)]
		return ok
	default:
		return strings.Contains(stringify(h), stringify(needle))
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(n), true
	case float32:
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}

// TimeConditionHandler handles the "timeCondition" node type. The reference time comes
// from the variable named by dateVariable, or the current time when that is unset or absent.
// Clock and calendar checks use the node's timezone, UTC by default.
type TimeConditionHandler struct {
	now func() time.Time
}

var relativeDayConditions = []string{"daysBefore", "daysAfter", "withinDaysBefore", "withinDaysAfter"}

func (h *TimeConditionHandler) Execute(_ context.Context, node Node, ec *ExecutionContext) (map[string]any, error) {
	conditionType := stringParam(node, "conditionType", nil)
	if conditionType == "" {
		// {"daysBefore": 7} is shorthand for conditionType daysBefore with days 7.
		for _, t := range relativeDayConditions {
			if _, ok := node.Data[t]; ok {
				conditionType = t
				break
			}
		}
	}
	if conditionType == "" {
		return nil, errMissing(node.ID, "conditionType")
	}

	loc := time.UTC
	if tz := stringParam(node, "timezone", ec.Variables); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, errInvalid(node.ID, "timezone", err.Error())
		}
		loc = l
	}

	now := h.now().In(loc)
	ref := now
	if name := stringParam(node, "dateVariable", nil); name != "" {
		if v, ok := lookupPath(ec.Variables, name); ok && v != nil {
			t, err := parseReferenceTime(v, loc)
			if err != nil {
				return nil, errInvalid(node.ID, "dateVariable", err.Error())
			}
			ref = t
		}
	}

	result, description, err := evaluateTime(node, conditionType, now, ref)
	if err != nil {
		return nil, err
	}

	if out := stringParam(node, "outputVariable", nil); out != "" {
		ec.Variables[out] = result
	}

	return map[string]any{
		"result":        result,
		"conditionType": conditionType,
		"description":   description,
		"referenceTime": ref.Format(time.RFC3339),
	}, nil
}

func evaluateTime(node Node, conditionType string, now, ref time.Time) (bool, string, error) {
	switch conditionType {
	case "timeOfDay":
		start, err := clockParam(node, "startTime", "")
		if err != nil {
			return false, "", err
		}
		end, err := clockParam(node, "endTime", "")
		if err != nil {
			return false, "", err
		}
		return inClockRange(ref, start, end), fmt.Sprintf("time between %s and %s", formatClock(start), formatClock(end)), nil

	case "dayOfWeek":
		days, err := weekdaysParam(node)
		if err != nil {
			return false, "", err
		}
		names := make([]string, 0, len(days))
		for _, d := range days {
			names = append(names, d.String())
		}
		return containsWeekday(days, ref.Weekday()), "day of week is one of " + strings.Join(names, ", "), nil

	case "specificDate":
		raw := stringParam(node, "date", nil)
		if raw == "" {
			return false, "", errMissing(node.ID, "date")
		}
		date, err := time.ParseInLocation(time.DateOnly, raw, ref.Location())
		if err != nil {
			return false, "", errInvalid(node.ID, "date", "expected YYYY-MM-DD")
		}
		return sameDate(ref, date), "date is " + raw, nil

	case "businessHours":
		start, err := clockParam(node, "startTime", "09:00")
		if err != nil {
			return false, "", err
		}
		end, err := clockParam(node, "endTime", "17:00")
		if err != nil {
			return false, "", err
		}
		ok := !isWeekend(ref) && inClockRange(ref, start, end)
		return ok, fmt.Sprintf("business hours (Mon-Fri %s-%s)", formatClock(start), formatClock(end)), nil

	case "weekend":
		return isWeekend(ref), "weekend (Saturday or Sunday)", nil

	case "daysBefore", "daysAfter", "withinDaysBefore", "withinDaysAfter":
		n, err := daysParam(node, conditionType)
		if err != nil {
			return false, "", err
		}
		// until is positive while ref lies in the future.
		until := calendarDaysBetween(now, ref)
		date := ref.Format(time.DateOnly)
		switch conditionType {
		case "daysBefore":
			return until == n, fmt.Sprintf("exactly %d days before %s", n, date), nil
		case "daysAfter":
			return -until == n, fmt.Sprintf("exactly %d days after %s", n, date), nil
		case "withinDaysBefore":
			return until >= 0 && until <= n, fmt.Sprintf("within %d days before %s", n, date), nil
		default:
			return -until >= 0 && -until <= n, fmt.Sprintf("within %d days after %s", n, date), nil
		}

	default:
		return false, "", errInvalid(node.ID, "conditionType", fmt.Sprintf("unknown condition type %q", conditionType))
	}
}

// daysParam reads "days", falling back to a field named after the condition type.
func daysParam(node Node, conditionType string) (int, error) {
	raw, ok := node.Data["days"]
	if !ok {
		raw, ok = node.Data[conditionType]
	}
	if !ok {
		return 0, errMissing(node.ID, "days")
	}
	n, ok := toFloat64(raw)
	if !ok || n < 0 {
		return 0, errInvalid(node.ID, "days", "must be a non-negative number")
	}
	return int(n), nil
}

// clockParam parses an "HH:MM" field into minutes after midnight.
func clockParam(node Node, key, fallback string) (int, error) {
	raw := stringParam(node, key, nil)
	if raw == "" {
		raw = fallback
	}
	if raw == "" {
		return 0, errMissing(node.ID, key)
	}
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, errInvalid(node.ID, key, "expected HH:MM")
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// inClockRange reports whether t falls in [start, end). A range with end before start wraps midnight.
func inClockRange(t time.Time, start, end int) bool {
	m := t.Hour()*60 + t.Minute()
	if start <= end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// weekdaysParam reads "days" as a list of weekday numbers (0 is Sunday) or names.
func weekdaysParam(node Node) ([]time.Weekday, error) {
	raw, ok := node.Data["days"].([]any)
	if !ok || len(raw) == 0 {
		return nil, errMissing(node.ID, "days")
	}
	days := make([]time.Weekday, 0, len(raw))
	for _, v := range raw {
		if n, ok := toFloat64(v); ok && n >= 0 && n <= 6 {
			days = append(days, time.Weekday(int(n)))
			continue
		}
		s, _ := v.(string)
		d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
		if !ok {
			return nil, errInvalid(node.ID, "days", fmt.Sprintf("unknown weekday %v", v))
		}
		days = append(days, d)
	}
	return days, nil
}

func containsWeekday(days []time.Weekday, d time.Weekday) bool {
	for _, x := range days {
		if x == d {
			return true
		}
	}
	return false
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// calendarDaysBetween counts the calendar days from a to b, ignoring the time of day.
func calendarDaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

var referenceLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	time.DateTime,
	time.DateOnly,
}

func parseReferenceTime(v any, loc *time.Location) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.In(loc), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range referenceLayouts {
			if parsed, err := time.ParseInLocation(layout, s, loc); err == nil {
				return parsed.In(loc), nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as a date", s)
	default:
		return time.Time{}, fmt.Errorf("unsupported date value %v", v)
	}
}
