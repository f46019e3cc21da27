package main

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

var requiredColumns = []string{"code", "kind", "value"}

// rowError is a rejected input row.
type rowError struct {
	Line int
	Err  error
}

func (e *rowError) Error() string {
	return "line " + strconv.Itoa(e.Line) + ": " + e.Err.Error()
}

func (e *rowError) Unwrap() error { return e.Err }

// ruleReader decodes coupon rules from CSV with a header row. Columns are
// matched by name: code, kind, value, min_order_amount, usage_limit,
// per_user_limit, expires_at (RFC 3339), user_class, active, skus
// (separated by '|').
type ruleReader struct {
	r    *csv.Reader
	cols map[string]int
}

func newRuleReader(src io.Reader) (*ruleReader, error) {
	r := csv.NewReader(src)
	r.TrimLeadingSpace = true
	r.ReuseRecord = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, errors.Errorf("missing column %q", name)
		}
	}
	return &ruleReader{r: r, cols: cols}, nil
}

// Next returns the next rule. Malformed rows are returned as *rowError and
// reading can continue; io.EOF ends the input.
func (rr *ruleReader) Next() (coupon.Rule, error) {
	record, err := rr.r.Read()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return coupon.Rule{}, &rowError{Line: parseErr.Line, Err: parseErr.Err}
		}
		return coupon.Rule{}, err
	}
	line, _ := rr.r.FieldPos(0)

	rule, err := rr.decode(record)
	if err != nil {
		return coupon.Rule{}, &rowError{Line: line, Err: err}
	}
	if err := rule.Validate(); err != nil {
		return coupon.Rule{}, &rowError{Line: line, Err: err}
	}
	return rule, nil
}

func (rr *ruleReader) field(record []string, name string) string {
	i, ok := rr.cols[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func (rr *ruleReader) decode(record []string) (coupon.Rule, error) {
	rule := coupon.Rule{
		Code:      coupon.NormalizeCode(rr.field(record, "code")),
		Kind:      coupon.Kind(strings.ToLower(rr.field(record, "kind"))),
		UserClass: coupon.UserClass(strings.ToLower(rr.field(record, "user_class"))),
		Active:    true,
	}

	var err error
	if rule.Value, err = decimal.NewFromString(rr.field(record, "value")); err != nil {
		return rule, errors.Wrap(err, "value")
	}
	if v := rr.field(record, "min_order_amount"); v != "" {
		if rule.MinOrderAmount, err = decimal.NewFromString(v); err != nil {
			return rule, errors.Wrap(err, "min_order_amount")
		}
	}
	if v := rr.field(record, "usage_limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return rule, errors.Wrap(err, "usage_limit")
		}
		rule.UsageLimit = &n
	}
	if v := rr.field(record, "per_user_limit"); v != "" {
		if rule.PerUserLimit, err = strconv.Atoi(v); err != nil {
			return rule, errors.Wrap(err, "per_user_limit")
		}
	}
	if v := rr.field(record, "expires_at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return rule, errors.Wrap(err, "expires_at")
		}
		rule.ExpiresAt = &t
	}
	if v := rr.field(record, "active"); v != "" {
		if rule.Active, err = strconv.ParseBool(v); err != nil {
			return rule, errors.Wrap(err, "active")
		}
	}
	if v := rr.field(record, "skus"); v != "" {
		for sku := range strings.SplitSeq(v, "|") {
			if sku = strings.TrimSpace(sku); sku != "" {
				rule.SKUs = append(rule.SKUs, sku)
			}
		}
	}
	return rule, nil
}
