package main

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/cafe-orders/internal/domain/coupon"
)

// Columns of a coupon file. code, discount_type and discount_value are
// required; the rest may be absent or empty.
const (
	colCode          = "code"
	colDiscountType  = "discount_type"
	colDiscountValue = "discount_value"
	colMinOrderValue = "min_order_value"
	colMaxDiscount   = "max_discount"
	colUsageLimit    = "usage_limit"
	colValidFrom     = "valid_from"
	colValidUntil    = "valid_until"
	colActive        = "active"
)

var requiredColumns = []string{colCode, colDiscountType, colDiscountValue}

// record is one raw row, checked for presence before any parsing.
type record struct {
	Code          string `validate:"required,max=64"`
	DiscountType  string `validate:"required,oneof=PERCENTAGE FIXED"`
	DiscountValue string `validate:"required"`
	MinOrderValue string
	MaxDiscount   string
	UsageLimit    string
	ValidFrom     string
	ValidUntil    string
	Active        string `validate:"omitempty,oneof=true false 1 0 yes no"`
}

// rowReader reads coupon rows of one cafe from a CSV stream with a header.
type rowReader struct {
	r        *csv.Reader
	cols     map[string]int
	cafeID   string
	validate *validator.Validate
	now      time.Time
}

func newRowReader(r io.Reader, cafeID string, v *validator.Validate, now time.Time) (*rowReader, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, errors.Errorf("missing column %q", c)
		}
	}
	// Lines are not fixed width: optional columns may be cut short.
	cr.FieldsPerRecord = -1
	return &rowReader{r: cr, cols: cols, cafeID: cafeID, validate: v, now: now}, nil
}

// Next returns the next coupon, or io.EOF at the end of the stream. A row
// error carries its line number and does not stop the reader.
func (rr *rowReader) Next() (*coupon.Coupon, error) {
	fields, err := rr.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, &rowError{Line: perr.Line, Err: err}
		}
		return nil, errors.Wrap(err, "read row")
	}
	line, _ := rr.r.FieldPos(0)

	rec := record{
		Code:          rr.field(fields, colCode),
		DiscountType:  strings.ToUpper(rr.field(fields, colDiscountType)),
		DiscountValue: rr.field(fields, colDiscountValue),
		MinOrderValue: rr.field(fields, colMinOrderValue),
		MaxDiscount:   rr.field(fields, colMaxDiscount),
		UsageLimit:    rr.field(fields, colUsageLimit),
		ValidFrom:     rr.field(fields, colValidFrom),
		ValidUntil:    rr.field(fields, colValidUntil),
		Active:        strings.ToLower(rr.field(fields, colActive)),
	}
	c, err := rr.parse(rec)
	if err != nil {
		return nil, &rowError{Line: line, Code: rec.Code, Err: err}
	}
	return c, nil
}

func (rr *rowReader) field(fields []string, col string) string {
	i, ok := rr.cols[col]
	if !ok || i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

func (rr *rowReader) parse(rec record) (*coupon.Coupon, error) {
	if err := rr.validate.Struct(rec); err != nil {
		return nil, err
	}

	code := coupon.NormalizeCode(rec.Code)
	c := &coupon.Coupon{
		ID:           couponID(rr.cafeID, code),
		CafeID:       rr.cafeID,
		Code:         code,
		DiscountType: coupon.DiscountType(rec.DiscountType),
		IsActive:     rec.Active == "" || rec.Active == "true" || rec.Active == "1" || rec.Active == "yes",
		ValidFrom:    rr.now,
	}

	var err error
	if c.DiscountValue, err = decimal.NewFromString(rec.DiscountValue); err != nil {
		return nil, errors.Wrap(err, colDiscountValue)
	}
	if rec.MinOrderValue != "" {
		if c.MinOrderValue, err = decimal.NewFromString(rec.MinOrderValue); err != nil {
			return nil, errors.Wrap(err, colMinOrderValue)
		}
	}
	if rec.MaxDiscount != "" {
		v, err := decimal.NewFromString(rec.MaxDiscount)
		if err != nil {
			return nil, errors.Wrap(err, colMaxDiscount)
		}
		c.MaxDiscount = &v
	}
	if rec.UsageLimit != "" {
		n, err := strconv.Atoi(rec.UsageLimit)
		if err != nil {
			return nil, errors.Wrap(err, colUsageLimit)
		}
		c.UsageLimit = &n
	}
	if rec.ValidFrom != "" {
		if c.ValidFrom, err = time.Parse(time.RFC3339, rec.ValidFrom); err != nil {
			return nil, errors.Wrap(err, colValidFrom)
		}
	}
	if rec.ValidUntil != "" {
		t, err := time.Parse(time.RFC3339, rec.ValidUntil)
		if err != nil {
			return nil, errors.Wrap(err, colValidUntil)
		}
		if !t.After(c.ValidFrom) {
			return nil, errors.New("valid_until must be after valid_from")
		}
		c.ValidUntil = &t
	}

	if err := c.CheckInvariants(); err != nil {
		return nil, err
	}
	return c, nil
}

// couponID derives a stable id so re-imports update rather than duplicate.
func couponID(cafeID, code string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(cafeID+"/"+code)).String()
}

type rowError struct {
	Line int
	Code string
	Err  error
}

func (e *rowError) Error() string {
	msg := "line " + strconv.Itoa(e.Line)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	return msg + ": " + e.Err.Error()
}

func (e *rowError) Unwrap() error { return e.Err }
