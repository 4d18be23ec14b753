// Package sqldump converts crawler NDJSON into an SQLite SQL script that
// applies the same upsert rules as the live ingest endpoint.
package sqldump

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deals/internal/db"
	"github.com/sells-group/deals/internal/model"
	"github.com/sells-group/deals/internal/store"
)

// maxLineBytes bounds a single NDJSON record.
const maxLineBytes = 4 << 20

// Options controls a conversion.
type Options struct {
	// SeenAt stamps records that carry no seen_at. Defaults to now.
	SeenAt time.Time
	// WithSchema prepends the SQLite migration so the script can seed an
	// empty database.
	WithSchema bool
}

// Result counts the records of a conversion.
type Result struct {
	Total    int `json:"total"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Converter renders deals through the store's upsert configs.
type Converter struct {
	product  db.UpsertConfig
	offer    db.UpsertConfig
	snapshot db.UpsertConfig
}

// NewConverter creates a Converter. Dumps never need RETURNING.
func NewConverter() *Converter {
	c := &Converter{
		product:  store.ProductUpsert,
		offer:    store.OfferPeriodUpsert,
		snapshot: store.SnapshotUpsert,
	}
	c.product.Returning = nil
	c.offer.Returning = nil
	c.snapshot.Returning = nil
	return c
}

// Convert reads NDJSON records from in, writes upsert statements for valid
// records to sqlOut and writes invalid records, annotated with a
// validation_error field, to rejects. rejects may be nil.
func (c *Converter) Convert(ctx context.Context, in io.Reader, sqlOut, rejects io.Writer, opts Options) (*Result, error) {
	if opts.SeenAt.IsZero() {
		opts.SeenAt = time.Now()
	}

	out := bufio.NewWriter(sqlOut)
	var rej *bufio.Writer
	if rejects != nil {
		rej = bufio.NewWriter(rejects)
	}

	fmt.Fprintf(out, "-- deals sql dump generated %s\n", opts.SeenAt.UTC().Format(time.RFC3339))
	if opts.WithSchema {
		out.WriteString(strings.TrimSpace(store.SQLiteMigration))
		out.WriteString("\n\n")
	}

	res := &Result{}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "sqldump: convert")
		}
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		res.Total++

		deal, reason := parseRecord(line, opts.SeenAt)
		if reason != "" {
			res.Rejected++
			zap.L().Debug("rejected deal", zap.Int("line", lineNo), zap.String("reason", reason))
			if rej != nil {
				if err := writeReject(rej, line, lineNo, reason); err != nil {
					return res, err
				}
			}
			continue
		}

		stmts, err := c.Statements(deal)
		if err != nil {
			return res, eris.Wrapf(err, "sqldump: line %d", lineNo)
		}
		for _, s := range stmts {
			out.WriteString(s)
			out.WriteString(";\n")
		}
		res.Accepted++
	}
	if err := scanner.Err(); err != nil {
		return res, eris.Wrap(err, "sqldump: read input")
	}
	if err := out.Flush(); err != nil {
		return res, eris.Wrap(err, "sqldump: write sql")
	}
	if rej != nil {
		if err := rej.Flush(); err != nil {
			return res, eris.Wrap(err, "sqldump: write rejects")
		}
	}
	return res, nil
}

// parseRecord decodes and validates one record. A non-empty reason means the
// record is rejected.
func parseRecord(line []byte, seenAt time.Time) (model.Deal, string) {
	var raw model.RawDeal
	if err := json.Unmarshal(line, &raw); err != nil {
		return model.Deal{}, "Invalid JSON: " + err.Error()
	}
	var vErr *model.ValidationError
	if err := raw.Validate(); err != nil {
		if errors.As(err, &vErr) {
			return model.Deal{}, vErr.Message
		}
		return model.Deal{}, err.Error()
	}
	deal, err := raw.ToDeal(seenAt).Normalize("")
	if err != nil {
		return model.Deal{}, err.Error()
	}
	return deal, ""
}

// writeReject writes the original record with validation_error added. Lines
// that are not JSON objects are wrapped as {"line", "raw"}.
func writeReject(w *bufio.Writer, line []byte, lineNo int, reason string) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(line, &obj); err != nil || obj == nil {
		obj = map[string]json.RawMessage{}
		n, _ := json.Marshal(lineNo)
		r, _ := json.Marshal(string(line))
		obj["line"] = n
		obj["raw"] = r
	}
	msg, err := json.Marshal(reason)
	if err != nil {
		return eris.Wrap(err, "sqldump: encode reject")
	}
	obj["validation_error"] = msg

	b, err := json.Marshal(obj)
	if err != nil {
		return eris.Wrap(err, "sqldump: encode reject")
	}
	b = append(b, '\n')
	if _, err := w.Write(b); err != nil {
		return eris.Wrap(err, "sqldump: write reject")
	}
	return nil
}

// Statements renders the product, offer period and snapshot upserts for a
// normalized deal. Ids are resolved with sub-selects on the natural keys.
func (c *Converter) Statements(d model.Deal) ([]string, error) {
	p, o, s := d.Product, d.OfferPeriod, d.Snapshot

	productValues, err := db.Literals(p.SKU, p.Name, p.Category, p.Brand, p.ImageURL)
	if err != nil {
		return nil, err
	}
	productSQL, err := c.product.Build(productValues)
	if err != nil {
		return nil, err
	}

	productID, err := productIDExpr(p.SKU)
	if err != nil {
		return nil, err
	}
	offerValues, err := db.Literals(
		productID, o.Region, o.Channel, string(o.SaleType), o.DiscountLow, o.DiscountHigh,
		o.Currency, o.LimitQty, o.Details, o.Starts, o.Ends,
	)
	if err != nil {
		return nil, err
	}
	offerSQL, err := c.offer.Build(offerValues)
	if err != nil {
		return nil, err
	}

	offerID, err := offerIDExpr(productID, o)
	if err != nil {
		return nil, err
	}
	snapValues, err := db.Literals(offerID, s.SeenAt.Time, s.DiscountLow, s.DiscountHigh, s.Details)
	if err != nil {
		return nil, err
	}
	snapSQL, err := c.snapshot.Build(snapValues)
	if err != nil {
		return nil, err
	}

	return []string{productSQL, offerSQL, snapSQL}, nil
}

func productIDExpr(sku string) (db.Raw, error) {
	lit, err := db.Literal(sku)
	if err != nil {
		return "", err
	}
	return db.Raw("(SELECT id FROM product WHERE sku = " + lit + ")"), nil
}

func offerIDExpr(productID db.Raw, o model.OfferTerms) (db.Raw, error) {
	lits, err := db.Literals(o.Starts, o.Ends, o.Region)
	if err != nil {
		return "", err
	}
	return db.Raw(fmt.Sprintf(
		"(SELECT id FROM offer_period WHERE product_id = %s AND starts = %s AND ends = %s AND region = %s)",
		productID, lits[0], lits[1], lits[2],
	)), nil
}
