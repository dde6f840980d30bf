package loader

import (
	"context"

	"salesetl/internal/dimension"
	"salesetl/internal/schema"
	"salesetl/internal/storage"
)

// resolver maps rows to dimension ids for one batch. Keys already resolved in
// the batch with equal attributes skip the store; the transaction holds their
// locks so the cached version stays current.
type resolver struct {
	l     *Loader
	tx    storage.Tx
	res   *Result
	dims  map[string]*schema.DimensionRecord
	dates map[string]int64
}

func (l *Loader) newResolver(tx storage.Tx, res *Result) *resolver {
	return &resolver{l: l, tx: tx, res: res, dims: map[string]*schema.DimensionRecord{}, dates: map[string]int64{}}
}

func (r *resolver) fact(ctx context.Context, row schema.TransformedRow) (schema.FactSalesRecord, error) {
	f := schema.FactSalesRecord{
		TransactionID:   row.TransactionID,
		TransactionDate: row.TransactionDate,
		Quantity:        row.TotalItems,
		TotalAmount:     row.TotalCost,
		PaymentMethod:   row.PaymentMethod,
		Channel:         row.Channel,
	}
	f.UnitPrice, f.DiscountAmount, f.NetAmount = Amounts(row.TotalCost, row.TotalItems, row.DiscountPercentage)

	var err error
	if f.ProductID, err = r.dimension(ctx, dimension.ProductEntry(row)); err != nil {
		return f, err
	}
	if f.StoreID, err = r.dimension(ctx, dimension.StoreEntry(row)); err != nil {
		return f, err
	}
	if f.CustomerID, err = r.dimension(ctx, dimension.CustomerEntry(row)); err != nil {
		return f, err
	}
	if f.TimeID, err = r.timeID(ctx, row); err != nil {
		return f, err
	}
	return f, nil
}

// dimension returns the id of e's version, or nil when nothing resolves.
func (r *resolver) dimension(ctx context.Context, e dimension.Entry) (*int64, error) {
	if e.Key == "" {
		return nil, nil
	}
	ck := e.Table.Name + "\x00" + e.Key
	if rec, ok := r.dims[ck]; ok && (r.l.lookup || dimension.SameAttributes(e.Table, rec.Attributes, e.Attrs)) {
		return idOf(rec), nil
	}

	var (
		rec *schema.DimensionRecord
		err error
	)
	if r.l.lookup {
		rec, err = r.l.dims.ResolveCurrent(ctx, r.tx, e.Table, e.Key)
	} else {
		var out dimension.Outcome
		rec, out, err = r.l.dims.Upsert(ctx, r.tx, e.Table, e.Key, e.Attrs)
		if err == nil && out != dimension.Unchanged {
			r.res.Versions[e.Table.Name+":"+out.String()]++
		}
	}
	if err != nil {
		return nil, err
	}
	r.dims[ck] = rec
	return idOf(rec), nil
}

func (r *resolver) timeID(ctx context.Context, row schema.TransformedRow) (*int64, error) {
	day := row.TransactionDate.UTC().Format(schema.DateLayout)
	if id, ok := r.dates[day]; ok {
		return &id, nil
	}
	id, err := dimension.GetOrCreateTimeDimension(ctx, r.tx, row.TransactionDate)
	if err != nil {
		return nil, err
	}
	r.dates[day] = id
	return &id, nil
}

func idOf(rec *schema.DimensionRecord) *int64 {
	if rec == nil {
		return nil
	}
	id := rec.ID
	return &id
}
