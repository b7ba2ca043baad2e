package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"savebuddy/internal/core"
)

// Records accesses one record family (savings or expense). Both share the
// same shape and endpoints under /api/savings and /api/expense.
type Records struct {
	c    *Client
	kind core.RecordKind
}

func (c *Client) Records(kind core.RecordKind) *Records {
	return &Records{c: c, kind: kind}
}

func (r *Records) Kind() core.RecordKind { return r.kind }

func (r *Records) base() string {
	if r.kind == core.Expense {
		return "/api/expense"
	}
	return "/api/savings"
}

type ownerRef struct {
	ID int64 `json:"id"`
}

type recordDTO struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"userId"`
	User      *ownerRef      `json:"user"`
	ItemName  string         `json:"itemName"`
	Amount    core.Won       `json:"amount"`
	Category  core.Category  `json:"category"`
	Memo      string         `json:"memo"`
	CreatedAt core.Timestamp `json:"createdAt"`
}

func (d recordDTO) toCore() core.Record {
	owner := d.UserID
	if owner == 0 && d.User != nil {
		owner = d.User.ID
	}
	return core.Record{
		ID:        d.ID,
		OwnerID:   owner,
		ItemName:  d.ItemName,
		Amount:    d.Amount,
		Category:  d.Category,
		Memo:      d.Memo,
		CreatedAt: d.CreatedAt,
	}
}

func toRecords(dtos []recordDTO) []core.Record {
	out := make([]core.Record, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toCore())
	}
	return out
}

// Create posts a new record.
func (r *Records) Create(ctx context.Context, in core.RecordInput) (core.Record, error) {
	if err := in.Validate(); err != nil {
		return core.Record{}, err
	}
	var d recordDTO
	if err := r.c.do(ctx, http.MethodPost, r.base()+"/record", in, &d); err != nil {
		return core.Record{}, err
	}
	rec := d.toCore()
	if rec.OwnerID == 0 {
		rec.OwnerID = in.UserID
	}
	return rec, nil
}

func (r *Records) All(ctx context.Context) ([]core.Record, error) {
	var dtos []recordDTO
	if err := r.c.do(ctx, http.MethodGet, r.base()+"/all", nil, &dtos); err != nil {
		return nil, err
	}
	return toRecords(dtos), nil
}

type recordInfoDTO struct {
	TotalAmount core.Won    `json:"totalAmount"`
	Count       int         `json:"count"`
	Data        []recordDTO `json:"data"`
}

func (r *Records) info(ctx context.Context, path string) (core.RecordInfo, error) {
	var d recordInfoDTO
	if err := r.c.do(ctx, http.MethodGet, r.base()+path, nil, &d); err != nil {
		return core.RecordInfo{}, err
	}
	return core.RecordInfo{TotalAmount: d.TotalAmount, Count: d.Count, Data: toRecords(d.Data)}, nil
}

func (r *Records) Today(ctx context.Context) (core.RecordInfo, error) {
	return r.info(ctx, "/today")
}

func (r *Records) Month(ctx context.Context) (core.RecordInfo, error) {
	return r.info(ctx, "/month")
}

func (r *Records) Latest(ctx context.Context) ([]core.Record, error) {
	var dtos []recordDTO
	if err := r.c.do(ctx, http.MethodGet, r.base()+"/latest", nil, &dtos); err != nil {
		return nil, err
	}
	return toRecords(dtos), nil
}

// WeekTotals maps a weekday name (MONDAY...) to its amount. The server sends
// either a single object or a list of single-entry objects.
type WeekTotals map[string]core.Won

func (w *WeekTotals) UnmarshalJSON(data []byte) error {
	out := WeekTotals{}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []map[string]core.Won
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		for _, m := range list {
			for k, v := range m {
				out[k] += v
			}
		}
	} else {
		var m map[string]core.Won
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		for k, v := range m {
			out[k] = v
		}
	}
	*w = out
	return nil
}

func (r *Records) Week(ctx context.Context) (WeekTotals, error) {
	var w WeekTotals
	if err := r.c.do(ctx, http.MethodGet, r.base()+"/week", nil, &w); err != nil {
		return nil, err
	}
	return w, nil
}

type categoryStatDTO core.CategoryStat

// UnmarshalJSON accepts the [category, amount, count] tuple as well as the
// object form.
func (s *categoryStatDTO) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var tuple []json.RawMessage
		if err := json.Unmarshal(data, &tuple); err != nil {
			return err
		}
		if len(tuple) < 2 {
			return fmt.Errorf("category stat tuple has %d elements", len(tuple))
		}
		if err := json.Unmarshal(tuple[0], &s.Category); err != nil {
			return fmt.Errorf("category stat category: %w", err)
		}
		var amount float64
		if err := json.Unmarshal(tuple[1], &amount); err != nil {
			return fmt.Errorf("category stat amount: %w", err)
		}
		s.Amount = core.Won(amount)
		if len(tuple) > 2 {
			if err := json.Unmarshal(tuple[2], &s.Count); err != nil {
				return fmt.Errorf("category stat count: %w", err)
			}
		}
		return nil
	}
	var obj struct {
		Category core.Category `json:"category"`
		Amount   float64       `json:"amount"`
		Count    int           `json:"count"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*s = categoryStatDTO{Category: obj.Category, Amount: core.Won(obj.Amount), Count: obj.Count}
	return nil
}

func (r *Records) Category(ctx context.Context) ([]core.CategoryStat, error) {
	var dtos []categoryStatDTO
	if err := r.c.do(ctx, http.MethodGet, r.base()+"/category", nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]core.CategoryStat, len(dtos))
	for i, d := range dtos {
		out[i] = core.CategoryStat(d)
	}
	return out, nil
}

// Delete removes a record. Savings deletions are addressed by owner as well.
func (r *Records) Delete(ctx context.Context, id, userID int64) error {
	path := fmt.Sprintf("%s/%d", r.base(), id)
	if r.kind == core.Savings {
		path = fmt.Sprintf("%s/%d/user/%d", r.base(), id, userID)
	}
	return r.c.do(ctx, http.MethodDelete, path, nil, nil)
}
