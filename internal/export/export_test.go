package export

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"savebuddy/internal/core"
)

func sampleRecords() []core.Record {
	at := func(day, hour int) core.Timestamp {
		return core.At(time.Date(2025, 3, day, hour, 5, 9, 0, time.Local))
	}
	return []core.Record{
		{ID: 1, ItemName: "커피", Amount: 4500, Category: core.CategoryFood, CreatedAt: at(3, 9)},
		{ID: 2, ItemName: "택시", Amount: 12000, Category: core.CategoryTransport, Memo: "야근", CreatedAt: at(10, 23)},
		{ID: 3, ItemName: "쇼핑", Amount: 28500, Category: core.CategoryShopping, CreatedAt: at(20, 14)},
	}
}

func TestBuildAll(t *testing.T) {
	now := time.Date(2025, 3, 21, 10, 0, 0, 0, time.Local)
	sheet, err := Build(core.Savings, sampleRecords(), Scope{Kind: ScopeAll}, now)
	require.NoError(t, err)

	require.Len(t, sheet.Rows, 4)
	assert.Equal(t, core.Won(45000), sheet.Total)
	assert.Equal(t, 3, sheet.Count)
	assert.Equal(t, "절약기록_2025-03-21.xlsx", sheet.Filename)
	assert.Equal(t, "절약금액", sheet.Header[5])

	first := sheet.Rows[0]
	assert.Equal(t, 1, first.No)
	assert.Equal(t, "2025. 3. 3.", first.Date)
	assert.Equal(t, "오전 9:05:09", first.Time)
	assert.Equal(t, "-", first.Memo)
	assert.Equal(t, "오후 11:05:09", sheet.Rows[1].Time)
	assert.Equal(t, "야근", sheet.Rows[1].Memo)

	total := sheet.Rows[3]
	assert.Equal(t, "총 합계", total.ItemName)
	assert.Equal(t, core.Won(45000), total.Amount)
	assert.Equal(t, "총 3건", total.Memo)
}

func TestBuildScopes(t *testing.T) {
	now := time.Date(2025, 3, 21, 10, 0, 0, 0, time.Local)

	period := Scope{
		Kind: ScopePeriod,
		From: time.Date(2025, 3, 3, 9, 5, 9, 0, time.Local),
		To:   time.Date(2025, 3, 10, 23, 5, 9, 0, time.Local),
	}
	sheet, err := Build(core.Savings, sampleRecords(), period, now)
	require.NoError(t, err)
	assert.Equal(t, 2, sheet.Count, "period bounds are inclusive")
	assert.Equal(t, core.Won(16500), sheet.Total)
	assert.Equal(t, "절약기록_2025-03-03_2025-03-10.xlsx", sheet.Filename)

	sheet, err = Build(core.Expense, sampleRecords(), Scope{Kind: ScopeCategory, Category: core.CategoryShopping}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, sheet.Count)
	assert.Equal(t, "소비기록_쇼핑_2025-03-21.xlsx", sheet.Filename)
	assert.Equal(t, "소비금액", sheet.Header[5])

	sheet, err = Build(core.Savings, nil, Scope{}, now)
	require.NoError(t, err)
	require.Len(t, sheet.Rows, 1)
	assert.Equal(t, "총 0건", sheet.Rows[0].Memo)
}

func TestBuildRejectsBadScope(t *testing.T) {
	now := time.Now()
	tests := []Scope{
		{Kind: "yearly"},
		{Kind: ScopeCategory, Category: "여행"},
		{Kind: ScopePeriod, From: now, To: now.Add(-time.Hour)},
		{Kind: ScopePeriod},
	}
	for _, s := range tests {
		_, err := Build(core.Savings, sampleRecords(), s, now)
		assert.ErrorIs(t, err, ErrInvalidScope, "%+v", s)
	}
}

func TestWriteXLSX(t *testing.T) {
	sheet, err := Build(core.Savings, sampleRecords(), Scope{Kind: ScopeAll}, time.Now())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sheet))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"절약기록"}, f.GetSheetList())
	rows, err := f.GetRows("절약기록")
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"번호", "날짜", "시간", "항목명", "카테고리", "절약금액", "메모"}, rows[0])
	assert.Equal(t, "총 합계", rows[4][3])
	assert.Equal(t, "45000", rows[4][5])
}

func TestSaveXLSX(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	sheet, err := Build(core.Expense, sampleRecords(), Scope{}, time.Date(2025, 3, 21, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)

	path, err := SaveXLSX(dir, sheet)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "소비기록_2025-03-21.xlsx"), path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
