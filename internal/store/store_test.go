package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ppiankov/reconcile/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walmart() model.Receipt {
	return model.Receipt{
		"merchant": "WALMART",
		"address":  "123 MAIN ST, ANYTOWN, USA",
		"date":     "2023-04-15",
		"total":    "$42.67",
		"items": []any{
			map[string]any{"name": "BANANAS", "qty": json.Number("1"), "unit_price": "$0.59", "total_price": "$0.59"},
			map[string]any{"name": "MILK 1 GAL", "qty": 1, "unit_price": "$3.49", "total_price": "$3.49", "sku": "M1"},
		},
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestStore_SaveWritesBothFiles(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "receipts"))

	result, err := s.Save(walmart())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReceiptID)
	assert.False(t, result.Duplicate)
	assert.Equal(t, 2, result.Items)

	assert.Equal(t,
		"Id,Field,Value\n"+
			"1,merchant,WALMART\n"+
			"1,address,\"123 MAIN ST, ANYTOWN, USA\"\n"+
			"1,date,2023-04-15\n"+
			"1,total,$42.67\n",
		readFile(t, s.HeaderPath()))

	assert.Equal(t,
		"id,receipt_id,name,qty,unit_price,total_price,sku\n"+
			"1,1,BANANAS,1,$0.59,$0.59,\n"+
			"2,1,MILK 1 GAL,1,$3.49,$3.49,M1\n",
		readFile(t, s.LinePath()))
}

func TestStore_DuplicateIsSkipped(t *testing.T) {
	s := New(t.TempDir())

	_, err := s.Save(walmart())
	require.NoError(t, err)
	before := readFile(t, s.LinePath())

	result, err := s.Save(walmart())
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, 1, result.ReceiptID)
	assert.Equal(t, before, readFile(t, s.LinePath()), "duplicate must not append lines")
}

func TestStore_EmptyHeaderFieldsAreNotWrittenOrMatched(t *testing.T) {
	s := New(t.TempDir())
	r := model.Receipt{"merchant": "Cafe", "address": "", "date": "2024-01-01", "total": "$3", "items": []any{}}

	first, err := s.Save(r)
	require.NoError(t, err)
	assert.NotContains(t, readFile(t, s.HeaderPath()), "address")

	second, err := s.Save(r)
	require.NoError(t, err)
	assert.False(t, second.Duplicate, "a stored receipt missing a field never matches")
	assert.Equal(t, first.ReceiptID+1, second.ReceiptID)
}

func TestStore_IDsContinueFromMax(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, HeaderFile),
		[]byte("Id,Field,Value\n7,merchant,Old\nbad,merchant,Skip\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, LineFile),
		[]byte("id,receipt_id,name,qty,unit_price,total_price\n40,7,Thing,1,$1,$1\n"), 0644))

	s := New(dir)
	result, err := s.Save(walmart())
	require.NoError(t, err)
	assert.Equal(t, 8, result.ReceiptID)

	lines := readFile(t, s.LinePath())
	assert.Contains(t, lines, "41,8,BANANAS,1,$0.59,$0.59\n")
	assert.Contains(t, lines, "42,8,MILK 1 GAL,1,$3.49,$3.49\n")
	assert.NotContains(t, lines, "M1", "keys beyond the existing columns are dropped")
}

func TestStore_EmptyHeaderReceiptKeepsItsID(t *testing.T) {
	s := New(t.TempDir())

	blank := model.EmptyReceipt()
	blank["items"] = []any{map[string]any{"name": "ORPHAN", "qty": 1}}
	first, err := s.Save(blank)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ReceiptID)

	second, err := s.Save(model.Receipt{"merchant": "B", "address": "2 High St", "date": "2024-03-03", "total": "$2",
		"items": []any{map[string]any{"name": "MILK", "qty": 1}}})
	require.NoError(t, err)
	assert.Equal(t, 2, second.ReceiptID)

	receipts, err := s.ReadAll()
	require.NoError(t, err)
	require.Len(t, receipts, 2)

	assert.Equal(t, 1, receipts[0].ID)
	assert.Equal(t, "", receipts[0].Merchant)
	require.Len(t, receipts[0].Items, 1)
	assert.Equal(t, "ORPHAN", receipts[0].Items[0]["name"])

	assert.Equal(t, "B", receipts[1].Merchant)
	require.Len(t, receipts[1].Items, 1)
	assert.Equal(t, "MILK", receipts[1].Items[0]["name"])
}

func TestStore_HeaderWriteFailureDoesNotReportDuplicate(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	// header.csv points into a missing directory: it reads as absent but
	// cannot be created
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing", HeaderFile), filepath.Join(dir, HeaderFile)))
	_, err := s.Save(walmart())
	require.Error(t, err)
	assert.Contains(t, readFile(t, s.LinePath()), ",1,BANANAS,")

	require.NoError(t, os.Remove(filepath.Join(dir, HeaderFile)))
	result, err := s.Save(walmart())
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, 2, result.ReceiptID, "the ID used by the orphan lines is skipped")

	got, err := s.Read(2)
	require.NoError(t, err)
	assert.Equal(t, "WALMART", got.Merchant)
	assert.Len(t, got.Items, 2)
}

func TestStore_ReadAll(t *testing.T) {
	s := New(t.TempDir())

	receipts, err := s.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, receipts)

	_, err = s.Save(walmart())
	require.NoError(t, err)
	second := model.Receipt{"merchant": "Deli", "address": "1 Side St", "date": "2024-02-02", "total": "$7",
		"items": []any{map[string]any{"name": "Sub", "qty": 2, "unit_price": "$3.50", "total_price": "$7"}}}
	_, err = s.Save(second)
	require.NoError(t, err)

	receipts, err = s.ReadAll()
	require.NoError(t, err)
	require.Len(t, receipts, 2)

	assert.Equal(t, "WALMART", receipts[0].Merchant)
	assert.Len(t, receipts[0].Items, 2)
	assert.Equal(t, "M1", receipts[0].Items[1]["sku"])
	assert.NotContains(t, receipts[0].Items[0], "receipt_id")

	assert.Equal(t, "Deli", receipts[1].Merchant)
	assert.Equal(t, []map[string]string{{"name": "Sub", "qty": "2", "unit_price": "$3.50", "total_price": "$7", "sku": ""}}, receipts[1].Items)

	got, err := s.Read(2)
	require.NoError(t, err)
	assert.Equal(t, "1 Side St", got.Address)

	_, err = s.Read(99)
	assert.ErrorIs(t, err, ErrReceiptNotFound)
}

func TestStore_NonObjectItemsAreIgnored(t *testing.T) {
	s := New(t.TempDir())
	r := walmart()
	r["items"] = []any{"stray", map[string]any{"name": "Only"}}

	result, err := s.Save(r)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Items)
}

func TestStore_FilePath(t *testing.T) {
	s := New("/data/receipts")

	p, err := s.FilePath("header.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/receipts", "header.csv"), p)

	for _, name := range []string{"../secrets", "other.csv", "", "line.csv/.."} {
		_, err := s.FilePath(name)
		assert.ErrorIs(t, err, ErrUnknownFile, name)
	}
}

func TestStore_ConcurrentSaves(t *testing.T) {
	s := New(t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := walmart()
			r["total"] = "$" + strings.Repeat("9", i+1)
			_, err := s.Save(r)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	receipts, err := s.ReadAll()
	require.NoError(t, err)
	require.Len(t, receipts, 10)
	for i, r := range receipts {
		assert.Equal(t, i+1, r.ID)
		assert.Len(t, r.Items, 2)
	}
}
