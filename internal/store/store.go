// Package store appends receipts to a pair of CSV files and reads them back.
//
// header.csv holds one Id,Field,Value row per non-empty header field and
// line.csv one row per line item. Both files are append-only.
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/ppiankov/reconcile/internal/metrics"
	"github.com/ppiankov/reconcile/internal/model"
)

const (
	HeaderFile = "header.csv"
	LineFile   = "line.csv"
)

var (
	// ErrReceiptNotFound is returned by Read for an unknown receipt ID
	ErrReceiptNotFound = errors.New("receipt not found")

	// ErrUnknownFile is returned by FilePath for anything but the two store files
	ErrUnknownFile = errors.New("unknown receipt file")
)

var (
	headerColumns = []string{"Id", "Field", "Value"}
	lineIDColumns = []string{"id", "receipt_id"}
)

// SaveResult describes the outcome of a Save
type SaveResult struct {
	ReceiptID  int    `json:"receipt_id"`
	Duplicate  bool   `json:"duplicate"`
	Items      int    `json:"items"`
	HeaderPath string `json:"header_csv"`
	LinePath   string `json:"line_csv"`
}

// StoredReceipt is a receipt rebuilt from the CSV files. All values are
// strings as written.
type StoredReceipt struct {
	ID       int                 `json:"id"`
	Merchant string              `json:"merchant"`
	Address  string              `json:"address"`
	Date     string              `json:"date"`
	Total    string              `json:"total"`
	Items    []map[string]string `json:"items"`

	fields map[string]string
}

func (r *StoredReceipt) set(field, value string) {
	if r.fields == nil {
		r.fields = make(map[string]string)
	}
	r.fields[field] = value

	switch field {
	case model.FieldMerchant:
		r.Merchant = value
	case model.FieldAddress:
		r.Address = value
	case model.FieldDate:
		r.Date = value
	case model.FieldTotal:
		r.Total = value
	}
}

// matches reports whether every header field was stored and equals the
// candidate's value. A stored receipt with an empty header field never
// matches, because empty fields are not written.
func (r *StoredReceipt) matches(candidate model.Receipt) bool {
	for _, f := range model.HeaderFields {
		stored, ok := r.fields[f]
		if !ok || stored != candidate.Field(f) {
			return false
		}
	}
	return true
}

// Store writes receipts under one directory. Saves are serialised; reads
// take a snapshot of the files as they are.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates a store rooted at dir. The directory is created on first save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store directory
func (s *Store) Dir() string {
	return s.dir
}

// HeaderPath returns the path of header.csv
func (s *Store) HeaderPath() string {
	return filepath.Join(s.dir, HeaderFile)
}

// LinePath returns the path of line.csv
func (s *Store) LinePath() string {
	return filepath.Join(s.dir, LineFile)
}

// FilePath resolves a store file by name. Only header.csv and line.csv are
// served; any other name, including paths, is rejected.
func (s *Store) FilePath(name string) (string, error) {
	switch name {
	case HeaderFile:
		return s.HeaderPath(), nil
	case LineFile:
		return s.LinePath(), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFile, name)
	}
}

// Save appends r unless a receipt with the same merchant, address, date
// and total is already stored.
//
// The receipt ID follows the highest ID in either file, so a receipt whose
// header fields are all empty (no header rows) still reserves its ID.
// line.csv is written before header.csv: a failed header write leaves
// orphan lines whose ID is skipped, never a header that later reads as a
// duplicate of a receipt with no items.
func (s *Store) Save(r model.Receipt) (*SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &SaveResult{HeaderPath: s.HeaderPath(), LinePath: s.LinePath()}

	existing, err := s.readHeaders()
	if err != nil {
		return nil, err
	}

	columns, rows, err := readCSV(s.LinePath())
	if err != nil {
		return nil, err
	}

	lastID := maxReceiptID(columns, rows)
	for _, stored := range existing {
		if stored.matches(r) {
			result.ReceiptID = stored.ID
			result.Duplicate = true
			metrics.ReceiptsSaved.WithLabelValues("true").Inc()
			return result, nil
		}
		if stored.ID > lastID {
			lastID = stored.ID
		}
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	result.ReceiptID = lastID + 1

	items := r.Items()
	if err := s.appendLines(result.ReceiptID, items, columns, rows); err != nil {
		return nil, err
	}
	if err := s.appendHeader(result.ReceiptID, r); err != nil {
		return nil, err
	}
	result.Items = len(items)

	metrics.ReceiptsSaved.WithLabelValues("false").Inc()
	return result, nil
}

func (s *Store) appendHeader(receiptID int, r model.Receipt) error {
	var rows [][]string
	for _, f := range model.HeaderFields {
		if v := r.Field(f); v != "" {
			rows = append(rows, []string{strconv.Itoa(receiptID), f, v})
		}
	}
	return appendRows(s.HeaderPath(), headerColumns, rows)
}

// appendLines writes items in the column order of an existing line.csv, or
// creates it with the canonical columns followed by the items' extra keys
// sorted. Keys a later receipt adds beyond the file's columns are dropped.
func (s *Store) appendLines(receiptID int, items []model.Item, columns []string, rows [][]string) error {
	if columns == nil {
		columns = append(append([]string{}, lineIDColumns...), model.ItemColumns(items)...)
	}

	nextID := maxID(rows) + 1
	out := make([][]string, 0, len(items))
	for i, item := range items {
		row := make([]string, len(columns))
		for c, col := range columns {
			switch col {
			case "id":
				row[c] = strconv.Itoa(nextID + i)
			case "receipt_id":
				row[c] = strconv.Itoa(receiptID)
			default:
				row[c] = model.FormatValue(item[col])
			}
		}
		out = append(out, row)
	}

	return appendRows(s.LinePath(), columns, out)
}

// ReadAll rebuilds every stored receipt in ID order. A receipt saved with
// all header fields empty has only line rows and comes back with empty
// header values.
func (s *Store) ReadAll() ([]*StoredReceipt, error) {
	receipts, err := s.readHeaders()
	if err != nil {
		return nil, err
	}

	byID := make(map[int]*StoredReceipt, len(receipts))
	for _, r := range receipts {
		r.Items = []map[string]string{}
		byID[r.ID] = r
	}

	columns, rows, err := readCSV(s.LinePath())
	if err != nil {
		return nil, err
	}

	receiptCol := indexOf(columns, "receipt_id")
	for _, row := range rows {
		if receiptCol < 0 || receiptCol >= len(row) {
			continue
		}
		id, err := strconv.Atoi(row[receiptCol])
		if err != nil {
			continue
		}
		r, ok := byID[id]
		if !ok {
			r = &StoredReceipt{ID: id, Items: []map[string]string{}}
			byID[id] = r
			receipts = append(receipts, r)
		}

		item := make(map[string]string, len(columns))
		for c, col := range columns {
			if col == "id" || col == "receipt_id" || c >= len(row) {
				continue
			}
			item[col] = row[c]
		}
		r.Items = append(r.Items, item)
	}

	sort.Slice(receipts, func(i, j int) bool { return receipts[i].ID < receipts[j].ID })
	return receipts, nil
}

// Read returns one stored receipt
func (s *Store) Read(id int) (*StoredReceipt, error) {
	receipts, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	for _, r := range receipts {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrReceiptNotFound, id)
}

// readHeaders groups header.csv rows by receipt ID, sorted by ID.
// Rows with a non-numeric ID or the wrong field count are skipped.
func (s *Store) readHeaders() ([]*StoredReceipt, error) {
	_, rows, err := readCSV(s.HeaderPath())
	if err != nil {
		return nil, err
	}

	byID := make(map[int]*StoredReceipt)
	for _, row := range rows {
		if len(row) != len(headerColumns) {
			continue
		}
		id, err := strconv.Atoi(row[0])
		if err != nil {
			continue
		}
		r, ok := byID[id]
		if !ok {
			r = &StoredReceipt{ID: id}
			byID[id] = r
		}
		r.set(row[1], row[2])
	}

	receipts := make([]*StoredReceipt, 0, len(byID))
	for _, r := range byID {
		receipts = append(receipts, r)
	}
	sort.Slice(receipts, func(i, j int) bool { return receipts[i].ID < receipts[j].ID })
	return receipts, nil
}

// readCSV returns the column row and data rows of path. A missing file
// yields nil columns and no error.
func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	columns, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return columns, rows, nil
}

// appendRows appends rows to path, writing columns first when the file is new or empty
func appendRows(path string, columns []string, rows [][]string) (err error) {
	info, statErr := os.Stat(path)
	isNew := errors.Is(statErr, os.ErrNotExist) || (statErr == nil && info.Size() == 0)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", filepath.Base(path), closeErr)
		}
	}()

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(columns); err != nil {
			return fmt.Errorf("write %s: %w", filepath.Base(path), err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func maxID(rows [][]string) int {
	highest := 0
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if id, err := strconv.Atoi(row[0]); err == nil && id > highest {
			highest = id
		}
	}
	return highest
}

// maxReceiptID returns the highest receipt_id referenced by line.csv rows
func maxReceiptID(columns []string, rows [][]string) int {
	col := indexOf(columns, "receipt_id")
	if col < 0 {
		return 0
	}
	highest := 0
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		if id, err := strconv.Atoi(row[col]); err == nil && id > highest {
			highest = id
		}
	}
	return highest
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
