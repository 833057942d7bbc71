package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestSQLite(t *testing.T, batchSize int) *SQLiteStore {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test_crawler.db")
	store, err := NewSQLiteStore(context.Background(), dbFile, SQLiteOptions{MaxConns: 4, BatchSize: batchSize})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRow(id int64) DocumentRow {
	return DocumentRow{
		ID:         id,
		URL:        fmt.Sprintf("https://example.com/p%d", id),
		Domain:     "example.com",
		CreateTime: time.Date(2025, 6, 22, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLiteStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t, 500)

	t.Run("InsertAndSelect", func(t *testing.T) {
		if err := store.Insert(ctx, testRow(1)); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}

		row, err := store.SelectByID(ctx, 1)
		if err != nil {
			t.Fatalf("SelectByID failed: %v", err)
		}
		if row.URL != "https://example.com/p1" || row.Domain != "example.com" {
			t.Errorf("unexpected row %+v", row)
		}
		if row.Stored {
			t.Error("new row must not be stored")
		}
		if !row.CreateTime.Equal(testRow(1).CreateTime) {
			t.Errorf("CreateTime = %v", row.CreateTime)
		}
		if !row.UpdateTime.IsZero() {
			t.Errorf("UpdateTime = %v, want zero", row.UpdateTime)
		}
	})

	t.Run("DuplicateInsertFails", func(t *testing.T) {
		if err := store.Insert(ctx, testRow(1)); err == nil {
			t.Error("expected primary key violation")
		}
	})

	t.Run("PartialUpdate", func(t *testing.T) {
		now := time.Date(2025, 6, 23, 8, 30, 0, 0, time.UTC)
		err := store.Update(ctx, DocumentPatch{
			ID:            1,
			Title:         Ptr("Example"),
			Stored:        Ptr(true),
			ContentLength: Ptr(int64(2048)),
			UpdateTime:    &now,
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		row, err := store.SelectByID(ctx, 1)
		if err != nil {
			t.Fatalf("SelectByID failed: %v", err)
		}
		if row.Title != "Example" || !row.Stored || row.ContentLength != 2048 {
			t.Errorf("patch not applied: %+v", row)
		}
		if row.URL != "https://example.com/p1" || row.Domain != "example.com" {
			t.Errorf("untouched fields changed: %+v", row)
		}
		if !row.UpdateTime.Equal(now) {
			t.Errorf("UpdateTime = %v, want %v", row.UpdateTime, now)
		}

		if err := store.Update(ctx, DocumentPatch{ID: 1, Stored: Ptr(false)}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		row, _ = store.SelectByID(ctx, 1)
		if row.Stored {
			t.Error("stored=false patch not applied")
		}
	})

	t.Run("UpdateErrors", func(t *testing.T) {
		if err := store.Update(ctx, DocumentPatch{ID: 1}); !errors.Is(err, ErrEmptyPatch) {
			t.Errorf("empty patch error = %v", err)
		}
		if err := store.Update(ctx, DocumentPatch{ID: 999, Title: Ptr("x")}); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing row error = %v", err)
		}
	})

	t.Run("SelectMissing", func(t *testing.T) {
		if _, err := store.SelectByID(ctx, 404); !errors.Is(err, ErrNotFound) {
			t.Errorf("SelectByID error = %v, want ErrNotFound", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := store.Insert(ctx, testRow(2)); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if err := store.DeleteByID(ctx, 2); err != nil {
			t.Fatalf("DeleteByID failed: %v", err)
		}
		if err := store.DeleteByID(ctx, 2); !errors.Is(err, ErrNotFound) {
			t.Errorf("second delete error = %v", err)
		}
	})
}

func TestSQLiteInsertBatch(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t, 50)

	rows := make([]DocumentRow, 0, 120)
	for id := int64(1); id <= 120; id++ {
		rows = append(rows, testRow(id))
	}

	n, err := store.InsertBatch(ctx, rows)
	if err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	if n != 120 {
		t.Errorf("InsertBatch = %d, want 120", n)
	}

	count, err := store.Count(ctx)
	if err != nil || count != 120 {
		t.Errorf("Count = %d, %v", count, err)
	}
	maxID, err := store.MaxID(ctx)
	if err != nil || maxID != 120 {
		t.Errorf("MaxID = %d, %v", maxID, err)
	}

	if n, err := store.InsertBatch(ctx, nil); err != nil || n != 0 {
		t.Errorf("empty InsertBatch = %d, %v", n, err)
	}
}

func TestSQLiteInsertBatchPartialFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t, 50)

	// The 71st row repeats id 5 so the second batch violates the primary key
	rows := make([]DocumentRow, 0, 120)
	for id := int64(1); id <= 120; id++ {
		rows = append(rows, testRow(id))
	}
	rows[70] = testRow(5)

	n, err := store.InsertBatch(ctx, rows)
	if err == nil {
		t.Fatal("expected InsertBatch to fail")
	}
	if n != 50 {
		t.Errorf("InsertBatch = %d, want 50 committed rows", n)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != int64(n) {
		t.Errorf("Count = %d, want %d (no rows from the failed batch)", count, n)
	}
	if _, err := store.SelectByID(ctx, 60); !errors.Is(err, ErrNotFound) {
		t.Errorf("row 60 from the rolled back batch is visible: %v", err)
	}
}

func TestSQLitePaging(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t, 500)

	var rows []DocumentRow
	for _, id := range []int64{3, 1, 7, 5, 9} {
		rows = append(rows, testRow(id))
	}
	if _, err := store.InsertBatch(ctx, rows); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	page, err := store.SelectByPage(ctx, 2, 2)
	if err != nil {
		t.Fatalf("SelectByPage failed: %v", err)
	}
	if len(page) != 2 || page[0].ID != 5 || page[1].ID != 7 {
		t.Errorf("page 2 = %+v", page)
	}

	if _, err := store.SelectByPage(ctx, 0, 2); err == nil {
		t.Error("expected error for page 0")
	}

	after, err := store.SelectAfter(ctx, 3, 10)
	if err != nil {
		t.Fatalf("SelectAfter failed: %v", err)
	}
	var ids []int64
	for _, row := range after {
		ids = append(ids, row.ID)
	}
	if fmt.Sprint(ids) != "[5 7 9]" {
		t.Errorf("SelectAfter ids = %v", ids)
	}
}

func TestSQLiteSessions(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t, 10)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			session, err := store.Session(ctx)
			if err != nil {
				errs <- err
				return
			}
			defer func() { _ = session.Release() }()

			var rows []DocumentRow
			for i := 0; i < 25; i++ {
				rows = append(rows, testRow(int64(worker*100+i+1)))
			}
			if _, err := session.InsertBatch(ctx, rows); err != nil {
				errs <- err
				return
			}
			err = session.Update(ctx, DocumentPatch{ID: int64(worker*100 + 1), Stored: Ptr(true)})
			if err != nil {
				errs <- err
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("session error: %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil || count != 100 {
		t.Errorf("Count = %d, %v", count, err)
	}
}

func TestSQLiteReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	dbFile := filepath.Join(t.TempDir(), "reopen.db")

	store, err := NewSQLiteStore(ctx, dbFile, SQLiteOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Insert(ctx, testRow(42)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	store, err = NewSQLiteStore(ctx, dbFile, SQLiteOptions{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	if maxID, err := store.MaxID(ctx); err != nil || maxID != 42 {
		t.Errorf("MaxID after reopen = %d, %v", maxID, err)
	}
}
