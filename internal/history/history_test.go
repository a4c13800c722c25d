package history

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/shopspring/decimal"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLoadMissingFileReturnsEmptyHistory(t *testing.T) {
	store := NewStore(NewFileBackend(filepath.Join(t.TempDir(), "history.json")))

	h, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if h.Version != CurrentVersion || len(h.Entries) != 0 {
		t.Fatalf("expected fresh history, got %+v", h)
	}
}

func TestLoadCorruptFileResetsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	store := NewStore(NewFileBackend(path))

	h, err := store.Load(context.Background())
	if err == nil {
		t.Fatalf("expected parse failure to be reported")
	}
	if h.Version != CurrentVersion || len(h.Entries) != 0 {
		t.Fatalf("expected fresh history after corrupt file, got %+v", h)
	}
}

func TestLoadAcceptsNumericPrices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	content := `{"version":1,"entries":[{"timestamp":1700000000000,"price":64000.5}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	h, err := NewStore(NewFileBackend(path)).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(h.Entries) != 1 || !h.Entries[0].Price.Equal(decimal.RequireFromString("64000.5")) {
		t.Fatalf("unexpected entries: %+v", h.Entries)
	}
}

func TestRecordEvictsExpiredEntriesAndPersists(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 14, 3, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "history.json")
	store := NewStore(NewFileBackend(path)).WithClock(fixedClock(now))

	h := New()
	h.Entries = append(h.Entries,
		Sample{Timestamp: now.Add(-25 * time.Hour).UnixMilli(), Price: decimal.NewFromInt(1)},
		Sample{Timestamp: now.Add(-23 * time.Hour).UnixMilli(), Price: decimal.NewFromInt(2)},
		Sample{Timestamp: now.Add(-48 * time.Hour).UnixMilli(), Price: decimal.NewFromInt(3)},
	)

	sample, err := store.Record(context.Background(), &h, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if sample.Timestamp != now.UnixMilli() {
		t.Fatalf("expected sample stamped with now, got %d", sample.Timestamp)
	}
	if len(h.Entries) != 2 {
		t.Fatalf("expected 2 entries after eviction, got %d", len(h.Entries))
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cutoff := now.Add(-Retention).UnixMilli()
	if len(loaded.Entries) != 2 {
		t.Fatalf("expected persisted post-eviction set, got %d entries", len(loaded.Entries))
	}
	for _, entry := range loaded.Entries {
		if entry.Timestamp < cutoff {
			t.Fatalf("entry %d older than retention window survived", entry.Timestamp)
		}
	}
}

func TestFindApproxPicksMostRecentOldEnoughSample(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 14, 3, 0, time.UTC)
	store := NewStore(NewFileBackend(filepath.Join(t.TempDir(), "h.json"))).WithClock(fixedClock(now))

	old := Sample{Timestamp: now.Add(-20 * time.Minute).UnixMilli(), Price: decimal.NewFromInt(99)}
	recent := Sample{Timestamp: now.Add(-5 * time.Minute).UnixMilli(), Price: decimal.NewFromInt(101)}
	older := Sample{Timestamp: now.Add(-40 * time.Minute).UnixMilli(), Price: decimal.NewFromInt(50)}
	h := History{Version: CurrentVersion, Entries: []Sample{recent, old, older}}

	got, ok := store.FindApprox(h, 15*time.Minute)
	if !ok {
		t.Fatalf("expected a reference sample")
	}
	if got.Timestamp != old.Timestamp {
		t.Fatalf("expected t-20m sample, got %s", got.Time())
	}
}

func TestFindApproxNoQualifyingSample(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 14, 3, 0, time.UTC)
	store := NewStore(NewFileBackend(filepath.Join(t.TempDir(), "h.json"))).WithClock(fixedClock(now))
	h := History{Version: CurrentVersion, Entries: []Sample{
		{Timestamp: now.Add(-5 * time.Minute).UnixMilli(), Price: decimal.NewFromInt(1)},
	}}

	if _, ok := store.FindApprox(h, 15*time.Minute); ok {
		t.Fatalf("expected no reference sample")
	}
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*params.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*params.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3BackendRoundTrip(t *testing.T) {
	backend := &S3Backend{client: &fakeS3{objects: map[string][]byte{}}, bucket: "bucket", key: "price_history.json"}

	if _, err := backend.Read(context.Background()); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(backend).WithClock(fixedClock(now))
	h, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := store.Record(context.Background(), &h, decimal.NewFromInt(42)); err != nil {
		t.Fatalf("record: %v", err)
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load after record: %v", err)
	}
	if len(loaded.Entries) != 1 || !loaded.Entries[0].Price.Equal(decimal.NewFromInt(42)) {
		t.Fatalf("unexpected entries: %+v", loaded.Entries)
	}
}
