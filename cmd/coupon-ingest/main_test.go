package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

func TestRuleReader(t *testing.T) {
	input := strings.Join([]string{
		"Code,Kind,Value,min_order_amount,usage_limit,per_user_limit,expires_at,user_class,active,skus",
		"summer20,percentage,20,999,100,1,2026-12-31T23:59:59Z,,true,",
		"flat50,FIXED,50,,,,,premium,,TEE-BLK-M|CAP-OLV-OS",
		"broken,percentage,120,,,,,,,",
		"nokind,,10,,,,,,,",
		"badvalue,fixed,ten,,,,,,,",
		"off,percentage,5,,,,,,false,",
	}, "\n")

	rr, err := newRuleReader(strings.NewReader(input))
	require.NoError(t, err)

	var (
		rules    []coupon.Rule
		rejected []int
	)
	for {
		rule, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			var rowErr *rowError
			require.ErrorAs(t, err, &rowErr)
			rejected = append(rejected, rowErr.Line)
			continue
		}
		rules = append(rules, rule)
	}

	require.Len(t, rules, 3)
	assert.Equal(t, []int{4, 5, 6}, rejected)

	summer := rules[0]
	assert.Equal(t, "SUMMER20", summer.Code)
	assert.Equal(t, coupon.KindPercentage, summer.Kind)
	assert.True(t, decimal.NewFromInt(20).Equal(summer.Value))
	assert.True(t, decimal.NewFromInt(999).Equal(summer.MinOrderAmount))
	require.NotNil(t, summer.UsageLimit)
	assert.Equal(t, 100, *summer.UsageLimit)
	assert.Equal(t, 1, summer.PerUserLimit)
	require.NotNil(t, summer.ExpiresAt)
	assert.Equal(t, time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC), summer.ExpiresAt.UTC())
	assert.True(t, summer.Active)

	flat := rules[1]
	assert.Equal(t, coupon.KindFixed, flat.Kind)
	assert.Equal(t, coupon.ClassPremium, flat.UserClass)
	assert.Nil(t, flat.UsageLimit)
	assert.Equal(t, []string{"TEE-BLK-M", "CAP-OLV-OS"}, flat.SKUs)

	assert.False(t, rules[2].Active)
}

func TestRuleReader_MissingColumn(t *testing.T) {
	_, err := newRuleReader(strings.NewReader("code,value\nA,1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing column "kind"`)
}

type fakeStore struct {
	mu      sync.Mutex
	codes   map[string]bool
	batches int
}

func newFakeStore(existing ...string) *fakeStore {
	s := &fakeStore{codes: make(map[string]bool)}
	for _, c := range existing {
		s.codes[c] = true
	}
	return s
}

func (s *fakeStore) CreateBatch(_ context.Context, rules []coupon.Rule) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	var n int
	for _, r := range rules {
		if !s.codes[r.Code] {
			s.codes[r.Code] = true
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Create(_ context.Context, rule coupon.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes[rule.Code] {
		return coupon.ErrDuplicateCode
	}
	s.codes[rule.Code] = true
	return nil
}

func writeGzip(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestImporter_Run(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGzip(t, dir, "a.csv.gz", "code,kind,value\nA1,fixed,10\nA2,percentage,5\nSHARED,fixed,20\n"),
		writeGzip(t, dir, "b.csv.gz", "code,kind,value\nB1,fixed,10\nshared,fixed,25\nbad,percentage,0\nOLD,fixed,1\n"),
	}

	store := newFakeStore("OLD")
	imp := &importer{
		store:     store,
		batchSize: 2,
		filter:    bloom.NewWithEstimates(1000, bloomFPR),
	}
	require.NoError(t, imp.run(context.Background(), files))

	assert.EqualValues(t, 6, imp.stats.read.Load())
	assert.EqualValues(t, 1, imp.stats.rejected.Load())
	assert.EqualValues(t, 4, imp.stats.inserted)
	assert.EqualValues(t, 2, imp.stats.duplicates, "second SHARED and existing OLD")
	for _, code := range []string{"A1", "A2", "B1", "SHARED", "OLD"} {
		assert.True(t, store.codes[code], code)
	}
	assert.GreaterOrEqual(t, store.batches, 2)
}

func TestImporter_MissingFile(t *testing.T) {
	imp := &importer{
		store:     newFakeStore(),
		batchSize: 10,
		filter:    bloom.NewWithEstimates(10, bloomFPR),
	}
	err := imp.run(context.Background(), []string{filepath.Join(t.TempDir(), "missing.csv.gz")})
	require.Error(t, err)
}
