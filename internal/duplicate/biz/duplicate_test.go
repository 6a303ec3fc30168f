package biz

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	assetbiz "github.com/timxs/storage-toolkit/internal/asset/biz"
	apperrors "github.com/timxs/storage-toolkit/internal/pkg/errors"
	"github.com/timxs/storage-toolkit/internal/pkg/logger"
	"github.com/timxs/storage-toolkit/internal/settings"
	"github.com/timxs/storage-toolkit/internal/status"
)

type fakeCounter struct {
	counts map[string]int
}

func (f *fakeCounter) ReferenceCount(ctx context.Context, assetID string) (int, error) {
	return f.counts[assetID], nil
}

// fakeStatusStore 内存扫描状态，准入沿用 Status.InProgress
type fakeStatusStore struct {
	mu sync.Mutex
	st *status.Status
}

func (f *fakeStatusStore) Get(ctx context.Context, scanType string) (*status.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := *f.st
	return &st, nil
}

func (f *fakeStatusStore) Begin(ctx context.Context, scanType string, timeout time.Duration) (*status.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	if f.st.InProgress(timeout, now) {
		return nil, apperrors.New(apperrors.ErrScanInProgress)
	}
	f.st.Phase = status.PhaseScanning
	f.st.StartTime = &now
	f.st.ErrorMessage = ""
	st := *f.st
	return &st, nil
}

func (f *fakeStatusStore) Complete(ctx context.Context, scanType string, stats map[string]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.st.Phase = status.PhaseCompleted
	f.st.LastScanTime = &now
	f.st.Stats = stats
	return nil
}

func (f *fakeStatusStore) Fail(ctx context.Context, scanType string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st.Phase = status.PhaseError
	f.st.ErrorMessage = message
	return nil
}

func (f *fakeStatusStore) Reset(ctx context.Context, scanType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st = &status.Status{ScanType: scanType, Phase: status.PhaseNone, Stats: map[string]int64{}}
	return nil
}

type fakeGroupRepo struct {
	mu     sync.Mutex
	groups []*Group
}

func (f *fakeGroupRepo) MarkAllPendingDelete(ctx context.Context) error { return nil }

func (f *fakeGroupRepo) DeletePendingDelete(ctx context.Context) error { return nil }

func (f *fakeGroupRepo) CreateBatch(ctx context.Context, groups []*Group) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, groups...)
	return nil
}

func (f *fakeGroupRepo) List(ctx context.Context, page, size int) ([]*Group, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups, int64(len(f.groups)), nil
}

func (f *fakeGroupRepo) DeleteAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = nil
	return nil
}

type fakeSettings struct {
	cfg *settings.ScanSettings
}

func (f *fakeSettings) Load(ctx context.Context) *settings.ScanSettings { return f.cfg }

type emptyAssetRepo struct{}

func (emptyAssetRepo) ListAll(ctx context.Context) ([]*assetbiz.Asset, error) { return nil, nil }

func (emptyAssetRepo) ListByPolicies(ctx context.Context, policyNames []string) ([]*assetbiz.Asset, error) {
	return nil, nil
}

func (emptyAssetRepo) GetByID(ctx context.Context, id string) (*assetbiz.Asset, error) {
	return nil, nil
}

func (emptyAssetRepo) Count(ctx context.Context) (int64, error) { return 0, nil }

type emptyPolicyRepo struct{}

func (emptyPolicyRepo) ListAll(ctx context.Context) ([]*assetbiz.Policy, error) { return nil, nil }

type emptyGroupCatalogRepo struct{}

func (emptyGroupCatalogRepo) ListAll(ctx context.Context) ([]*assetbiz.Group, error) { return nil, nil }

type fakeFetcher struct {
	contents map[string][]byte
}

func (f *fakeFetcher) Open(ctx context.Context, permalink string) (io.ReadCloser, error) {
	data, ok := f.contents[permalink]
	if !ok {
		return nil, errors.New("not found: " + permalink)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// stallFetcher 对部分附件返回不感知取消、按字节慢速吐出的流
type stallFetcher struct {
	fast  map[string][]byte
	slow  map[string][]byte
	delay time.Duration
}

func (f *stallFetcher) Open(ctx context.Context, permalink string) (io.ReadCloser, error) {
	if data, ok := f.fast[permalink]; ok {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	if data, ok := f.slow[permalink]; ok {
		return io.NopCloser(&stallReader{delay: f.delay, data: data}), nil
	}
	return nil, errors.New("not found: " + permalink)
}

type stallReader struct {
	delay time.Duration
	data  []byte
}

func (r *stallReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	time.Sleep(r.delay)
	n := copy(p, r.data[:1])
	r.data = r.data[n:]
	return n, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.DefaultConfig())
	require.NoError(t, err)
	return log
}

func testAsset(id, permalink string, size int64, uploadedAt time.Time) *assetbiz.Asset {
	return &assetbiz.Asset{
		ID:         id,
		Permalink:  permalink,
		Size:       size,
		UploadedAt: uploadedAt,
	}
}

func TestBuildGroups(t *testing.T) {
	now := time.Now()
	uc := &DuplicateUseCase{
		refCounter: &fakeCounter{counts: map[string]int{}},
		logger:     testLogger(t),
	}

	digests := map[string][]*assetbiz.Asset{
		"aaa": {
			testAsset("a1", "/upload/a1.png", 1000, now),
			testAsset("a2", "/upload/a2.png", 1000, now.Add(time.Minute)),
			testAsset("a3", "/upload/a3.png", 1000, now.Add(2*time.Minute)),
		},
		"bbb": {
			testAsset("b1", "/upload/b1.png", 500, now),
		},
	}

	groups := uc.buildGroups(context.Background(), digests)

	// 单成员摘要不成组
	require.Len(t, groups, 1)
	g := groups[0]
	assert.Equal(t, "aaa", g.Digest)
	assert.Equal(t, 3, g.FileCount)
	assert.Equal(t, int64(1000), g.FileSize)
	assert.Equal(t, int64(2000), g.SavableSize)
	assert.Equal(t, []string{"a1", "a2", "a3"}, g.MemberAssetIDs)
}

func TestBuildGroupsNoDuplicates(t *testing.T) {
	uc := &DuplicateUseCase{
		refCounter: &fakeCounter{counts: map[string]int{}},
		logger:     testLogger(t),
	}

	digests := map[string][]*assetbiz.Asset{
		"aaa": {testAsset("a1", "/upload/a1.png", 100, time.Now())},
		"bbb": {testAsset("b1", "/upload/b1.png", 200, time.Now())},
	}

	assert.Empty(t, uc.buildGroups(context.Background(), digests))
}

func TestBuildGroupsSortedBySavableSize(t *testing.T) {
	now := time.Now()
	uc := &DuplicateUseCase{
		refCounter: &fakeCounter{counts: map[string]int{}},
		logger:     testLogger(t),
	}

	digests := map[string][]*assetbiz.Asset{
		"small": {
			testAsset("s1", "/upload/s1.png", 100, now),
			testAsset("s2", "/upload/s2.png", 100, now),
		},
		"large": {
			testAsset("l1", "/upload/l1.png", 9000, now),
			testAsset("l2", "/upload/l2.png", 9000, now),
		},
	}

	groups := uc.buildGroups(context.Background(), digests)
	require.Len(t, groups, 2)
	assert.Equal(t, "large", groups[0].Digest)
	assert.Equal(t, "small", groups[1].Digest)
}

func TestRecommendKeepByReferenceCount(t *testing.T) {
	now := time.Now()
	uc := &DuplicateUseCase{
		refCounter: &fakeCounter{counts: map[string]int{"a1": 1, "a2": 5}},
		logger:     testLogger(t),
	}

	members := []*assetbiz.Asset{
		testAsset("a1", "/upload/a1.png", 100, now),
		testAsset("a2", "/upload/a2.png", 100, now.Add(time.Hour)),
	}

	assert.Equal(t, "a2", uc.recommendKeep(context.Background(), members))
}

func TestRecommendKeepTieBreakByUploadTime(t *testing.T) {
	now := time.Now()
	uc := &DuplicateUseCase{
		refCounter: &fakeCounter{counts: map[string]int{"a1": 3, "a2": 3}},
		logger:     testLogger(t),
	}

	// 成员已按上传时间升序传入，引用数打平时保留更早的
	members := []*assetbiz.Asset{
		testAsset("a1", "/upload/a1.png", 100, now.Add(-time.Hour)),
		testAsset("a2", "/upload/a2.png", 100, now),
	}

	assert.Equal(t, "a1", uc.recommendKeep(context.Background(), members))
}

func TestDigestAll(t *testing.T) {
	now := time.Now()
	uc := &DuplicateUseCase{
		refCounter: &fakeCounter{counts: map[string]int{}},
		logger:     testLogger(t),
		fetcher: &fakeFetcher{contents: map[string][]byte{
			"/upload/a1.png": []byte("same-bytes"),
			"/upload/a2.png": []byte("same-bytes"),
			"/upload/b1.png": []byte("other-bytes"),
		}},
	}

	candidates := []*assetbiz.Asset{
		testAsset("a1", "/upload/a1.png", 10, now),
		testAsset("a2", "/upload/a2.png", 10, now),
		testAsset("b1", "/upload/b1.png", 11, now),
		testAsset("missing", "/upload/gone.png", 12, now),
	}
	uc.total.Store(int64(len(candidates)))

	cfg := &settings.ScanSettings{
		DuplicateConcurrency: 4,
		DigestTimeout:        5 * time.Second,
	}
	digests := uc.digestAll(context.Background(), cfg, candidates)

	// 取不到字节的附件被排除出分组，但进度照常推进
	scanned, total := uc.Progress()
	assert.Equal(t, int64(4), scanned)
	assert.Equal(t, int64(4), total)

	var grouped int
	for _, members := range digests {
		grouped += len(members)
		if len(members) == 2 {
			ids := []string{members[0].ID, members[1].ID}
			assert.ElementsMatch(t, []string{"a1", "a2"}, ids)
		}
	}
	assert.Equal(t, 3, grouped)
	assert.Len(t, digests, 2)
}

func TestStartScanRejectsWhileInProgress(t *testing.T) {
	now := time.Now()
	store := &fakeStatusStore{st: &status.Status{
		ScanType:  status.ScanTypeDuplicate,
		Phase:     status.PhaseScanning,
		StartTime: &now,
	}}
	uc := &DuplicateUseCase{
		statusStore: store,
		settings: &fakeSettings{cfg: &settings.ScanSettings{
			TimeoutMinutes:       5,
			DuplicateConcurrency: 4,
			DigestTimeout:        time.Second,
		}},
		logger: testLogger(t),
	}

	_, err := uc.StartScan(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrScanInProgress))
}

func TestStartScanTakesOverStaleScan(t *testing.T) {
	// 超过陈旧阈值的 scanning 状态不再挡新扫描
	staleStart := time.Now().Add(-time.Hour)
	store := &fakeStatusStore{st: &status.Status{
		ScanType:  status.ScanTypeDuplicate,
		Phase:     status.PhaseScanning,
		StartTime: &staleStart,
	}}
	log := testLogger(t)
	assetUC := assetbiz.NewAssetUseCase(emptyAssetRepo{}, emptyPolicyRepo{}, emptyGroupCatalogRepo{}, log)
	uc := NewDuplicateUseCase(&fakeGroupRepo{}, assetUC, &fakeCounter{}, store,
		&fakeSettings{cfg: &settings.ScanSettings{
			TimeoutMinutes:       5,
			DuplicateConcurrency: 4,
			DigestTimeout:        time.Second,
		}},
		&fakeFetcher{}, log)

	st, err := uc.StartScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.PhaseScanning, st.Phase)

	// 没有本地策略时扫描以零统计完成
	require.Eventually(t, func() bool {
		st, err := uc.GetStatus(context.Background())
		return err == nil && st.Phase == status.PhaseCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDigestAllTimedOutAssetExcluded(t *testing.T) {
	now := time.Now()
	uc := &DuplicateUseCase{
		logger: testLogger(t),
		fetcher: &stallFetcher{
			fast: map[string][]byte{
				"/upload/a1.png": []byte("same-bytes"),
				"/upload/a2.png": []byte("same-bytes"),
			},
			slow:  map[string][]byte{"/upload/stuck.png": []byte("same-bytes")},
			delay: 50 * time.Millisecond,
		},
	}

	candidates := []*assetbiz.Asset{
		testAsset("a1", "/upload/a1.png", 10, now),
		testAsset("a2", "/upload/a2.png", 10, now),
		testAsset("stuck", "/upload/stuck.png", 10, now),
	}
	uc.total.Store(int64(len(candidates)))

	cfg := &settings.ScanSettings{
		DuplicateConcurrency: 4,
		DigestTimeout:        20 * time.Millisecond,
	}
	digests := uc.digestAll(context.Background(), cfg, candidates)

	// 超时的附件被排除，进度仍推进到全量
	scanned, total := uc.Progress()
	assert.Equal(t, int64(3), scanned)
	assert.Equal(t, int64(3), total)

	require.Len(t, digests, 1)
	for _, members := range digests {
		require.Len(t, members, 2)
		ids := []string{members[0].ID, members[1].ID}
		assert.ElementsMatch(t, []string{"a1", "a2"}, ids)
	}

	// 泄漏的 worker 读完剩余字节后也不得改写已返回的结果
	time.Sleep(time.Second)
	require.Len(t, digests, 1)
	for _, members := range digests {
		assert.Len(t, members, 2)
	}
}

func TestDigestDeterminism(t *testing.T) {
	uc := &DuplicateUseCase{
		logger: testLogger(t),
		fetcher: &fakeFetcher{contents: map[string][]byte{
			"/upload/a.png": []byte("stable content"),
		}},
	}
	asset := testAsset("a", "/upload/a.png", 14, time.Now())

	first, err := uc.digestAsset(context.Background(), asset)
	require.NoError(t, err)
	second, err := uc.digestAsset(context.Background(), asset)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 32)
}
