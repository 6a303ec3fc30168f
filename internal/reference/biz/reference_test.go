package biz

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	assetbiz "github.com/timxs/storage-toolkit/internal/asset/biz"
	contentbiz "github.com/timxs/storage-toolkit/internal/content/biz"
	apperrors "github.com/timxs/storage-toolkit/internal/pkg/errors"
	"github.com/timxs/storage-toolkit/internal/pkg/logger"
	"github.com/timxs/storage-toolkit/internal/settings"
	"github.com/timxs/storage-toolkit/internal/status"
)

// memStatusStore 内存版扫描状态存取，准入条件与落库实现共用 InProgress
type memStatusStore struct {
	mu       sync.Mutex
	statuses map[string]*status.Status
}

func newMemStatusStore() *memStatusStore {
	return &memStatusStore{statuses: map[string]*status.Status{}}
}

func (m *memStatusStore) get(scanType string) *status.Status {
	st, ok := m.statuses[scanType]
	if !ok {
		st = &status.Status{ScanType: scanType, Phase: status.PhaseNone, Stats: map[string]int64{}}
		m.statuses[scanType] = st
	}
	return st
}

func (m *memStatusStore) Get(ctx context.Context, scanType string) (*status.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := *m.get(scanType)
	return &st, nil
}

func (m *memStatusStore) Begin(ctx context.Context, scanType string, timeout time.Duration) (*status.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.get(scanType)
	now := time.Now()
	if st.InProgress(timeout, now) {
		return nil, apperrors.New(apperrors.ErrScanInProgress)
	}
	st.Phase = status.PhaseScanning
	st.StartTime = &now
	st.ErrorMessage = ""
	copied := *st
	return &copied, nil
}

func (m *memStatusStore) Complete(ctx context.Context, scanType string, stats map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.get(scanType)
	now := time.Now()
	st.Phase = status.PhaseCompleted
	st.LastScanTime = &now
	st.ErrorMessage = ""
	st.Stats = stats
	return nil
}

func (m *memStatusStore) Fail(ctx context.Context, scanType string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.get(scanType)
	st.Phase = status.PhaseError
	st.ErrorMessage = message
	return nil
}

func (m *memStatusStore) Reset(ctx context.Context, scanType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[scanType] = &status.Status{ScanType: scanType, Phase: status.PhaseNone, Stats: map[string]int64{}}
	return nil
}

type memRecordRepo struct {
	mu      sync.Mutex
	records []*Record
}

func (r *memRecordRepo) MarkAllPendingDelete(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		rec.PendingDelete = true
	}
	return nil
}

func (r *memRecordRepo) DeletePendingDelete(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.records[:0]
	for _, rec := range r.records {
		if !rec.PendingDelete {
			kept = append(kept, rec)
		}
	}
	r.records = kept
	return nil
}

func (r *memRecordRepo) CreateBatch(ctx context.Context, records []*Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
	return nil
}

func (r *memRecordRepo) List(ctx context.Context, query *ListQuery) ([]*Record, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]*Record(nil), r.records...)
	return out, int64(len(out)), nil
}

func (r *memRecordRepo) GetByAssetID(ctx context.Context, assetID string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.AssetID == assetID && !rec.PendingDelete {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *memRecordRepo) Update(ctx context.Context, record *Record) error { return nil }

func (r *memRecordRepo) DeleteAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
	return nil
}

type fakeAssetRepo struct {
	assets []*assetbiz.Asset
}

func (f *fakeAssetRepo) ListAll(ctx context.Context) ([]*assetbiz.Asset, error) {
	return f.assets, nil
}

func (f *fakeAssetRepo) ListByPolicies(ctx context.Context, policyNames []string) ([]*assetbiz.Asset, error) {
	return f.assets, nil
}

func (f *fakeAssetRepo) GetByID(ctx context.Context, id string) (*assetbiz.Asset, error) {
	for _, a := range f.assets {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeAssetRepo) Count(ctx context.Context) (int64, error) {
	return int64(len(f.assets)), nil
}

type fakePolicyRepo struct{}

func (fakePolicyRepo) ListAll(ctx context.Context) ([]*assetbiz.Policy, error) { return nil, nil }

type fakeGroupRepo struct{}

func (fakeGroupRepo) ListAll(ctx context.Context) ([]*assetbiz.Group, error) { return nil, nil }

// staticProvider 把固定内容喂给采集器
type staticProvider struct {
	kind        string
	content     string
	release     chan struct{} // 非 nil 时 Scan 阻塞到通道关闭
	started     chan struct{}
	startedOnce sync.Once
}

func (p *staticProvider) Kind() string                       { return p.kind }
func (p *staticProvider) Available(ctx context.Context) bool { return true }

func (p *staticProvider) Scan(ctx context.Context, collector contentbiz.Collector) error {
	if p.started != nil {
		p.startedOnce.Do(func() { close(p.started) })
	}
	if p.release != nil {
		<-p.release
	}
	collector.AddContent(contentbiz.Source{
		SourceType:    contentbiz.SourceTypePost,
		SourceID:      "post-1",
		SourceTitle:   "Hello",
		ReferenceType: contentbiz.ReferenceTypeContent,
	}, p.content)
	return nil
}

type fakeSettings struct {
	cfg *settings.ScanSettings
}

func (f *fakeSettings) Load(ctx context.Context) *settings.ScanSettings { return f.cfg }

func testScanSettings() *settings.ScanSettings {
	return &settings.ScanSettings{
		TimeoutMinutes:       5,
		DuplicateConcurrency: 4,
		DigestTimeout:        time.Second,
		Kinds:                map[string]bool{contentbiz.KindPost: true},
	}
}

func newTestUseCase(t *testing.T, provider contentbiz.Provider, assets []*assetbiz.Asset, statusStore ScanStatusStore) (*ReferenceUseCase, *memRecordRepo) {
	t.Helper()
	log, err := logger.New(logger.DefaultConfig())
	require.NoError(t, err)

	registry := contentbiz.NewRegistry()
	if provider != nil {
		registry.Register(provider)
	}
	assetUC := assetbiz.NewAssetUseCase(&fakeAssetRepo{assets: assets}, fakePolicyRepo{}, fakeGroupRepo{}, log)

	repo := &memRecordRepo{}
	uc := NewReferenceUseCase(repo, assetUC, registry, statusStore,
		&fakeSettings{cfg: testScanSettings()}, "https://blog.example.com", log)
	return uc, repo
}

func refAsset(id, permalink string, size int64) *assetbiz.Asset {
	return &assetbiz.Asset{
		ID:          id,
		DisplayName: id,
		Permalink:   permalink,
		Size:        size,
		UploadedAt:  time.Now(),
	}
}

func TestStartScanConflict(t *testing.T) {
	provider := &staticProvider{
		kind:    contentbiz.KindPost,
		content: `<img src="/upload/2024/a.png">`,
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
	uc, _ := newTestUseCase(t, provider,
		[]*assetbiz.Asset{refAsset("a", "/upload/2024/a.png", 100)}, newMemStatusStore())

	st, err := uc.StartScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.PhaseScanning, st.Phase)

	// 第一轮扫描确认进入后再次发起，必须被进行中挡下
	<-provider.started
	_, err = uc.StartScan(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrScanInProgress))

	close(provider.release)
	require.Eventually(t, func() bool {
		st, err := uc.GetStatus(context.Background())
		return err == nil && st.Phase == status.PhaseCompleted
	}, 5*time.Second, 10*time.Millisecond)

	// 完成后允许再次启动
	_, err = uc.StartScan(context.Background())
	assert.NoError(t, err)
}

func TestReferenceScanEndToEnd(t *testing.T) {
	provider := &staticProvider{
		kind:    contentbiz.KindPost,
		content: `<img src="/upload/2024/a.png">`,
	}
	assets := []*assetbiz.Asset{
		refAsset("a", "/upload/2024/a.png", 100),
		refAsset("b", "/upload/other.png", 250),
	}
	uc, repo := newTestUseCase(t, provider, assets, newMemStatusStore())

	stats, err := uc.executeScan(context.Background(), testScanSettings())
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats[status.StatTotalAssets])
	assert.Equal(t, int64(1), stats[status.StatReferencedCount])
	assert.Equal(t, int64(1), stats[status.StatUnreferencedCount])
	assert.Equal(t, int64(250), stats[status.StatUnreferencedSize])

	require.Len(t, repo.records, 1)
	rec := repo.records[0]
	assert.Equal(t, "a", rec.AssetID)
	assert.Equal(t, 1, rec.ReferenceCount)
	require.Len(t, rec.Sources, 1)
	assert.Equal(t, "post-1", rec.Sources[0].SourceID)
}

func TestReferenceScanWithoutContent(t *testing.T) {
	assets := []*assetbiz.Asset{
		refAsset("a", "/upload/2024/a.png", 100),
		refAsset("b", "/upload/other.png", 250),
	}
	uc, repo := newTestUseCase(t, nil, assets, newMemStatusStore())

	stats, err := uc.executeScan(context.Background(), testScanSettings())
	require.NoError(t, err)

	// 没有引用内容时两个附件都算未引用
	assert.Equal(t, int64(2), stats[status.StatUnreferencedCount])
	assert.Equal(t, int64(350), stats[status.StatUnreferencedSize])
	assert.Empty(t, repo.records)
}
