package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/memvault/backend/internal/domain/memory"
)

// fakeRepo 内存版消息账本，行为与 SQLite 仓储保持一致
type fakeRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*memory.Message

	failInsert error
	failUpdate error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{nextID: 1, rows: make(map[int64]*memory.Message)}
}

func (r *fakeRepo) Insert(msg *memory.Message) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failInsert != nil {
		return 0, memory.NewStorageError("insert message", r.failInsert)
	}
	id := r.nextID
	r.nextID++
	clone := *msg
	clone.ID = id
	r.rows[id] = &clone
	return id, nil
}

func (r *fakeRepo) Update(id int64, patch memory.Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdate != nil {
		return memory.NewStorageError("update message", r.failUpdate)
	}
	row, ok := r.rows[id]
	if !ok {
		return memory.ErrNotFound
	}
	if patch.Category != nil {
		row.Category = *patch.Category
	}
	if patch.Importance != nil {
		row.Importance = *patch.Importance
	}
	if patch.EmbeddingID != nil {
		row.EmbeddingID = *patch.EmbeddingID
	}
	return nil
}

func (r *fakeRepo) Fetch(id int64) (*memory.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (r *fakeRepo) FetchMany(filter memory.Filter, order memory.Order, limit int) ([]*memory.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*memory.Message
	for _, row := range r.rows {
		if matchesFilter(row, filter) {
			clone := *row
			out = append(out, &clone)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if order == memory.OrderImportanceDesc && a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp > b.Timestamp
		}
		return a.ID > b.ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) FetchByEmbeddingIDs(embeddingIDs []string) ([]*memory.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[string]bool, len(embeddingIDs))
	for _, id := range embeddingIDs {
		wanted[id] = true
	}

	var out []*memory.Message
	for _, row := range r.rows {
		if row.EmbeddingID != "" && wanted[row.EmbeddingID] {
			clone := *row
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepo) FetchMissingEmbeddings(limit int) ([]*memory.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*memory.Message
	for _, row := range r.rows {
		if !row.HasEmbedding() {
			clone := *row
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) Count(filter memory.Filter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if matchesFilter(row, filter) {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) CountByCategory(userID, chatID int64) ([]memory.CategoryStat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byCategory := make(map[string]*memory.CategoryStat)
	counts := make(map[string]int64)
	sums := make(map[string]int64)
	for _, row := range r.rows {
		if userID != 0 && row.UserID != userID {
			continue
		}
		if chatID != 0 && row.ChatID != chatID {
			continue
		}
		stat, ok := byCategory[row.Category]
		if !ok {
			stat = &memory.CategoryStat{Category: row.Category}
			byCategory[row.Category] = stat
		}
		stat.Total++
		counts[row.Category]++
		sums[row.Category] += int64(row.Importance)
		if row.Timestamp > stat.LastMessage {
			stat.LastMessage = row.Timestamp
		}
	}

	var out []memory.CategoryStat
	for category, stat := range byCategory {
		stat.AvgImportance = float64(sums[category]) / float64(counts[category])
		out = append(out, *stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

func (r *fakeRepo) ListEmbeddingIDs() (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64)
	for _, row := range r.rows {
		if row.HasEmbedding() {
			out[row.EmbeddingID] = row.ID
		}
	}
	return out, nil
}

func (r *fakeRepo) DuplicateEmbeddingIDs(userID, chatID int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, row := range r.rows {
		if userID != 0 && row.UserID != userID {
			continue
		}
		if chatID != 0 && row.ChatID != chatID {
			continue
		}
		if row.HasEmbedding() {
			counts[row.EmbeddingID]++
		}
	}
	var out []string
	for id, n := range counts {
		if n > 1 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func matchesFilter(row *memory.Message, filter memory.Filter) bool {
	if filter.UserID != 0 && row.UserID != filter.UserID {
		return false
	}
	if filter.ChatID != 0 && row.ChatID != filter.ChatID {
		return false
	}
	if filter.Category != "" && row.Category != filter.Category {
		return false
	}
	if filter.MinImportance != 0 && row.Importance < filter.MinImportance {
		return false
	}
	if filter.Since != 0 && row.Timestamp < filter.Since {
		return false
	}
	if filter.Until != 0 && row.Timestamp > filter.Until {
		return false
	}
	return true
}

// fakePoint 向量库中的一个点
type fakePoint struct {
	meta memory.VectorMetadata
	text string
}

// fakeIndex 内存版向量索引
// scores 预置检索得分；failUpsert / failSearch 模拟向量库不可用。
type fakeIndex struct {
	mu     sync.Mutex
	points map[string]fakePoint
	scores map[string]float32

	failUpsert  error
	failSearch  error
	failList    error
	upsertCalls int
	searchCalls int
	recreated   int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		points: make(map[string]fakePoint),
		scores: make(map[string]float32),
	}
}

func (f *fakeIndex) Upsert(ctx context.Context, embeddingID string, vector []float32, meta memory.VectorMetadata, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	if f.failUpsert != nil {
		return f.failUpsert
	}
	f.points[embeddingID] = fakePoint{meta: meta, text: text}
	return nil
}

func (f *fakeIndex) Delete(ctx context.Context, embeddingIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range embeddingIDs {
		delete(f.points, id)
	}
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, filter memory.SearchFilter, k int) ([]memory.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if f.failSearch != nil {
		return nil, f.failSearch
	}

	var hits []memory.SearchHit
	for id, point := range f.points {
		if filter.UserID != 0 && point.meta.UserID != filter.UserID {
			continue
		}
		if filter.ChatID != 0 && point.meta.ChatID != filter.ChatID {
			continue
		}
		if filter.Since != 0 && point.meta.Timestamp < filter.Since {
			continue
		}
		hits = append(hits, memory.SearchHit{EmbeddingID: id, Score: f.scores[id]})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *fakeIndex) ListRecords(ctx context.Context) ([]memory.VectorRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	var out []memory.VectorRecord
	for id, point := range f.points {
		out = append(out, memory.VectorRecord{
			EmbeddingID: id,
			MessageID:   point.meta.MessageID,
			UserID:      point.meta.UserID,
			ChatID:      point.meta.ChatID,
			Timestamp:   point.meta.Timestamp,
			ContentHash: point.meta.ContentHash,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmbeddingID < out[j].EmbeddingID })
	return out, nil
}

func (f *fakeIndex) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.points)), nil
}

func (f *fakeIndex) Recreate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recreated++
	f.points = make(map[string]fakePoint)
	return nil
}

func (f *fakeIndex) HealthCheck(ctx context.Context) bool {
	return true
}

// setScore 预置某个向量点的检索得分
func (f *fakeIndex) setScore(embeddingID string, score float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[embeddingID] = score
}

func (f *fakeIndex) has(embeddingID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.points[embeddingID]
	return ok
}

// fakeEmbedder 确定性向量化器
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vector, err := f.EmbedText(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vector)
	}
	return out, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeTokens 按词数估算 Token
type fakeTokens struct{}

func (fakeTokens) CountTokens(text string) int {
	return len(strings.Fields(text))
}

var errIndexDown = errors.New("qdrant: connection refused")
