// Package memindex 提供一个进程内的向量索引，用于开发环境与测试。
// 数据不持久化，进程退出即丢失。
package memindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"doc-qa-go/internal/model"
)

type entry struct {
	chunk  model.Chunk
	vector []float32
	seq    uint64
}

// Index 是基于暴力余弦距离计算的内存向量索引。
type Index struct {
	mu      sync.RWMutex
	entries map[string]entry
	seq     uint64
}

// New 创建一个空索引。
func New() *Index {
	return &Index{entries: make(map[string]entry)}
}

// Upsert 写入或覆盖分块及其向量。
func (idx *Index) Upsert(ctx context.Context, chunks []model.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks 与 vectors 数量不一致: %d != %d", len(chunks), len(vectors))
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i, chunk := range chunks {
		idx.seq++
		idx.entries[chunk.ID] = entry{chunk: chunk, vector: vectors[i], seq: idx.seq}
	}
	return nil
}

// Search 返回余弦距离最小的 k 个分块，距离相同时先写入的在前。
func (idx *Index) Search(ctx context.Context, vector []float32, k int) ([]model.SearchHit, error) {
	if k <= 0 {
		return []model.SearchHit{}, nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type scored struct {
		hit model.SearchHit
		seq uint64
	}
	all := make([]scored, 0, len(idx.entries))
	for _, e := range idx.entries {
		all = append(all, scored{
			hit: model.SearchHit{Chunk: e.chunk, Distance: CosineDistance(vector, e.vector)},
			seq: e.seq,
		})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].hit.Distance != all[j].hit.Distance {
			return all[i].hit.Distance < all[j].hit.Distance
		}
		return all[i].seq < all[j].seq
	})
	if len(all) > k {
		all = all[:k]
	}

	hits := make([]model.SearchHit, len(all))
	for i, s := range all {
		hits[i] = s.hit
	}
	return hits, nil
}

// Delete 删除指定 ID 的分块，不存在的 ID 会被忽略。
func (idx *Index) Delete(ctx context.Context, ids []string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range ids {
		delete(idx.entries, id)
	}
	return nil
}

// Len 返回索引中的分块数。
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Has 判断分块是否存在。
func (idx *Index) Has(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.entries[id]
	return ok
}

// CosineDistance 返回 1 - 余弦相似度，取值范围 [0, 2]。零向量视为距离 1。
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
