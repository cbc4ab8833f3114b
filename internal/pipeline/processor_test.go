package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"doc-qa-go/internal/config"
	"doc-qa-go/internal/model"
	"doc-qa-go/internal/repository"
	"doc-qa-go/pkg/memindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExtractor 按文件名返回预置文本，并记录调用次数。
type fakeExtractor struct {
	texts map[string]string
	err   error
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, path string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.texts[filepath.Base(path)], nil
}

// letterEmbedder 用 26 个字母的频次作为向量，足以区分不同主题的句子。
type letterEmbedder struct {
	err error
}

func (e letterEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 26)
		for _, r := range strings.ToLower(t) {
			if r >= 'a' && r <= 'z' {
				v[r-'a']++
			}
		}
		out[i] = v
	}
	return out, nil
}

type fakeAnswerer struct {
	answer string
	err    error
	calls  int
}

func (a *fakeAnswerer) Answer(_ context.Context, _, _ string) (string, error) {
	a.calls++
	return a.answer, a.err
}

type memRepo struct {
	mu        sync.Mutex
	docs      map[string]model.Document
	createErr error
}

func newMemRepo() *memRepo {
	return &memRepo{docs: make(map[string]model.Document)}
}

func (r *memRepo) Create(_ context.Context, doc *model.Document) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = *doc
	return nil
}

func (r *memRepo) FindByID(_ context.Context, id string) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &doc, nil
}

func (r *memRepo) FindByFileMD5(_ context.Context, fileMD5 string) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.FileMD5 == fileMD5 {
			return &d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memRepo) FindAll(_ context.Context) ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	docs := make([]model.Document, 0, len(r.docs))
	for _, d := range r.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].UploadTime.After(docs[j].UploadTime) })
	return docs, nil
}

func (r *memRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return false, nil
	}
	delete(r.docs, id)
	return true, nil
}

type fakeStore struct {
	saved   map[string]string
	saveErr error
}

func (s *fakeStore) Save(_ context.Context, documentID, localPath string) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	if s.saved == nil {
		s.saved = make(map[string]string)
	}
	p := "documents/" + documentID + "/" + filepath.Base(localPath)
	s.saved[p] = localPath
	return p, nil
}

func (s *fakeStore) Remove(_ context.Context, storagePath string) error {
	delete(s.saved, storagePath)
	return nil
}

// signingStore 额外支持生成下载链接。
type signingStore struct {
	fakeStore
	signErr error
}

func (s *signingStore) PresignedURL(_ context.Context, storagePath string, expiry time.Duration) (string, error) {
	if s.signErr != nil {
		return "", s.signErr
	}
	return fmt.Sprintf("https://minio.local/%s?expires=%d", storagePath, int(expiry.Seconds())), nil
}

// failingIndex 包装内存索引，可按操作注入错误。
type failingIndex struct {
	*memindex.Index
	upsertErr error
	searchErr error
	lastK     int
}

func (f *failingIndex) Upsert(ctx context.Context, chunks []model.Chunk, vectors [][]float32) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	return f.Index.Upsert(ctx, chunks, vectors)
}

func (f *failingIndex) Search(ctx context.Context, vector []float32, k int) ([]model.SearchHit, error) {
	f.lastK = k
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.Index.Search(ctx, vector, k)
}

type fixture struct {
	processor *Processor
	extractor *fakeExtractor
	index     *failingIndex
	repo      *memRepo
	store     *fakeStore
	answerer  *fakeAnswerer
}

func newFixture(t *testing.T, texts map[string]string) *fixture {
	t.Helper()
	f := &fixture{
		extractor: &fakeExtractor{texts: texts},
		index:     &failingIndex{Index: memindex.New()},
		repo:      newMemRepo(),
		store:     &fakeStore{},
		answerer:  &fakeAnswerer{answer: "generated answer"},
	}
	f.processor = NewProcessor(f.extractor, letterEmbedder{}, f.index, f.repo, f.store, f.answerer, nil,
		config.PipelineConfig{ChunkSize: 30, ChunkOverlap: 5})
	return f
}

const scenarioText = "ML is great. It learns from data. Deep learning uses networks."

func writeUpload(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("placeholder"), 0o644))
	return path
}

func TestProcessUpload_Success(t *testing.T) {
	f := newFixture(t, map[string]string{"notes.txt": scenarioText})
	path := writeUpload(t, "notes.txt")

	result, err := f.processor.ProcessUpload(context.Background(), path, "notes.txt")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.NotEmpty(t, result.DocumentID)
	assert.Equal(t, "notes.txt", result.FileName)
	assert.Len(t, result.ChunkIDs, 3)
	assert.Equal(t, 3, f.index.Len())
	for _, id := range result.ChunkIDs {
		assert.True(t, f.index.Has(id))
	}

	doc, err := f.processor.GetDocument(context.Background(), result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, result.ChunkIDs, doc.ChunkIDs)
	assert.Equal(t, 3, doc.NumChunks)
	assert.Equal(t, "documents/"+result.DocumentID+"/notes.txt", doc.StoragePath)
	sum := md5.Sum([]byte("placeholder"))
	assert.Equal(t, hex.EncodeToString(sum[:]), doc.FileMD5)
	// 原文件已转存，本地副本在元数据提交后删除
	assert.NoFileExists(t, path)

	found, err := f.processor.FindByFileMD5(context.Background(), doc.FileMD5)
	require.NoError(t, err)
	assert.Equal(t, result.DocumentID, found.ID)
	_, err = f.processor.FindByFileMD5(context.Background(), "0000")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	docs, err := f.processor.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestProcessUpload_ChunksCarryOverlap(t *testing.T) {
	f := newFixture(t, map[string]string{"notes.txt": scenarioText})
	result, err := f.processor.ProcessUpload(context.Background(), writeUpload(t, "notes.txt"), "notes.txt")
	require.NoError(t, err)

	hits, err := f.index.Search(context.Background(), make([]float32, 26), 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	byIndex := make(map[int]string)
	for _, h := range hits {
		assert.Equal(t, result.DocumentID, h.Chunk.DocumentID)
		byIndex[h.Chunk.Index] = h.Chunk.Text
	}
	for i := 0; i < 3; i++ {
		assert.LessOrEqual(t, len([]rune(byIndex[i])), 35)
	}
	assert.Equal(t, "reat. It learns from data.", byIndex[1])
	assert.True(t, strings.HasPrefix(byIndex[2], "data. "))
}

func TestProcessUpload_UnsupportedFormat(t *testing.T) {
	f := newFixture(t, map[string]string{"data.csv": "a,b,c"})

	_, err := f.processor.ProcessUpload(context.Background(), writeUpload(t, "data.csv"), "data.csv")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Zero(t, f.extractor.calls, "extraction must not run for rejected formats")
	assert.Zero(t, f.index.Len())
}

func TestProcessUpload_EmptyDocument(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"whitespace only", "   "},
		{"nothing survives normalization", "@@@ ### $$$"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[string]string{"empty.txt": tt.text})
			_, err := f.processor.ProcessUpload(context.Background(), writeUpload(t, "empty.txt"), "empty.txt")
			assert.ErrorIs(t, err, ErrEmptyDocument)
			assert.Zero(t, f.index.Len())
			assert.Empty(t, f.repo.docs)
		})
	}
}

func TestProcessUpload_ExtractionFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.extractor.err = errors.New("corrupt pdf")

	_, err := f.processor.ProcessUpload(context.Background(), writeUpload(t, "broken.pdf"), "broken.pdf")
	assert.ErrorIs(t, err, ErrExtraction)
	assert.Empty(t, f.repo.docs)
}

func TestProcessUpload_EmbeddingFailure(t *testing.T) {
	f := newFixture(t, map[string]string{"notes.txt": scenarioText})
	f.processor.embedder = letterEmbedder{err: errors.New("model offline")}

	_, err := f.processor.ProcessUpload(context.Background(), writeUpload(t, "notes.txt"), "notes.txt")
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.Zero(t, f.index.Len())
	assert.Empty(t, f.repo.docs)
}

func TestProcessUpload_IndexFailureSkipsMetadata(t *testing.T) {
	f := newFixture(t, map[string]string{"notes.txt": scenarioText})
	f.index.upsertErr = errors.New("index unavailable")

	_, err := f.processor.ProcessUpload(context.Background(), writeUpload(t, "notes.txt"), "notes.txt")
	assert.ErrorIs(t, err, ErrIndex)
	assert.Empty(t, f.repo.docs)
	assert.Empty(t, f.store.saved)
}

func TestProcessUpload_StorageFailureRollsBackIndex(t *testing.T) {
	f := newFixture(t, map[string]string{"notes.txt": scenarioText})
	f.store.saveErr = errors.New("bucket missing")

	_, err := f.processor.ProcessUpload(context.Background(), writeUpload(t, "notes.txt"), "notes.txt")
	assert.ErrorIs(t, err, ErrStorage)
	assert.Zero(t, f.index.Len())
	assert.Empty(t, f.repo.docs)
}

func TestProcessUpload_MetadataFailureRollsBack(t *testing.T) {
	f := newFixture(t, map[string]string{"notes.txt": scenarioText})
	f.repo.createErr = errors.New("connection reset")
	path := writeUpload(t, "notes.txt")

	_, err := f.processor.ProcessUpload(context.Background(), path, "notes.txt")
	assert.ErrorIs(t, err, ErrMetadata)
	assert.Zero(t, f.index.Len())
	assert.Empty(t, f.store.saved)
	// 元数据未提交时本地文件必须保留，已转存的对象被回滚后文件不能丢失
	assert.FileExists(t, path)
}

func TestProcessUpload_LocalStorageKeepsFile(t *testing.T) {
	f := newFixture(t, map[string]string{"notes.txt": scenarioText})
	f.processor.fileStore = nil
	path := writeUpload(t, "notes.txt")

	result, err := f.processor.ProcessUpload(context.Background(), path, "notes.txt")
	require.NoError(t, err)
	doc, err := f.processor.GetDocument(context.Background(), result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, path, doc.StoragePath)
	assert.FileExists(t, path)
}

func TestProcessUpload_MissingFile(t *testing.T) {
	f := newFixture(t, map[string]string{"notes.txt": scenarioText})
	_, err := f.processor.ProcessUpload(context.Background(), filepath.Join(t.TempDir(), "notes.txt"), "notes.txt")
	assert.ErrorIs(t, err, ErrExtraction)
	assert.Zero(t, f.extractor.calls)
}

func TestDownloadURL(t *testing.T) {
	f := newFixture(t, nil)
	doc := &model.Document{ID: "d1", StoragePath: "documents/d1/a.pdf"}

	// fakeStore 不支持签名
	url, err := f.processor.DownloadURL(context.Background(), doc)
	require.NoError(t, err)
	assert.Empty(t, url)

	f.processor.fileStore = nil
	url, err = f.processor.DownloadURL(context.Background(), doc)
	require.NoError(t, err)
	assert.Empty(t, url)

	store := &signingStore{}
	f.processor.fileStore = store
	url, err = f.processor.DownloadURL(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "https://minio.local/documents/d1/a.pdf?expires=3600", url)

	store.signErr = errors.New("minio unreachable")
	_, err = f.processor.DownloadURL(context.Background(), doc)
	assert.ErrorIs(t, err, ErrStorage)
}

func TestAnswerQuery_EmptyIndex(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.processor.AnswerQuery(context.Background(), "What is ML?", 3)
	require.NoError(t, err)
	assert.Equal(t, NoResultAnswer, resp.Answer)
	assert.NotNil(t, resp.Sources)
	assert.Empty(t, resp.Sources)
	assert.False(t, resp.Degraded)
	assert.Zero(t, f.answerer.calls)
}

func TestAnswerQuery_UsesGeneratedAnswer(t *testing.T) {
	f := newFixture(t, map[string]string{"notes.txt": scenarioText})
	_, err := f.processor.ProcessUpload(context.Background(), writeUpload(t, "notes.txt"), "notes.txt")
	require.NoError(t, err)

	resp, err := f.processor.AnswerQuery(context.Background(), "deep learning networks", 2)
	require.NoError(t, err)
	assert.Equal(t, "generated answer", resp.Answer)
	assert.False(t, resp.Degraded)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, 1, resp.Sources[0].Rank)
	assert.Equal(t, 2, resp.Sources[1].Rank)
	assert.GreaterOrEqual(t, resp.Sources[0].Score, resp.Sources[1].Score)
	assert.Equal(t, 1, f.answerer.calls)
}

func TestAnswerQuery_DefaultTopK(t *testing.T) {
	f := newFixture(t, map[string]string{"notes.txt": scenarioText + " " + scenarioText})
	_, err := f.processor.ProcessUpload(context.Background(), writeUpload(t, "notes.txt"), "notes.txt")
	require.NoError(t, err)
	require.Greater(t, f.index.Len(), DefaultTopK)

	results, err := f.processor.Retrieve(context.Background(), "data", 0)
	require.NoError(t, err)
	assert.Len(t, results, DefaultTopK)
}

func TestRetrieve_ClampsTopK(t *testing.T) {
	f := newFixture(t, map[string]string{"notes.txt": scenarioText})
	_, err := f.processor.ProcessUpload(context.Background(), writeUpload(t, "notes.txt"), "notes.txt")
	require.NoError(t, err)

	for _, topK := range []int{DefaultMaxTopK + 1, 20000, 1 << 40} {
		results, err := f.processor.Retrieve(context.Background(), "data", topK)
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxTopK, f.index.lastK)
		assert.Len(t, results, 3)
	}

	f.processor.cfg.MaxTopK = 2
	results, err := f.processor.Retrieve(context.Background(), "data", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, f.index.lastK)
	assert.Len(t, results, 2)
}

func TestAnswerQuery_DegradesWhenGenerationFails(t *testing.T) {
	f := newFixture(t, map[string]string{"notes.txt": scenarioText})
	f.answerer.err = errors.New("rate limited")
	_, err := f.processor.ProcessUpload(context.Background(), writeUpload(t, "notes.txt"), "notes.txt")
	require.NoError(t, err)

	resp, err := f.processor.AnswerQuery(context.Background(), "What does it learn from?", 3)
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.True(t, strings.HasPrefix(resp.Answer, "Based on the document: "))
	assert.LessOrEqual(t, len([]rune(resp.Answer)), len("Based on the document: ")+DefaultFallbackLen)
	assert.Len(t, resp.Sources, 3)
}

func TestAnswerQuery_NilAnswererDegrades(t *testing.T) {
	f := newFixture(t, map[string]string{"notes.txt": scenarioText})
	f.processor.answerer = nil
	_, err := f.processor.ProcessUpload(context.Background(), writeUpload(t, "notes.txt"), "notes.txt")
	require.NoError(t, err)

	resp, err := f.processor.AnswerQuery(context.Background(), "ML", 1)
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
}

func TestAnswerQuery_EmptyQuestion(t *testing.T) {
	f := newFixture(t, nil)
	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := f.processor.AnswerQuery(context.Background(), q, 3)
		assert.ErrorIs(t, err, ErrEmptyQuestion)
	}
}

func TestAnswerQuery_SearchFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.index.searchErr = errors.New("timeout")

	_, err := f.processor.AnswerQuery(context.Background(), "anything", 3)
	assert.ErrorIs(t, err, ErrIndex)
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": scenarioText, "b.txt": "Cats sleep a lot. Dogs bark loudly."})
	ctx := context.Background()
	first, err := f.processor.ProcessUpload(ctx, writeUpload(t, "a.txt"), "a.txt")
	require.NoError(t, err)
	second, err := f.processor.ProcessUpload(ctx, writeUpload(t, "b.txt"), "b.txt")
	require.NoError(t, err)

	require.NoError(t, f.processor.DeleteDocument(ctx, first.DocumentID))

	for _, id := range first.ChunkIDs {
		assert.False(t, f.index.Has(id))
	}
	for _, id := range second.ChunkIDs {
		assert.True(t, f.index.Has(id))
	}
	_, err = f.processor.GetDocument(ctx, first.DocumentID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.Len(t, f.store.saved, 1)

	assert.ErrorIs(t, f.processor.DeleteDocument(ctx, first.DocumentID), ErrDocumentNotFound)
}

func TestDeleteDocument_Unknown(t *testing.T) {
	f := newFixture(t, nil)
	err := f.processor.DeleteDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestCheckFormat(t *testing.T) {
	assert.NoError(t, CheckFormat("report.PDF"))
	assert.NoError(t, CheckFormat("notes.txt"))
	assert.ErrorIs(t, CheckFormat("sheet.csv"), ErrUnsupportedFormat)
	assert.ErrorIs(t, CheckFormat("README"), ErrUnsupportedFormat)
}
