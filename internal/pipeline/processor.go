// Package pipeline 定义了文档处理与问答检索的核心流程。
package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"doc-qa-go/internal/config"
	"doc-qa-go/internal/model"
	"doc-qa-go/internal/repository"
	"doc-qa-go/pkg/lock"
	"doc-qa-go/pkg/log"

	"github.com/google/uuid"
)

// SupportedExtensions 允许上传的文件扩展名。
var SupportedExtensions = []string{".pdf", ".txt"}

// Extractor 从 PDF 或纯文本文件中提取文本。
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Embedder 为每条输入文本生成一个固定维度的向量，输出顺序与输入一致。
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex 是向量索引的抽象。Search 按余弦距离升序（最优在前）返回结果。
type VectorIndex interface {
	Upsert(ctx context.Context, chunks []model.Chunk, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, k int) ([]model.SearchHit, error)
	Delete(ctx context.Context, ids []string) error
}

// AnswerGenerator 根据问题与上下文生成回答，不可用时返回错误。
type AnswerGenerator interface {
	Answer(ctx context.Context, question, contextText string) (string, error)
}

// FileStore 保存上传的原始文件，返回存储路径。
type FileStore interface {
	Save(ctx context.Context, documentID, localPath string) (string, error)
	Remove(ctx context.Context, storagePath string) error
}

// URLSigner 由能生成临时下载链接的文件存储实现（MinIO）。
type URLSigner interface {
	PresignedURL(ctx context.Context, storagePath string, expiry time.Duration) (string, error)
}

const downloadURLExpiry = time.Hour

// Processor 封装了文档处理与问答的所有依赖和逻辑。
// 依赖由调用方在启动时构造并注入，生命周期也由调用方管理。
type Processor struct {
	extractor Extractor
	embedder  Embedder
	index     VectorIndex
	docRepo   repository.DocumentRepository
	fileStore FileStore
	answerer  AnswerGenerator
	locker    lock.Locker
	chunker   *Chunker
	cfg       config.PipelineConfig
	now       func() time.Time
}

// NewProcessor 创建一个新的 Processor 实例。
// fileStore 为 nil 时文档的存储路径即本地路径；locker 为 nil 时使用进程内锁；
// answerer 为 nil 时所有回答都走降级逻辑。
func NewProcessor(
	extractor Extractor,
	embedder Embedder,
	index VectorIndex,
	docRepo repository.DocumentRepository,
	fileStore FileStore,
	answerer AnswerGenerator,
	locker lock.Locker,
	cfg config.PipelineConfig,
) *Processor {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = DefaultMaxTopK
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.TopK > cfg.MaxTopK {
		cfg.TopK = cfg.MaxTopK
	}
	if cfg.PreviewLen <= 0 {
		cfg.PreviewLen = DefaultPreviewLen
	}
	if cfg.FallbackLen <= 0 {
		cfg.FallbackLen = DefaultFallbackLen
	}
	return &Processor{
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		docRepo:   docRepo,
		fileStore: fileStore,
		answerer:  answerer,
		locker:    locker,
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:       cfg,
		now:       time.Now,
	}
}

// CheckFormat 校验文件扩展名，只接受 .pdf 与 .txt。
func CheckFormat(fileName string) error {
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, supported := range SupportedExtensions {
		if ext == supported {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (only PDF and TXT files supported)", ErrUnsupportedFormat, fileName)
}

// ProcessUpload 处理一个已落盘的上传文件：提取 -> 清洗 -> 分句 -> 分块 -> 向量化 -> 索引 -> 保存原文件 -> 保存元数据。
// 元数据只在分块写入索引成功后保存；之后的步骤失败时会回滚已写入的分块，避免出现孤立记录。
func (p *Processor) ProcessUpload(ctx context.Context, path, fileName string) (*model.UploadResult, error) {
	if fileName == "" {
		fileName = filepath.Base(path)
	}
	if err := CheckFormat(fileName); err != nil {
		log.Warnf("[Processor] 拒绝不支持的文件类型, FileName: %s", fileName)
		return nil, err
	}

	fileMD5, err := FileMD5(path)
	if err != nil {
		log.Errorf("[Processor] 读取上传文件失败, FileName: %s, Error: %v", fileName, err)
		return nil, fmt.Errorf("%w: %s: %w", ErrExtraction, fileName, err)
	}

	documentID := uuid.NewString()
	unlock, err := p.lockDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log.Infof("[Processor] 开始处理文件, DocumentID: %s, FileName: %s", documentID, fileName)

	// 1. 提取文本
	text, err := p.extractor.Extract(ctx, path)
	if err != nil {
		log.Errorf("[Processor] 提取文本失败, FileName: %s, Error: %v", fileName, err)
		return nil, fmt.Errorf("%w: %s: %w", ErrExtraction, fileName, err)
	}
	if strings.TrimSpace(text) == "" {
		log.Warnf("[Processor] 提取的文本内容为空, 处理中止, FileName: %s", fileName)
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, fileName)
	}
	log.Infof("[Processor] 步骤1: 文本提取成功, 内容长度: %d 字符", len([]rune(text)))

	// 2. 清洗、分句、分块
	texts := p.chunker.Chunk(text)
	if len(texts) == 0 {
		log.Warnf("[Processor] 清洗后没有可用文本, 处理中止, FileName: %s", fileName)
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, fileName)
	}
	log.Infof("[Processor] 步骤2: 文本分块完成, chunkSize: %d, chunkOverlap: %d, 共 %d 个分块",
		p.chunker.budget, p.chunker.overlap, len(texts))

	chunks := make([]model.Chunk, len(texts))
	chunkIDs := make([]string, len(texts))
	for i, t := range texts {
		chunkIDs[i] = uuid.NewString()
		chunks[i] = model.Chunk{
			ID:         chunkIDs[i],
			DocumentID: documentID,
			FileName:   fileName,
			Index:      i,
			Text:       t,
		}
	}

	// 3. 向量化
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		log.Errorf("[Processor] 分块向量化失败, Error: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbedding, len(chunks), len(vectors))
	}
	log.Infof("[Processor] 步骤3: 向量化完成, 共 %d 个向量", len(vectors))

	// 4. 写入向量索引
	if err := p.index.Upsert(ctx, chunks, vectors); err != nil {
		log.Errorf("[Processor] 写入向量索引失败, Error: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrIndex, err)
	}
	log.Infof("[Processor] 步骤4: %d 个分块已写入向量索引", len(chunks))

	// 5. 保存原始文件
	storagePath := path
	if p.fileStore != nil {
		storagePath, err = p.fileStore.Save(ctx, documentID, path)
		if err != nil {
			log.Errorf("[Processor] 保存原始文件失败, 回滚索引, Error: %v", err)
			p.rollbackChunks(chunkIDs)
			return nil, fmt.Errorf("%w: %w", ErrStorage, err)
		}
	}

	// 6. 保存元数据，必须在分块存储成功之后
	uploadTime := p.now()
	doc := &model.Document{
		ID:          documentID,
		FileName:    fileName,
		UploadTime:  uploadTime,
		ChunkIDs:    chunkIDs,
		NumChunks:   len(chunkIDs),
		StoragePath: storagePath,
		FileMD5:     fileMD5,
	}
	if err := p.docRepo.Create(ctx, doc); err != nil {
		log.Errorf("[Processor] 保存文档元数据失败, 回滚索引与文件, Error: %v", err)
		p.rollbackChunks(chunkIDs)
		if p.fileStore != nil {
			p.removeFile(storagePath)
		}
		return nil, fmt.Errorf("%w: %w", ErrMetadata, err)
	}
	// 原文件已转存到别处，元数据提交后才删除本地副本
	if storagePath != path {
		removeLocalCopy(path)
	}

	log.Infof("[Processor] 文件处理成功完成, DocumentID: %s, 分块数: %d", documentID, len(chunkIDs))
	return &model.UploadResult{
		DocumentID: documentID,
		FileName:   fileName,
		ChunkIDs:   chunkIDs,
		UploadTime: model.LocalTime(uploadTime),
	}, nil
}

// Retrieve 向量化问题并检索最相关的 topK 个分块，返回完整文本与原始精度的分数。
func (p *Processor) Retrieve(ctx context.Context, question string, topK int) ([]model.RetrievalResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if topK <= 0 {
		topK = p.cfg.TopK
	}
	if topK > p.cfg.MaxTopK {
		log.Warnf("[Processor] topK %d 超过上限, 截断为 %d", topK, p.cfg.MaxTopK)
		topK = p.cfg.MaxTopK
	}

	vectors, err := p.embedder.Embed(ctx, []string{question})
	if err != nil {
		log.Errorf("[Processor] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", ErrEmbedding, len(vectors))
	}

	hits, err := p.index.Search(ctx, vectors[0], topK)
	if err != nil {
		log.Errorf("[Processor] 向量检索失败: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrIndex, err)
	}
	results := ScoreHits(hits, topK)
	log.Infof("[Processor] 检索完成, topK: %d, 命中: %d", topK, len(results))
	return results, nil
}

// AnswerQuery 检索相关分块并生成有依据的回答。
// 没有任何命中时直接返回固定回答，不调用回答生成；回答生成失败时降级为上下文预览。
func (p *Processor) AnswerQuery(ctx context.Context, question string, topK int) (*model.QueryResponse, error) {
	log.Infof("[Processor] 收到问题: '%s', topK: %d", question, topK)
	results, err := p.Retrieve(ctx, question, topK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &model.QueryResponse{Answer: NoResultAnswer, Sources: []model.Source{}}, nil
	}

	contextText := BuildContext(results)
	answer, degraded := p.generate(ctx, question, contextText)
	return &model.QueryResponse{
		Answer:   answer,
		Sources:  Present(results, p.cfg.PreviewLen),
		Degraded: degraded,
	}, nil
}

// Sources 生成对外展示的来源列表。
func (p *Processor) Sources(results []model.RetrievalResult) []model.Source {
	return Present(results, p.cfg.PreviewLen)
}

// Fallback 生成降级回答。
func (p *Processor) Fallback(contextText string) string {
	return FallbackAnswer(contextText, p.cfg.FallbackLen)
}

func (p *Processor) generate(ctx context.Context, question, contextText string) (string, bool) {
	if p.answerer == nil {
		log.Warnf("[Processor] 未配置回答生成服务, 使用降级回答")
		return p.Fallback(contextText), true
	}
	answer, err := p.answerer.Answer(ctx, question, contextText)
	if err != nil {
		log.Warnw("[Processor] 回答生成失败, 使用降级回答", "error", err)
		return p.Fallback(contextText), true
	}
	return answer, false
}

// GetDocument 按 ID 获取文档元数据。
func (p *Processor) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	doc, err := p.docRepo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadata, err)
	}
	return doc, nil
}

// FindByFileMD5 按文件内容 MD5 查找已导入的文档。
func (p *Processor) FindByFileMD5(ctx context.Context, fileMD5 string) (*model.Document, error) {
	doc, err := p.docRepo.FindByFileMD5(ctx, fileMD5)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: md5 %s", ErrDocumentNotFound, fileMD5)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadata, err)
	}
	return doc, nil
}

// DownloadURL 为文档原文件生成临时下载链接，文件存储不支持时返回空字符串。
func (p *Processor) DownloadURL(ctx context.Context, doc *model.Document) (string, error) {
	signer, ok := p.fileStore.(URLSigner)
	if !ok {
		return "", nil
	}
	url, err := signer.PresignedURL(ctx, doc.StoragePath, downloadURLExpiry)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return url, nil
}

// ListDocuments 按上传时间倒序列出全部文档。
func (p *Processor) ListDocuments(ctx context.Context) ([]model.Document, error) {
	docs, err := p.docRepo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadata, err)
	}
	return docs, nil
}

// DeleteDocument 删除文档：先删除索引中的分块，再删除原始文件与元数据记录。
func (p *Processor) DeleteDocument(ctx context.Context, id string) error {
	unlock, err := p.lockDocument(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := p.GetDocument(ctx, id)
	if err != nil {
		return err
	}

	if err := p.index.Delete(ctx, doc.ChunkIDs); err != nil {
		log.Errorf("[Processor] 删除索引分块失败, DocumentID: %s, Error: %v", id, err)
		return fmt.Errorf("%w: %w", ErrIndex, err)
	}
	if p.fileStore != nil {
		p.removeFile(doc.StoragePath)
	}
	deleted, err := p.docRepo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMetadata, err)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	log.Infof("[Processor] 文档已删除, DocumentID: %s, 分块数: %d", id, len(doc.ChunkIDs))
	return nil
}

func (p *Processor) lockDocument(ctx context.Context, id string) (func(), error) {
	unlock, err := p.locker.Lock(ctx, "document:"+id)
	if err != nil {
		log.Warnf("[Processor] 获取文档锁失败, DocumentID: %s, Error: %v", id, err)
		return nil, fmt.Errorf("%w: %s: %w", ErrDocumentBusy, id, err)
	}
	return unlock, nil
}

// rollbackChunks 使用后台上下文，即使原始请求已取消也要清理已写入的分块。
func (p *Processor) rollbackChunks(ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.index.Delete(ctx, ids); err != nil {
		log.Errorf("[Processor] 回滚索引分块失败, 分块数: %d, Error: %v", len(ids), err)
	}
}

// FileMD5 计算文件内容的 MD5 十六进制摘要。
func FileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func removeLocalCopy(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warnf("[Processor] 删除本地副本失败, Path: %s, Error: %v", path, err)
	}
}

func (p *Processor) removeFile(storagePath string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.fileStore.Remove(ctx, storagePath); err != nil {
		log.Warnf("[Processor] 删除原始文件失败, Path: %s, Error: %v", storagePath, err)
	}
}
