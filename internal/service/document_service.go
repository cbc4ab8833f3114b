// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"doc-qa-go/internal/model"
	"doc-qa-go/internal/pipeline"
	"doc-qa-go/pkg/log"
	"doc-qa-go/pkg/tasks"

	"github.com/google/uuid"
)

// ErrAsyncDisabled 未配置 Kafka 时请求异步导入。
var ErrAsyncDisabled = errors.New("async ingestion is not enabled")

// DocumentProcessor 是文档服务依赖的管道能力。
type DocumentProcessor interface {
	ProcessUpload(ctx context.Context, path, fileName string) (*model.UploadResult, error)
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	FindByFileMD5(ctx context.Context, fileMD5 string) (*model.Document, error)
	DownloadURL(ctx context.Context, doc *model.Document) (string, error)
	ListDocuments(ctx context.Context) ([]model.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// TaskEnqueuer 把导入任务投递到消息队列。
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task tasks.IngestTask) error
}

// DocumentService 接口定义了文档管理相关的业务操作。
type DocumentService interface {
	Upload(ctx context.Context, fileName string, content io.Reader) (*model.UploadResult, error)
	UploadAsync(ctx context.Context, fileName string, content io.Reader) (string, error)
	ProcessIngest(ctx context.Context, task tasks.IngestTask) error
	IngestFile(ctx context.Context, path string) error
	ListDocuments(ctx context.Context) ([]model.DocumentSummary, error)
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

type documentService struct {
	processor DocumentProcessor
	enqueuer  TaskEnqueuer
	uploadDir string
}

// NewDocumentService 创建一个新的 DocumentService 实例。enqueuer 为 nil 时不支持异步导入。
func NewDocumentService(processor DocumentProcessor, enqueuer TaskEnqueuer, uploadDir string) DocumentService {
	if uploadDir == "" {
		uploadDir = "uploads"
	}
	return &documentService{
		processor: processor,
		enqueuer:  enqueuer,
		uploadDir: uploadDir,
	}
}

// Upload 校验格式、把上传内容保存到上传目录，然后同步执行处理管道。
// 处理失败时删除已保存的文件。
func (s *documentService) Upload(ctx context.Context, fileName string, content io.Reader) (*model.UploadResult, error) {
	path, err := s.save(fileName, content)
	if err != nil {
		return nil, err
	}
	result, err := s.processor.ProcessUpload(ctx, path, fileName)
	if err != nil {
		removeQuietly(path)
		return nil, err
	}
	return result, nil
}

// UploadAsync 保存文件并投递导入任务，返回任务 ID。
func (s *documentService) UploadAsync(ctx context.Context, fileName string, content io.Reader) (string, error) {
	if s.enqueuer == nil {
		return "", ErrAsyncDisabled
	}
	path, err := s.save(fileName, content)
	if err != nil {
		return "", err
	}
	task := tasks.IngestTask{TaskID: uuid.NewString(), FilePath: path, FileName: fileName}
	if err := s.enqueuer.Enqueue(ctx, task); err != nil {
		removeQuietly(path)
		return "", fmt.Errorf("投递导入任务失败: %w", err)
	}
	log.Infof("[DocumentService] 导入任务已投递, TaskID: %s, FileName: %s", task.TaskID, fileName)
	return task.TaskID, nil
}

// ProcessIngest 处理 Kafka 中的导入任务。格式或内容错误不会因重试而改变，直接丢弃。
func (s *documentService) ProcessIngest(ctx context.Context, task tasks.IngestTask) error {
	_, err := s.processor.ProcessUpload(ctx, task.FilePath, task.FileName)
	if err == nil {
		return nil
	}
	if errors.Is(err, pipeline.ErrUnsupportedFormat) || errors.Is(err, pipeline.ErrEmptyDocument) {
		log.Warnf("[DocumentService] 导入任务无法处理, 已丢弃, TaskID: %s, Error: %v", task.TaskID, err)
		removeQuietly(task.FilePath)
		return nil
	}
	return err
}

// IngestFile 导入收件目录中的文件。内容 MD5 已存在的文件视为已导入，直接跳过，
// 因此服务重启后重新扫描收件目录不会产生重复文档。
func (s *documentService) IngestFile(ctx context.Context, path string) error {
	fileMD5, err := pipeline.FileMD5(path)
	if err != nil {
		return fmt.Errorf("读取收件文件失败: %w", err)
	}
	existing, err := s.processor.FindByFileMD5(ctx, fileMD5)
	if err == nil {
		log.Infof("[DocumentService] 文件内容已导入过, 跳过, Path: %s, DocumentID: %s", path, existing.ID)
		return nil
	}
	if !errors.Is(err, pipeline.ErrDocumentNotFound) {
		return err
	}

	result, err := s.processor.ProcessUpload(ctx, path, filepath.Base(path))
	if err != nil {
		return err
	}
	log.Infof("[DocumentService] 收件目录文件已导入, Path: %s, DocumentID: %s", path, result.DocumentID)
	return nil
}

func (s *documentService) ListDocuments(ctx context.Context) ([]model.DocumentSummary, error) {
	docs, err := s.processor.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]model.DocumentSummary, 0, len(docs))
	for i := range docs {
		summaries = append(summaries, docs[i].Summary())
	}
	return summaries, nil
}

// GetDocument 返回文档元数据；文件存于 MinIO 时附带临时下载链接。
func (s *documentService) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.processor.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	url, err := s.processor.DownloadURL(ctx, doc)
	if err != nil {
		// 下载链接生成失败不影响元数据查询
		log.Warnf("[DocumentService] 生成下载链接失败, DocumentID: %s, Error: %v", id, err)
		return doc, nil
	}
	doc.DownloadURL = url
	return doc, nil
}

func (s *documentService) DeleteDocument(ctx context.Context, id string) error {
	return s.processor.DeleteDocument(ctx, id)
}

// save 在写盘之前校验格式，文件名加 UUID 前缀以避免同名覆盖。
func (s *documentService) save(fileName string, content io.Reader) (string, error) {
	base := filepath.Base(fileName)
	if err := pipeline.CheckFormat(base); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("创建上传目录失败: %w", err)
	}

	path := filepath.Join(s.uploadDir, uuid.NewString()+"_"+base)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("创建上传文件失败: %w", err)
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		removeQuietly(path)
		return "", fmt.Errorf("保存上传文件失败: %w", err)
	}
	if err := f.Close(); err != nil {
		removeQuietly(path)
		return "", fmt.Errorf("保存上传文件失败: %w", err)
	}
	log.Infof("[DocumentService] 文件已保存: %s", path)
	return path, nil
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warnf("[DocumentService] 删除文件失败, Path: %s, Error: %v", path, err)
	}
}
