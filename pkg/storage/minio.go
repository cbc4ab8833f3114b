// Package storage 提供了保存上传原始文件的实现：MinIO 对象存储与本地磁盘。
package storage

import (
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"doc-qa-go/internal/config"
	"doc-qa-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const objectPrefix = "documents"

// MinioStore 把原始文件上传到 MinIO。本地副本由调用方在元数据提交后清理。
type MinioStore struct {
	client *minio.Client
	bucket string
}

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(ctx context.Context, cfg config.MinIOConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	bucketName := cfg.BucketName
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
	return &MinioStore{client: client, bucket: bucketName}, nil
}

// ObjectName 返回文档原始文件在存储桶中的对象名。
func ObjectName(documentID, localPath string) string {
	return path.Join(objectPrefix, documentID, filepath.Base(localPath))
}

// Save 上传文件并返回对象名。
func (s *MinioStore) Save(ctx context.Context, documentID, localPath string) (string, error) {
	objectName := ObjectName(documentID, localPath)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(localPath)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.client.FPutObject(ctx, s.bucket, objectName, localPath, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("上传文件到 MinIO 失败: %w", err)
	}
	log.Infof("[Storage] 文件已上传到 MinIO, Object: %s, Size: %d", objectName, info.Size)
	return objectName, nil
}

// Remove 删除对象，对象不存在时不报错。
func (s *MinioStore) Remove(ctx context.Context, objectName string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除 MinIO 对象失败: %w", err)
	}
	return nil
}

// PresignedURL 为对象生成有时效的下载链接。
func (s *MinioStore) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	presignedURL, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, nil)
	if err != nil {
		log.Errorf("[Storage] 生成下载链接失败, Object: %s, Error: %v", objectName, err)
		return "", fmt.Errorf("生成 MinIO 下载链接失败: %w", err)
	}
	return presignedURL.String(), nil
}
