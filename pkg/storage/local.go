package storage

import (
	"context"
	"fmt"
	"os"
)

// LocalStore 把原始文件保留在上传目录中，存储路径即本地路径。
type LocalStore struct{}

// NewLocalStore 创建本地文件存储。
func NewLocalStore() *LocalStore {
	return &LocalStore{}
}

func (LocalStore) Save(_ context.Context, _ string, localPath string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("上传文件不存在: %w", err)
	}
	return localPath, nil
}

// Remove 删除本地文件，文件已不存在时不报错。
func (LocalStore) Remove(_ context.Context, storagePath string) error {
	if err := os.Remove(storagePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
